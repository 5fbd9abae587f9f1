package config

const (
	defaultDataDir             = "~/.local/share/paperflow"
	defaultLogFormat           = "auto"
	defaultLogLevel            = "info"
	defaultWorkerMaxJobs       = 1
	defaultWorkerStaleHours    = 12
	defaultWorkerReapLimit     = 5
	defaultSource              = "hf_daily"
	defaultConcurrency         = 1
	defaultFetchMaxItems       = 50
	defaultParseMaxItems       = 10
	defaultOneLinerMaxItems    = 200
	defaultOneLinerInputChars  = 20000
	defaultAnalyzeMaxItems     = 10
	defaultAnalyzeInputChars   = 120000
	defaultCaptionMaxTasks     = 60
	defaultCaptionPerItem      = 12
	defaultCaptionContextChars = 1200
	defaultImagesMaxItems      = 5
	defaultImagesPerItem       = 3
	defaultPackageMaxItems     = 20
	defaultQualityMinLength    = 2000
	defaultQualityQMarks       = 80
	defaultQualityQMarksPerK   = 1.0
	defaultQualityQRuns        = 6
	defaultQualityMaxRun       = 6
	defaultRepairTimeout       = 300
	defaultRepairMinOutput     = 1024
	defaultParserBinary        = "mineru"
	defaultParserBackend       = "pipeline"
	defaultParserMethod        = "txt"
	defaultParserOCRMethod     = "ocr"
	defaultParserLang          = "en"
	defaultParserModelSource   = "modelscope"
	defaultParserTimeout       = 3600
	defaultFetchBaseURL        = "https://arxiv.org/pdf/"
	defaultFetchUserAgent      = "paperflow/dev"
	defaultFetchTimeout        = 120
	defaultLLMBaseURL          = "https://api.openai.com/v1"
	defaultLLMAnalysisModel    = "gpt-4o-mini"
	defaultLLMCaptionModel     = "gpt-4o-mini"
	defaultLLMTimeout          = 180
	defaultSeedreamEndpoint    = "https://ark.cn-beijing.volces.com/api/v3/images/generations"
	defaultSeedreamModel       = "doubao-seedream-4-0-250828"
	defaultSeedreamSize        = "1728x2304"
	defaultGLMEndpoint         = "https://open.bigmodel.cn/api/paas/v4/images/generations"
	defaultGLMModel            = "glm-image"
	defaultGLMSize             = "1088x1472"
	defaultGLMQuality          = "hd"
	defaultProviderTimeout     = 180
	defaultPublisher           = "paperflow"
)

// SupportedLanguages lists the languages that have output columns in the
// item store.
var SupportedLanguages = []string{"zh", "en"}

var (
	defaultLanguages      = []string{"zh", "en"}
	defaultRepairTools    = []string{"qpdf", "mutool", "gs", "pdfcpu"}
	defaultImageProviders = []string{"seedream", "glm"}
)

// Default returns a Config populated with repository defaults. Derived paths
// (database, logs, artifacts) are filled in by normalize relative to DataDir.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Worker: Worker{
			MaxJobs:    defaultWorkerMaxJobs,
			StaleHours: defaultWorkerStaleHours,
			ReapLimit:  defaultWorkerReapLimit,
		},
		Pipeline: Pipeline{
			Source:              defaultSource,
			Languages:           append([]string(nil), defaultLanguages...),
			Concurrency:         defaultConcurrency,
			FetchMaxItems:       defaultFetchMaxItems,
			ParseMaxItems:       defaultParseMaxItems,
			OneLinerMaxItems:    defaultOneLinerMaxItems,
			OneLinerInputChars:  defaultOneLinerInputChars,
			AnalyzeMaxItems:     defaultAnalyzeMaxItems,
			AnalyzeInputChars:   defaultAnalyzeInputChars,
			CaptionMaxTasks:     defaultCaptionMaxTasks,
			CaptionPerItem:      defaultCaptionPerItem,
			CaptionContextChars: defaultCaptionContextChars,
			ImagesMaxItems:      defaultImagesMaxItems,
			ImagesPerItem:       defaultImagesPerItem,
			ImageProviders:      append([]string(nil), defaultImageProviders...),
			PackageMaxItems:     defaultPackageMaxItems,
		},
		Quality: Quality{
			MinLength:  defaultQualityMinLength,
			QMarks:     defaultQualityQMarks,
			QMarksPerK: defaultQualityQMarksPerK,
			QRuns:      defaultQualityQRuns,
			MaxRun:     defaultQualityMaxRun,
		},
		Repair: Repair{
			Enabled:        true,
			Tools:          append([]string(nil), defaultRepairTools...),
			TimeoutSeconds: defaultRepairTimeout,
			MinOutputBytes: defaultRepairMinOutput,
		},
		Parser: Parser{
			Binary:         defaultParserBinary,
			Backend:        defaultParserBackend,
			Method:         defaultParserMethod,
			OCRMethod:      defaultParserOCRMethod,
			Lang:           defaultParserLang,
			ModelSource:    defaultParserModelSource,
			TimeoutSeconds: defaultParserTimeout,
		},
		Fetch: Fetch{
			BaseURL:        defaultFetchBaseURL,
			UserAgent:      defaultFetchUserAgent,
			TimeoutSeconds: defaultFetchTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			AnalysisModel:  defaultLLMAnalysisModel,
			CaptionModel:   defaultLLMCaptionModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Providers: Providers{
			Seedream: Provider{
				Endpoint:       defaultSeedreamEndpoint,
				Model:          defaultSeedreamModel,
				Size:           defaultSeedreamSize,
				TimeoutSeconds: defaultProviderTimeout,
			},
			GLM: Provider{
				Endpoint:       defaultGLMEndpoint,
				Model:          defaultGLMModel,
				Size:           defaultGLMSize,
				Quality:        defaultGLMQuality,
				TimeoutSeconds: defaultProviderTimeout,
			},
		},
		Package: Package{
			Publisher: defaultPublisher,
		},
	}
}
