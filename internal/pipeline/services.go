package pipeline

import (
	"context"
	"io"
	"log/slog"

	"paperflow/internal/config"
	"paperflow/internal/keypool"
	"paperflow/internal/logging"
	"paperflow/internal/parser"
	"paperflow/internal/repair"
	"paperflow/internal/services/fetch"
	"paperflow/internal/services/imagegen"
	"paperflow/internal/services/llm"
)

// Downloader fetches source PDFs.
type Downloader interface {
	Download(ctx context.Context, externalID, pdfURL string) (fetch.Result, error)
}

// DocumentParser turns a PDF into markdown plus extracted images.
type DocumentParser interface {
	Parse(ctx context.Context, pdfPath, outRoot, method string) (parser.Output, error)
}

// PDFRepairer writes repaired copies of damaged PDFs.
type PDFRepairer interface {
	OutputPath(input string) string
	Repair(ctx context.Context, input string) (*repair.Result, error)
}

// Completer answers text prompts.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageDescriber captions images.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, systemPrompt string, req llm.ImageRequest) (string, error)
}

// Services bundles the external collaborators of the stages. A nil
// collaborator makes its stage fail with a configuration error.
type Services struct {
	Fetcher   Downloader
	Parser    DocumentParser
	Repairer  PDFRepairer
	Analyzer  Completer
	Captioner ImageDescriber
	Providers []imagegen.Provider
}

// NewServices wires the production collaborators from configuration.
// Parser output is copied to parserOutput. Image providers without
// credentials are left out with a warning.
func NewServices(cfg *config.Config, logger *slog.Logger, parserOutput io.Writer) Services {
	if logger == nil {
		logger = logging.NewNop()
	}
	llmExec := keypool.NewExecutor(
		keypool.NewRotator("llm", cfg.LLM.APIKeys),
		keypool.WithRequestsPerSecond(cfg.LLM.RequestsPerSecond),
		keypool.WithLogger(logging.NewComponentLogger(logger, "llm")),
	)
	svc := Services{
		Fetcher:   fetch.New(cfg.Fetch, cfg.Paths.PDFDir, logger),
		Parser:    parser.NewRunner(cfg.Parser, parser.WithOutput(parserOutput), parser.WithLogger(logging.NewComponentLogger(logger, "parser"))),
		Repairer:  repair.New(cfg.Repair, cfg.Paths.RepairCacheDir, logging.NewComponentLogger(logger, "repair")),
		Analyzer:  llm.NewClient(llm.FromConfig(cfg.LLM, cfg.LLM.AnalysisModel), llmExec),
		Captioner: llm.NewClient(llm.FromConfig(cfg.LLM, cfg.LLM.CaptionModel), llmExec),
	}
	for _, name := range cfg.Pipeline.ImageProviders {
		keys := providerKeys(cfg.Providers, name)
		if len(keys) == 0 {
			logger.Warn("image provider has no credentials; skipping",
				logging.String("provider", name),
				logging.String(logging.FieldImpact, "images from this provider are not generated"),
				logging.String(logging.FieldErrorHint, "set api_keys under [providers."+name+"]"),
			)
			continue
		}
		provider, err := imagegen.Build(name, cfg.Providers, logger)
		if err != nil {
			logger.Warn("image provider unavailable", logging.String("provider", name), logging.Error(err))
			continue
		}
		svc.Providers = append(svc.Providers, provider)
	}
	return svc
}

func providerKeys(cfg config.Providers, name string) []string {
	switch name {
	case imagegen.Seedream:
		return cfg.Seedream.APIKeys
	case imagegen.GLM:
		return cfg.GLM.APIKeys
	}
	return nil
}
