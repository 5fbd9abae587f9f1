package items

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field names an output column on an item.
type Field string

const (
	FieldPDFURL      Field = "pdf_url"
	FieldPDFPath     Field = "pdf_path"
	FieldPDFSHA256   Field = "pdf_sha256"
	FieldRawTextPath Field = "raw_text_path"
)

// Languages with per-language output columns.
var Languages = []string{"zh", "en"}

// FieldAnalysis returns the analysis column for lang.
func FieldAnalysis(lang string) Field { return Field("analysis_" + lang) }

// FieldOneLiner returns the one-sentence summary column for lang.
func FieldOneLiner(lang string) Field { return Field("one_liner_" + lang) }

// FieldCaptions returns the caption map column for lang.
func FieldCaptions(lang string) Field { return Field("captions_" + lang) }

// FieldPackage returns the packaged artifact column for lang.
func FieldPackage(lang string) Field { return Field("package_" + lang) }

// Valid reports whether f maps to a column.
func (f Field) Valid() bool {
	switch f {
	case FieldPDFURL, FieldPDFPath, FieldPDFSHA256, FieldRawTextPath:
		return true
	}
	for _, lang := range Languages {
		switch f {
		case FieldOneLiner(lang), FieldAnalysis(lang), FieldCaptions(lang), FieldPackage(lang):
			return true
		}
	}
	return false
}

// SupportedLanguage reports whether lang has output columns.
func SupportedLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Item is one ingested content record.
type Item struct {
	ID          int64
	Source      string
	ExternalID  string
	Day         string
	Title       string
	PDFURL      string
	PDFPath     string
	PDFSHA256   string
	RawTextPath string
	OneLinerZH  string
	OneLinerEN  string
	AnalysisZH  string
	AnalysisEN  string
	CaptionsZH  string
	CaptionsEN  string
	PackageZH   string
	PackageEN   string
	Meta        json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Value returns the current value of an output field.
func (it *Item) Value(f Field) string {
	if it == nil {
		return ""
	}
	switch f {
	case FieldPDFURL:
		return it.PDFURL
	case FieldPDFPath:
		return it.PDFPath
	case FieldPDFSHA256:
		return it.PDFSHA256
	case FieldRawTextPath:
		return it.RawTextPath
	case FieldOneLiner("zh"):
		return it.OneLinerZH
	case FieldOneLiner("en"):
		return it.OneLinerEN
	case FieldAnalysis("zh"):
		return it.AnalysisZH
	case FieldAnalysis("en"):
		return it.AnalysisEN
	case FieldCaptions("zh"):
		return it.CaptionsZH
	case FieldCaptions("en"):
		return it.CaptionsEN
	case FieldPackage("zh"):
		return it.PackageZH
	case FieldPackage("en"):
		return it.PackageEN
	}
	return ""
}

// Label renders "external_id (id)" for logs and CLI output.
func (it *Item) Label() string {
	if it == nil {
		return ""
	}
	return fmt.Sprintf("%s (#%d)", it.ExternalID, it.ID)
}

// Captions decodes the caption map for lang. Keys are image paths relative
// to the parsed output directory.
func (it *Item) Captions(lang string) (map[string]string, error) {
	raw := it.Value(FieldCaptions(lang))
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode captions_%s for item %d: %w", lang, it.ID, err)
	}
	return out, nil
}

// Asset statuses.
const (
	AssetPlanned   = "planned"
	AssetGenerated = "generated"
	AssetFailed    = "failed"
)

// AssetKindGenerated marks synthesized images.
const AssetKindGenerated = "generated"

// Asset is one generated asset row, unique on
// (item, kind, provider, lang, position).
type Asset struct {
	ID        int64
	ItemID    int64
	Kind      string
	Provider  string
	Lang      string
	Position  int
	Status    string
	Enabled   bool
	Prompt    string
	LocalPath string
	SHA256    string
	Error     string
	Meta      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
