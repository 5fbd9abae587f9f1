package pipeline

import (
	"fmt"
	"strings"

	"paperflow/internal/items"
)

// StageName identifies one step of the chain.
type StageName string

const (
	StageFetch    StageName = "fetch"
	StageParse    StageName = "parse"
	StageOneLiner StageName = "oneliner"
	StageAnalyze  StageName = "analyze"
	StageCaption  StageName = "caption"
	StageImages   StageName = "images"
	StagePackage  StageName = "package"
)

// Event stage names that are not chain stages.
const (
	EventPDFRepair = "pdf_repair"
	EventOCRFix    = "parse_ocr_fix"
)

// Stage is the static declaration of one chain stage.
type Stage struct {
	Name        StageName
	PerLanguage bool
	// Requires lists the item fields that must be set before the stage runs.
	Requires func(lang string) []items.Field
	// Produces lists the item fields the stage writes. Stages whose output
	// lives outside the item row (images) return nil.
	Produces func(lang string) []items.Field
}

// EventStage returns the event stage name for lang.
func (s Stage) EventStage(lang string) string {
	if s.PerLanguage {
		return string(s.Name) + "_" + lang
	}
	return string(s.Name)
}

// Missing returns the first required field absent on it, or "".
func (s Stage) Missing(it *items.Item, lang string) items.Field {
	for _, f := range s.Requires(lang) {
		if strings.TrimSpace(it.Value(f)) == "" {
			return f
		}
	}
	return ""
}

func none(string) []items.Field { return nil }

func fields(fs ...items.Field) func(string) []items.Field {
	return func(string) []items.Field { return fs }
}

var stages = []Stage{
	{
		Name:     StageFetch,
		Requires: none,
		Produces: fields(items.FieldPDFPath, items.FieldPDFSHA256),
	},
	{
		Name:     StageParse,
		Requires: fields(items.FieldPDFPath),
		Produces: fields(items.FieldRawTextPath),
	},
	{
		Name:        StageOneLiner,
		PerLanguage: true,
		Requires:    none,
		Produces:    func(lang string) []items.Field { return []items.Field{items.FieldOneLiner(lang)} },
	},
	{
		Name:        StageAnalyze,
		PerLanguage: true,
		Requires:    fields(items.FieldRawTextPath),
		Produces:    func(lang string) []items.Field { return []items.Field{items.FieldAnalysis(lang)} },
	},
	{
		Name:        StageCaption,
		PerLanguage: true,
		Requires:    fields(items.FieldRawTextPath),
		Produces:    func(lang string) []items.Field { return []items.Field{items.FieldCaptions(lang)} },
	},
	{
		Name:        StageImages,
		PerLanguage: true,
		Requires: func(lang string) []items.Field {
			return []items.Field{items.FieldRawTextPath, items.FieldAnalysis(lang)}
		},
		Produces: none,
	},
	{
		Name:        StagePackage,
		PerLanguage: true,
		Requires:    func(lang string) []items.Field { return []items.Field{items.FieldAnalysis(lang)} },
		Produces:    func(lang string) []items.Field { return []items.Field{items.FieldPackage(lang)} },
	},
}

// Stages returns the chain in dependency order.
func Stages() []Stage {
	return append([]Stage(nil), stages...)
}

// EventStages lists every event stage name of the chain for langs, in
// dependency order.
func EventStages(langs []string) []string {
	var out []string
	for _, s := range stages {
		if !s.PerLanguage {
			out = append(out, s.EventStage(""))
			continue
		}
		for _, lang := range langs {
			out = append(out, s.EventStage(lang))
		}
	}
	return out
}

// Lookup returns the declaration for name.
func Lookup(name StageName) (Stage, bool) {
	for _, s := range stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// ParseEventStage splits an event stage name such as "caption_en" into its
// chain stage and language. Language is "" for stages that are not per
// language, and also when a per-language stage is named without a suffix.
func ParseEventStage(raw string) (Stage, string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if s, ok := Lookup(StageName(raw)); ok {
		return s, "", nil
	}
	if idx := strings.LastIndex(raw, "_"); idx > 0 {
		if s, ok := Lookup(StageName(raw[:idx])); ok && s.PerLanguage {
			lang := raw[idx+1:]
			if !items.SupportedLanguage(lang) {
				return Stage{}, "", fmt.Errorf("unsupported language %q in stage %q", lang, raw)
			}
			return s, lang, nil
		}
	}
	return Stage{}, "", fmt.Errorf("unknown stage %q", raw)
}

// Mode selects fill-missing or regenerate behaviour.
type Mode string

const (
	ModeFill  Mode = "fill"
	ModeRegen Mode = "regen"
)
