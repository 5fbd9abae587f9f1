package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"paperflow/internal/items"
	"paperflow/internal/textutil"
)

// StringList decodes either a JSON array of strings or one comma separated
// string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = StringList(textutil.Dedupe(trimAll(list)))
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = StringList(textutil.Dedupe(textutil.SplitList(single)))
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Payload is the union of the keys job kinds accept. Which keys a kind
// allows is decided by its schema.
type Payload struct {
	Source      string     `json:"source"`
	Day         string     `json:"day"`
	ExternalIDs StringList `json:"external_ids"`
	Scope       string     `json:"scope"`
	Lang        string     `json:"lang"`
	MaxItems    int        `json:"max_items"`
	PerItem     int        `json:"per_item"`
	MaxTasks    int        `json:"max_tasks"`
	Concurrency int        `json:"concurrency"`

	ExternalID string `json:"external_id"`
	Stage      string `json:"stage"`

	QMarksThreshold     *int     `json:"qmarks_threshold"`
	QMarksPerKThreshold *float64 `json:"qmarks_per_k_threshold"`
	RegenPackage        bool     `json:"regen_package"`
}

// ItemScope converts the scope keys. External ids win over scope "all",
// which wins over day. No selector leaves the day empty, which the pipeline
// resolves to the latest day.
func (p Payload) ItemScope() items.Scope {
	scope := items.Scope{Source: strings.TrimSpace(p.Source)}
	switch {
	case len(p.ExternalIDs) > 0:
		scope.ExternalIDs = p.ExternalIDs
	case strings.EqualFold(p.Scope, "all"):
		scope.All = true
	default:
		scope.Day = strings.TrimSpace(p.Day)
	}
	return scope
}

// Langs returns the requested languages; nil means every configured one.
func (p Payload) Langs() []string {
	if lang := strings.TrimSpace(p.Lang); lang != "" {
		return []string{lang}
	}
	return nil
}
