package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"paperflow/internal/items"
	"paperflow/internal/services"
	"paperflow/internal/textutil"
)

func (p *Pipeline) runOneLiner(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	if p.svc.Analyzer == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "oneliner", "run", "no analysis model configured", nil)
	}
	limit := pick(req.MaxItems, p.cfg.Pipeline.OneLinerMaxItems)
	sel, wiped, err := p.selectCandidates(ctx, stage, lang, scoped, req.Mode, limit, fieldsDone(stage, lang))
	if err != nil {
		return Summary{}, err
	}
	sum := p.runItems(ctx, stage, lang, sel, p.width(req), func(ctx context.Context, it *items.Item) (itemOutput, error) {
		abstract, source := p.abstractFor(it)
		system, user := oneLinerPrompts(lang, it.Title, abstract)
		out, err := p.svc.Analyzer.Complete(ctx, system, user)
		if err != nil {
			return itemOutput{}, fmt.Errorf("one-liner request: %w", err)
		}
		out = strings.Join(strings.Fields(out), " ")
		if out == "" {
			return itemOutput{}, errors.New("one-liner request returned empty text")
		}
		return itemOutput{
			Fields: map[items.Field]string{items.FieldOneLiner(lang): out},
			Meta: map[string]any{
				"abstract_source": source,
				"abstract_chars":  utf8.RuneCountInString(abstract),
			},
		}, nil
	})
	sum.Wiped = wiped
	return sum, nil
}

// abstractFor prefers the abstract of the parsed text and falls back to the
// listing metadata. source is "parsed", "metadata" or "none".
func (p *Pipeline) abstractFor(it *items.Item) (abstract, source string) {
	if it.RawTextPath != "" {
		if raw, err := os.ReadFile(it.RawTextPath); err == nil {
			md := textutil.Truncate(string(raw), p.cfg.Pipeline.OneLinerInputChars)
			if a := extractAbstract([]byte(md)); a != "" {
				return a, "parsed"
			}
		}
	}
	if a := metaAbstract(it.Meta); a != "" {
		return a, "metadata"
	}
	return "", "none"
}

var abstractHeading = regexp.MustCompile(`(?i)^\s*(abstract|摘\s*要)([^a-z]|$)`)

var mdParser = goldmark.New().Parser()

// extractAbstract returns the body of the first "Abstract" (or 摘要)
// section, up to the next heading of the same or a higher level. Image and
// table lines are dropped and whitespace is collapsed.
func extractAbstract(md []byte) string {
	doc := mdParser.Parse(text.NewReader(md))
	level := 0
	var parts []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			if level > 0 {
				if h.Level <= level {
					break
				}
				continue
			}
			if abstractHeading.MatchString(blockText(h, md)) {
				level = h.Level
			}
			continue
		}
		if level == 0 || n.Kind() != ast.KindParagraph {
			continue
		}
		for _, line := range strings.Split(blockText(n, md), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "![") || strings.HasPrefix(line, "|") {
				continue
			}
			parts = append(parts, line)
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
		b.WriteByte('\n')
	}
	return b.String()
}

// metaAbstract reads summary or abstract from the listing metadata, either
// at the top level or under "paper".
func metaAbstract(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	scopes := []map[string]any{meta}
	if paper, ok := meta["paper"].(map[string]any); ok {
		scopes = []map[string]any{paper, meta}
	}
	for _, m := range scopes {
		for _, key := range []string{"summary", "abstract"} {
			if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
