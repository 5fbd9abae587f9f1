package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"paperflow/internal/events"
	"paperflow/internal/items"
)

func TestExtractAbstract(t *testing.T) {
	cases := []struct {
		name string
		md   string
		want string
	}{
		{
			name: "section ends at sibling heading",
			md: "# A Paper\n\n## Abstract\n\nWe propose X.\nIt works.\n\n![](images/a.jpg)\n\n" +
				"### Details\n\nMore detail.\n\n## 1 Introduction\n\nIntro text.\n",
			want: "We propose X. It works. More detail.",
		},
		{
			name: "chinese heading",
			md:   "# 摘要\n\n本文提出一种方法。\n\n| a | b |\n\n# 1 引言\n\n正文。\n",
			want: "本文提出一种方法。",
		},
		{
			name: "case insensitive with suffix",
			md:   "## ABSTRACT:\n\nShort.\n",
			want: "Short.",
		},
		{
			name: "no abstract",
			md:   "# Introduction\n\nAbstracts are elsewhere.\n",
			want: "",
		},
		{
			name: "similar word is not a match",
			md:   "# Abstraction layers\n\nNot this.\n",
			want: "",
		},
	}
	for _, tc := range cases {
		if got := extractAbstract([]byte(tc.md)); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestMetaAbstract(t *testing.T) {
	cases := map[string]string{
		`{"paper":{"summary":" nested "},"abstract":"top"}`: "nested",
		`{"abstract":"top"}`:                   "top",
		`{"summary":"","abstract":"fallback"}`: "fallback",
		`{}`:                                   "",
		`not json`:                             "",
	}
	for raw, want := range cases {
		if got := metaAbstract(json.RawMessage(raw)); got != want {
			t.Fatalf("%s: got %q, want %q", raw, got, want)
		}
	}
	if metaAbstract(nil) != "" {
		t.Fatal("expected empty abstract for missing meta")
	}
}

func TestOneLinerFillAndRegen(t *testing.T) {
	analyzer := &fakeCompleter{}
	h := newHarness(t, Services{Analyzer: analyzer})
	ctx := context.Background()

	parsed := h.addItem(t, "a", map[items.Field]string{
		items.FieldRawTextPath: h.writeParsed(t, "a", "# Paper a\n\n## Abstract\n\nParsed abstract text.\n\n## Method\n\nbody\n"),
	})
	listed, _, err := h.repo.Upsert(ctx, items.NewItem{
		Source:     h.cfg.Pipeline.Source,
		ExternalID: "b",
		Day:        testDay,
		Title:      "Paper b",
		Meta:       json.RawMessage(`{"paper":{"summary":"Listing summary."}}`),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sum, err := h.p.Run(ctx, Request{Stage: StageOneLiner, Langs: []string{"en"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 2 || analyzer.calls.Load() != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	joined := strings.Join(analyzer.prompts(), "\n---\n")
	for _, want := range []string{"Abstract: Parsed abstract text.", "Abstract: Listing summary."} {
		if !strings.Contains(joined, want) {
			t.Fatalf("prompt missing %q in %q", want, joined)
		}
	}
	if got := h.reload(t, parsed).OneLinerEN; got != "# Analysis of Paper a" {
		t.Fatalf("unexpected one-liner %q", got)
	}
	ev, _ := h.events.Latest(ctx, listed.ID, "oneliner_en")
	if ev == nil || ev.Status != events.StatusSuccess || ev.Meta["abstract_source"] != "metadata" {
		t.Fatalf("unexpected event %+v", ev)
	}

	again, err := h.p.Run(ctx, Request{Stage: StageOneLiner, Langs: []string{"en"}})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Processed != 0 || analyzer.calls.Load() != 2 {
		t.Fatalf("fill run should be a no-op, summary %+v", again)
	}

	regen, err := h.p.Run(ctx, Request{Stage: StageOneLiner, Mode: ModeRegen, Langs: []string{"en"},
		Scope: items.Scope{ExternalIDs: []string{"a"}}})
	if err != nil {
		t.Fatalf("regen Run: %v", err)
	}
	if regen.Wiped != 1 || regen.Succeeded != 1 || analyzer.calls.Load() != 3 {
		t.Fatalf("unexpected regen summary %+v", regen)
	}
	if got := h.count(t, parsed, "oneliner_en", events.StatusSuccess); got != 2 {
		t.Fatalf("expected two successes after regen, got %d", got)
	}
	if h.reload(t, parsed).OneLinerZH != "" {
		t.Fatal("zh one-liner must not be touched by an en run")
	}
}

func TestLeadInQuotesOneLiner(t *testing.T) {
	if got := leadIn("  One sentence. "); got != "> One sentence.\n\n" {
		t.Fatalf("unexpected lead-in %q", got)
	}
	if leadIn(" ") != "" {
		t.Fatal("expected no lead-in without a one-liner")
	}
}
