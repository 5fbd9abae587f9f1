package pipeline

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"paperflow/internal/epub"
	"paperflow/internal/items"
	"paperflow/internal/services"
	"paperflow/internal/textutil"
)

var packageHeadings = map[string][3]string{
	"zh": {"解读", "论文插图", "配图"},
	"en": {"Explainer", "Figures", "Illustrations"},
}

// PackagePath is where the package for an item and language is written.
func (p *Pipeline) PackagePath(it *items.Item, lang string) string {
	return filepath.Join(p.cfg.Paths.PackageDir, lang, textutil.FileStem(it.ExternalID)+".epub")
}

func (p *Pipeline) runPackage(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	limit := pick(req.MaxItems, p.cfg.Pipeline.PackageMaxItems)
	sel, wiped, err := p.selectCandidates(ctx, stage, lang, scoped, req.Mode, limit, fieldsDone(stage, lang))
	if err != nil {
		return Summary{}, err
	}
	sum := p.runItems(ctx, stage, lang, sel, p.width(req), func(ctx context.Context, it *items.Item) (itemOutput, error) {
		return p.packageItem(ctx, it, lang)
	})
	sum.Wiped = wiped
	return sum, nil
}

func (p *Pipeline) packageItem(ctx context.Context, it *items.Item, lang string) (itemOutput, error) {
	headings, ok := packageHeadings[lang]
	if !ok {
		headings = packageHeadings["en"]
	}
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = it.ExternalID
	}
	book := epub.Book{
		Identifier: "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(it.Source+"/"+it.ExternalID+"/"+lang)).String(),
		Title:      title,
		Lang:       lang,
		Publisher:  p.cfg.Package.Publisher,
		Modified:   p.now(),
		Chapters: []epub.Chapter{{
			Title:    headings[0],
			Markdown: leadIn(it.Value(items.FieldOneLiner(lang))) + it.Value(items.FieldAnalysis(lang)),
		}},
	}

	figures := 0
	captions, err := it.Captions(lang)
	if err != nil {
		return itemOutput{}, services.Wrap(services.ErrValidation, "package", "decode captions", "", err)
	}
	if len(captions) > 0 && it.RawTextPath != "" {
		parseDir := filepath.Dir(it.RawTextPath)
		var b strings.Builder
		for _, key := range slices.Sorted(maps.Keys(captions)) {
			src := filepath.Join(parseDir, filepath.FromSlash(key))
			if !fileExists(src) {
				continue
			}
			caption := strings.TrimSpace(captions[key])
			fmt.Fprintf(&b, "![%s](%s)\n\n%s\n\n", altText(caption), key, caption)
			book.Images = append(book.Images, epub.Image{Href: key, Path: src})
			figures++
		}
		if figures > 0 {
			book.Chapters = append(book.Chapters, epub.Chapter{Title: headings[1], Markdown: b.String()})
		}
	}

	assets, err := p.items.Assets(ctx, it.ID, lang)
	if err != nil {
		return itemOutput{}, err
	}
	illustrations := 0
	var b strings.Builder
	for _, a := range assets {
		if a.Status != items.AssetGenerated || !a.Enabled || !fileExists(a.LocalPath) {
			continue
		}
		href := "illustrations/" + filepath.Base(a.LocalPath)
		fmt.Fprintf(&b, "![%s %d](%s)\n\n", a.Provider, a.Position+1, href)
		book.Images = append(book.Images, epub.Image{Href: href, Path: a.LocalPath})
		illustrations++
	}
	if illustrations > 0 {
		book.Chapters = append(book.Chapters, epub.Chapter{Title: headings[2], Markdown: b.String()})
	}

	dest := p.PackagePath(it, lang)
	if err := epub.Write(book, dest); err != nil {
		return itemOutput{}, fmt.Errorf("write package: %w", err)
	}
	var size int64
	if info, err := os.Stat(dest); err == nil {
		size = info.Size()
	}
	return itemOutput{
		Fields: map[items.Field]string{items.FieldPackage(lang): dest},
		Meta: map[string]any{
			"path":          dest,
			"bytes":         size,
			"figures":       figures,
			"illustrations": illustrations,
		},
	}, nil
}

func altText(caption string) string {
	alt := strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(caption)
	if r := []rune(alt); len(r) > 80 {
		alt = string(r[:80])
	}
	return alt
}

// leadIn renders the one-sentence summary as a quote above the analysis.
func leadIn(oneLiner string) string {
	oneLiner = strings.TrimSpace(oneLiner)
	if oneLiner == "" {
		return ""
	}
	return "> " + oneLiner + "\n\n"
}
