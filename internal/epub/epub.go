package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Chapter is one markdown section of the book.
type Chapter struct {
	Title    string
	Markdown string
}

// Image is a file bundled into the archive. Href is the path chapters use to
// reference it, relative to the chapter directory (for example
// "images/fig1.png").
type Image struct {
	Href string
	Path string
}

// Book describes one package.
type Book struct {
	Identifier string
	Title      string
	Lang       string
	Publisher  string
	Modified   time.Time
	Chapters   []Chapter
	Images     []Image
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

// Write renders b and stores the archive at dest, replacing any existing
// file only once the archive is complete.
func Write(b Book, dest string) error {
	if len(b.Chapters) == 0 {
		return errors.New("epub: book has no chapters")
	}
	if b.Identifier == "" {
		b.Identifier = "urn:uuid:" + uuid.NewString()
	}
	if b.Lang == "" {
		b.Lang = "en"
	}
	if b.Modified.IsZero() {
		b.Modified = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("epub: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("epub: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeArchive(tmp, b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("epub: close: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("epub: rename: %w", err)
	}
	return nil
}

type manifestEntry struct {
	ID        string
	Href      string
	MediaType string
}

type chapterDoc struct {
	ID    string
	Href  string
	Title string
}

func writeArchive(w io.Writer, b Book) error {
	zw := zip.NewWriter(w)

	// The mimetype entry must come first and be stored uncompressed.
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("epub: write mimetype: %w", err)
	}
	if _, err := io.WriteString(mw, "application/epub+zip"); err != nil {
		return fmt.Errorf("epub: write mimetype: %w", err)
	}
	if err := writeEntry(zw, "META-INF/container.xml", []byte(containerXML)); err != nil {
		return err
	}

	var chapters []chapterDoc
	for i, ch := range b.Chapters {
		var body bytes.Buffer
		if err := markdown.Convert([]byte(ch.Markdown), &body); err != nil {
			return fmt.Errorf("epub: render chapter %d: %w", i+1, err)
		}
		doc := chapterDoc{
			ID:    fmt.Sprintf("ch%02d", i+1),
			Href:  fmt.Sprintf("ch%02d.xhtml", i+1),
			Title: ch.Title,
		}
		var page bytes.Buffer
		if err := chapterTemplate.Execute(&page, map[string]any{
			"Lang":  b.Lang,
			"Title": ch.Title,
			"Body":  body.String(),
		}); err != nil {
			return fmt.Errorf("epub: chapter template: %w", err)
		}
		if err := writeEntry(zw, "OEBPS/"+doc.Href, page.Bytes()); err != nil {
			return err
		}
		chapters = append(chapters, doc)
	}

	var manifest []manifestEntry
	for i, img := range b.Images {
		href := path.Clean(filepath.ToSlash(img.Href))
		data, err := os.ReadFile(img.Path)
		if err != nil {
			return fmt.Errorf("epub: read image %s: %w", img.Path, err)
		}
		if err := writeEntry(zw, "OEBPS/"+href, data); err != nil {
			return err
		}
		manifest = append(manifest, manifestEntry{
			ID:        fmt.Sprintf("img%03d", i+1),
			Href:      href,
			MediaType: mediaType(href),
		})
	}

	var nav bytes.Buffer
	if err := navTemplate.Execute(&nav, map[string]any{
		"Lang":     b.Lang,
		"Title":    b.Title,
		"Chapters": chapters,
	}); err != nil {
		return fmt.Errorf("epub: nav template: %w", err)
	}
	if err := writeEntry(zw, "OEBPS/nav.xhtml", nav.Bytes()); err != nil {
		return err
	}

	var opf bytes.Buffer
	if err := packageTemplate.Execute(&opf, map[string]any{
		"Identifier": b.Identifier,
		"Title":      b.Title,
		"Lang":       b.Lang,
		"Publisher":  b.Publisher,
		"Modified":   b.Modified.UTC().Format("2006-01-02T15:04:05Z"),
		"Chapters":   chapters,
		"Images":     manifest,
	}); err != nil {
		return fmt.Errorf("epub: package template: %w", err)
	}
	if err := writeEntry(zw, "OEBPS/content.opf", opf.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("epub: finish archive: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("epub: create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("epub: write %s: %w", name, err)
	}
	return nil
}

func mediaType(href string) string {
	switch strings.ToLower(path.Ext(href)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "image/png"
	}
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

var funcs = template.FuncMap{"x": escape}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

var chapterTemplate = template.Must(template.New("chapter").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="{{x .Lang}}" lang="{{x .Lang}}">
<head><meta charset="UTF-8"/><title>{{x .Title}}</title></head>
<body>
{{.Body}}</body>
</html>
`))

var navTemplate = template.Must(template.New("nav").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops" xml:lang="{{x .Lang}}" lang="{{x .Lang}}">
<head><meta charset="UTF-8"/><title>{{x .Title}}</title></head>
<body>
<nav epub:type="toc" id="toc">
<h1>{{x .Title}}</h1>
<ol>
{{range .Chapters}}<li><a href="{{x .Href}}">{{x .Title}}</a></li>
{{end}}</ol>
</nav>
</body>
</html>
`))

var packageTemplate = template.Must(template.New("opf").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid" xml:lang="{{x .Lang}}">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="bookid">{{x .Identifier}}</dc:identifier>
    <dc:title>{{x .Title}}</dc:title>
    <dc:language>{{x .Lang}}</dc:language>
{{if .Publisher}}    <dc:publisher>{{x .Publisher}}</dc:publisher>
{{end}}    <meta property="dcterms:modified">{{.Modified}}</meta>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
{{range .Chapters}}    <item id="{{.ID}}" href="{{x .Href}}" media-type="application/xhtml+xml"/>
{{end}}{{range .Images}}    <item id="{{.ID}}" href="{{x .Href}}" media-type="{{.MediaType}}"/>
{{end}}  </manifest>
  <spine>
{{range .Chapters}}    <itemref idref="{{.ID}}"/>
{{end}}  </spine>
</package>
`))
