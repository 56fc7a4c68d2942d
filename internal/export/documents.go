package export

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

const pageStyle = `
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
           background: #0f0f14; color: #f0f0f5; margin: 0; }
    a { color: #6366f1; text-decoration: none; }
    a:hover { text-decoration: underline; }`

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta http-equiv="refresh" content="0; url={{.Target}}">
  <title>{{.Title}}</title>
  <style>` + pageStyle + `
    body { display: flex; align-items: center; justify-content: center; min-height: 100vh; }
  </style>
</head>
<body>
  <p>Redirecting to <a href="{{.Target}}">{{.Title}}</a>...</p>
</body>
</html>
`))

var sitemapTemplate = template.Must(template.New("sitemap").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Sitemap - {{.Source}}</title>
  <style>` + pageStyle + `
    body { padding: 40px; line-height: 1.6; }
    h1 { font-size: 24px; margin-bottom: 8px; }
    .meta { color: #606070; font-size: 14px; margin-bottom: 24px; }
    ul { list-style: none; padding: 0; }
    li { padding: 8px 0; border-bottom: 1px solid rgba(255,255,255,0.05); }
    .url { display: block; font-size: 12px; color: #606070; margin-top: 2px; }
  </style>
</head>
<body>
  <h1>Site Archive</h1>
  <p class="meta">
    Source: {{.Source}}<br>
    Archived: {{.Archived}}<br>
    Pages: {{len .Entries}} ({{.Size}})
  </p>
  <ul>
{{- range .Entries}}
    <li style="margin-left: {{.Indent}}px">
      <a href="{{.Path}}">{{.Label}}</a>
      <span class="url">{{.URL}}</span>
    </li>
{{- end}}
  </ul>
</body>
</html>
`))

type sitemapEntry struct {
	Path   string
	Label  string
	URL    string
	Indent int
}

// entryPage returns the depth-0 page, or the first page when none is at
// depth 0.
func entryPage(pages []*crawler.Page) *crawler.Page {
	for _, p := range pages {
		if p.Depth == 0 {
			return p
		}
	}
	if len(pages) == 0 {
		return nil
	}
	return pages[0]
}

func renderIndex(target, title string) ([]byte, error) {
	if title == "" {
		title = "Archive"
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, struct{ Target, Title string }{target, title}); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// renderSitemap lists pages ordered by depth then URL.
func renderSitemap(seed string, pages []*crawler.Page, pagePaths map[string]string, archived time.Time) ([]byte, error) {
	sorted := append([]*crawler.Page(nil), pages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Depth != sorted[j].Depth {
			return sorted[i].Depth < sorted[j].Depth
		}
		return sorted[i].URL < sorted[j].URL
	})

	var size int64
	entries := make([]sitemapEntry, 0, len(sorted))
	for _, p := range sorted {
		size += p.Size
		label := p.Title
		if label == "" {
			label = p.URL
		}
		entries = append(entries, sitemapEntry{
			Path:   pagePaths[p.URL],
			Label:  label,
			URL:    p.URL,
			Indent: p.Depth * 20,
		})
	}

	var buf bytes.Buffer
	err := sitemapTemplate.Execute(&buf, struct {
		Source   string
		Archived string
		Size     string
		Entries  []sitemapEntry
	}{
		Source:   orUnknown(seed),
		Archived: archived.UTC().Format("2006-01-02"),
		Size:     humanize.Bytes(uint64(max(size, 0))),
		Entries:  entries,
	})
	if err != nil {
		return nil, fmt.Errorf("render sitemap: %w", err)
	}
	return buf.Bytes(), nil
}

// renderReadme describes the archive layout as markdown text.
func renderReadme(seed string, archived time.Time, pages, assetCount int, assetBytes int64, files []string) ([]byte, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)
	md.H1("ReCURSE Website Archive")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Source URL", orUnknown(seed)},
			{"Archived on", archived.UTC().Format(time.RFC3339)},
			{"Pages", strconv.Itoa(pages)},
			{"Assets", fmt.Sprintf("%d (%s)", assetCount, humanize.Bytes(uint64(max(assetBytes, 0))))},
		},
	})
	md.PlainText("")
	md.H2("How to Use")
	md.PlainText("")
	md.OrderedList(
		"Extract this archive to a folder",
		"Open index.html in your web browser",
		"Navigate the site offline using the preserved links",
	)
	md.PlainText("")
	md.H2("Files")
	md.PlainText("")
	md.BulletList(files...)
	md.PlainText("")
	md.H2("Notes")
	md.PlainText("")
	md.BulletList(
		"External links still point to the internet",
		"Some dynamic features may not work offline",
		"The content of this archive belongs to the original website owner",
	)
	if err := md.Build(); err != nil {
		return nil, fmt.Errorf("render readme: %w", err)
	}
	return buf.Bytes(), nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
