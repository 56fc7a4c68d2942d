package export

import (
	"net/url"
	"time"

	"github.com/JakeFAU/recurse-archiver/internal/assets"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
)

// Manifest identification.
const (
	ManifestVersion = "1.0.0"
	Generator       = "ReCURSE Website Archiver"
	Format          = "recurse-archive-v1"
)

// Manifest is the manifest.json document.
type Manifest struct {
	Version   string          `json:"version"`
	Generator string          `json:"generator"`
	Format    string          `json:"format"`
	CreatedAt time.Time       `json:"createdAt"`
	Source    ManifestSource  `json:"source"`
	Options   ManifestOptions `json:"options"`
	Stats     ManifestStats   `json:"stats"`
	Pages     []ManifestPage  `json:"pages"`
	Assets    []ManifestAsset `json:"assets"`
	Tree      *ManifestNode   `json:"tree"`
}

// ManifestSource describes the crawled site.
type ManifestSource struct {
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	CrawledAt   *time.Time `json:"crawledAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// ManifestOptions echoes the crawl limits.
type ManifestOptions struct {
	MaxDepth       int  `json:"maxDepth"`
	MaxPages       int  `json:"maxPages"`
	SameOriginOnly bool `json:"sameOriginOnly"`
}

// ManifestStats aggregates the archive contents.
type ManifestStats struct {
	TotalPages     int                       `json:"totalPages"`
	TotalAssets    int                       `json:"totalAssets"`
	ByDepth        map[int]int               `json:"byDepth"`
	ByAssetType    map[crawler.AssetType]int `json:"byAssetType"`
	TotalHTMLSize  int64                     `json:"totalHtmlSize"`
	TotalAssetSize int64                     `json:"totalAssetSize"`
}

// ManifestPage is one archived page.
type ManifestPage struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Depth     int       `json:"depth"`
	Links     int       `json:"links"`
	Assets    int       `json:"assets"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestAsset is one archived resource.
type ManifestAsset struct {
	Hash     string            `json:"hash"`
	URL      string            `json:"url"`
	Path     string            `json:"path"`
	Type     crawler.AssetType `json:"type"`
	MIMEType string            `json:"mimeType"`
	Size     int64             `json:"size"`
}

// ManifestNode is the path hierarchy of archived pages.
type ManifestNode struct {
	Name     string                   `json:"name"`
	Path     string                   `json:"path"`
	Count    int                      `json:"count"`
	Pages    []ManifestTreePage       `json:"pages,omitempty"`
	Children map[string]*ManifestNode `json:"children"`
}

// ManifestTreePage is the page summary attached to a tree node.
type ManifestTreePage struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Depth int    `json:"depth"`
}

// BuildManifest summarizes the archive written for in. pagePaths maps each
// page URL to its archive path.
func BuildManifest(in Input, pagePaths map[string]string, store *assets.Store, created time.Time) Manifest {
	m := Manifest{
		Version:   ManifestVersion,
		Generator: Generator,
		Format:    Format,
		CreatedAt: created.UTC(),
		Source: ManifestSource{
			URL:         in.SeedURL,
			Domain:      hostname(in.SeedURL),
			CrawledAt:   optionalTime(in.StartedAt),
			CompletedAt: optionalTime(in.CompletedAt),
		},
		Options: ManifestOptions{
			MaxDepth:       in.Options.MaxDepth,
			MaxPages:       in.Options.MaxPages,
			SameOriginOnly: true,
		},
		Stats: ManifestStats{
			ByDepth:     make(map[int]int),
			ByAssetType: make(map[crawler.AssetType]int),
		},
		Pages:  make([]ManifestPage, 0, len(in.Pages)),
		Assets: []ManifestAsset{},
	}

	for _, p := range in.Pages {
		m.Stats.TotalPages++
		m.Stats.ByDepth[p.Depth]++
		m.Stats.TotalHTMLSize += int64(len(p.HTML))
		m.Pages = append(m.Pages, ManifestPage{
			URL:       p.URL,
			Title:     p.Title,
			Path:      pagePaths[p.URL],
			Depth:     p.Depth,
			Links:     len(p.Links),
			Assets:    len(p.Assets),
			Size:      int64(len(p.HTML)),
			Timestamp: p.Timestamp.UTC(),
		})
	}

	if store != nil {
		for _, a := range store.All() {
			m.Stats.TotalAssets++
			m.Stats.ByAssetType[a.Type]++
			m.Stats.TotalAssetSize += a.Size
			m.Assets = append(m.Assets, ManifestAsset{
				Hash:     a.Hash,
				URL:      a.URL,
				Path:     assets.PathFor(a),
				Type:     a.Type,
				MIMEType: a.MIMEType,
				Size:     a.Size,
			})
		}
	}

	m.Tree = manifestTree(pagetree.Build(in.Pages))
	return m
}

func manifestTree(n *pagetree.Node) *ManifestNode {
	if n == nil {
		return nil
	}
	out := &ManifestNode{
		Name:     n.Name,
		Path:     n.Path,
		Count:    n.Count,
		Children: make(map[string]*ManifestNode, len(n.Children)),
	}
	for _, p := range n.Pages {
		out.Pages = append(out.Pages, ManifestTreePage{URL: p.URL, Title: p.Title, Depth: p.Depth})
	}
	for name, child := range n.Children {
		out.Children[name] = manifestTree(child)
	}
	return out
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
