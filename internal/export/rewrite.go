package export

import (
	"path"
	"sort"
	"strings"
)

// A known URL is rewritten when the byte before it opens an attribute value,
// a srcset candidate or a CSS url(), and the byte after it ends the URL. A
// fragment or query suffix is kept after the rewritten path.
const (
	urlOpeners = "\"'(=,; \t\n\r"
	urlClosers = "\"')>,#?& \t\n\r"
)

// Rewriter replaces absolute page and asset URLs in captured markup with
// paths relative to the archive file being written.
type Rewriter struct {
	// targets maps an absolute URL to its archive-root-relative path.
	targets map[string]string
	// order lists the keys of targets, longest first.
	order []string
}

// NewRewriter indexes page and asset locations. Both maps go from absolute
// URL to the path of the file inside the archive, for example
// "pages/blog/index.html" or "assets/css/0123456789abcdef.css".
func NewRewriter(pagePaths, assetPaths map[string]string) *Rewriter {
	r := &Rewriter{targets: make(map[string]string, len(pagePaths)+len(assetPaths))}
	for u, p := range pagePaths {
		r.add(u, p)
	}
	for u, p := range assetPaths {
		r.add(u, p)
	}
	sort.Slice(r.order, func(i, j int) bool {
		if len(r.order[i]) != len(r.order[j]) {
			return len(r.order[i]) > len(r.order[j])
		}
		return r.order[i] < r.order[j]
	})
	return r
}

func (r *Rewriter) add(rawURL, target string) {
	if rawURL == "" || target == "" {
		return
	}
	r.put(rawURL, target)
	// Markup usually carries the entity-escaped form of query separators.
	if escaped := escapeAmp(rawURL); escaped != rawURL {
		r.put(escaped, escapeAmp(target))
	}
}

func (r *Rewriter) put(form, target string) {
	if _, ok := r.targets[form]; ok {
		return
	}
	r.targets[form] = target
	r.order = append(r.order, form)
}

// Rewrite returns html with every delimited occurrence of a known URL
// replaced by its location relative to filePath, the archive path of the
// document itself. At each position the longest known URL wins.
func (r *Rewriter) Rewrite(html, filePath string) string {
	if len(r.order) == 0 || html == "" {
		return html
	}
	present := make([]string, 0, len(r.order))
	var first [256]bool
	for _, u := range r.order {
		if strings.Contains(html, u) {
			present = append(present, u)
			first[u[0]] = true
		}
	}
	if len(present) == 0 {
		return html
	}

	dir := path.Dir(filePath)
	var b strings.Builder
	b.Grow(len(html))
	last := 0
	for i := 0; i < len(html); i++ {
		if !first[html[i]] || (i > 0 && !strings.ContainsRune(urlOpeners, rune(html[i-1]))) {
			continue
		}
		u := matchAt(html, i, present)
		if u == "" {
			continue
		}
		b.WriteString(html[last:i])
		b.WriteString(Relative(dir, r.targets[u]))
		last = i + len(u)
		i = last - 1
	}
	if last == 0 {
		return html
	}
	b.WriteString(html[last:])
	return b.String()
}

// matchAt returns the first of urls, longest first, that starts at html[i]
// and is followed by a closing byte or the end of html.
func matchAt(html string, i int, urls []string) string {
	for _, u := range urls {
		if !strings.HasPrefix(html[i:], u) {
			continue
		}
		end := i + len(u)
		if end == len(html) || strings.ContainsRune(urlClosers, rune(html[end])) {
			return u
		}
	}
	return ""
}

// Relative returns the slash-separated path from directory fromDir to target,
// both relative to the archive root.
func Relative(fromDir, target string) string {
	from := splitPath(fromDir)
	to := splitPath(target)
	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}
	parts := make([]string, 0, len(from)-common+len(to)-common)
	for range from[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	return strings.Join(parts, "/")
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func escapeAmp(s string) string {
	return strings.ReplaceAll(s, "&", "&amp;")
}
