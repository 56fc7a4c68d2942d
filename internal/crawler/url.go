package crawler

import (
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"ref":          {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"_ga":          {},
	"_gl":          {},
	"yclid":        {},
	"wickedid":     {},
	"affiliate":    {},
}

var nonPageExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {},
	".exe": {}, ".dmg": {}, ".pkg": {}, ".deb": {}, ".rpm": {}, ".iso": {}, ".msi": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mkv": {}, ".mov": {}, ".wmv": {}, ".webm": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".css": {}, ".js": {},
}

var binaryExtensions = []string{".zip", ".exe", ".dmg", ".iso", ".mp4", ".mp3", ".pdf", ".msi"}

var htmlExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".xhtml": {},
}

var invalidPathChars = regexp.MustCompile(`[<>:"|?*\\/\x00-\x1f]`)

// URLSet is a set of normalized URLs.
type URLSet map[string]struct{}

// Add inserts the normalized form of raw.
func (s URLSet) Add(raw string) {
	s[Normalize(raw)] = struct{}{}
}

// Has reports whether the normalized form of raw is present.
func (s URLSet) Has(raw string) bool {
	_, ok := s[Normalize(raw)]
	return ok
}

// Normalize reduces a URL to its comparable form: tracking parameters and the
// fragment are removed, the host is lowercased, default ports are dropped and
// a trailing slash is trimmed unless the path is the root. Input that does not
// parse as an absolute URL is returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Host = canonicalHost(u)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false

	switch {
	case u.Path == "":
		u.Path = "/"
		u.RawPath = ""
	case u.Path != "/" && strings.HasSuffix(u.Path, "/"):
		u.Path = strings.TrimRight(u.Path, "/")
		if u.RawPath != "" {
			u.RawPath = strings.TrimRight(u.RawPath, "/")
		}
		if u.Path == "" {
			u.Path = "/"
			u.RawPath = ""
		}
	}
	return u.String()
}

// IsEligible reports whether raw may join the crawl frontier of origin.
func IsEligible(raw, origin string, visited, queued URLSet) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(originOf(u), origin) {
		return false
	}
	norm := Normalize(raw)
	if _, ok := visited[norm]; ok {
		return false
	}
	if _, ok := queued[norm]; ok {
		return false
	}
	_, skip := nonPageExtensions[strings.ToLower(path.Ext(u.Path))]
	return !skip
}

// IsBinaryLink reports whether raw points to a large binary download.
func IsBinaryLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// Origin returns scheme://host for a seed URL.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Field: "url", Value: raw, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Value: raw, Err: errors.New("scheme must be http or https")}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "url", Value: raw, Err: errors.New("host is required")}
	}
	return originOf(u), nil
}

// Domain returns the lowercased host of raw without a leading "www.".
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// PathSegments splits the URL path into its non-empty segments.
func PathSegments(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ToArchivePath maps a page URL to its relative file path inside pages/.
// Extension-less paths become directories with an index.html leaf; query
// strings are folded into the file name.
func ToArchivePath(raw string) string {
	u, err := url.Parse(Normalize(raw))
	if err != nil || u.Host == "" {
		return "page.html"
	}
	var segments []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, sanitizeSegment(seg))
	}
	if len(segments) == 0 {
		segments = []string{"index.html"}
	} else {
		last := segments[len(segments)-1]
		ext := strings.ToLower(path.Ext(last))
		switch {
		case ext == "":
			segments = append(segments, "index.html")
		default:
			if _, ok := htmlExtensions[ext]; !ok {
				segments[len(segments)-1] = last + ".html"
			}
		}
	}
	if u.RawQuery != "" {
		last := segments[len(segments)-1]
		ext := path.Ext(last)
		query := sanitizeSegment(u.RawQuery)
		segments[len(segments)-1] = strings.TrimSuffix(last, ext) + "_" + query + ext
	}
	return strings.Join(segments, "/")
}

func sanitizeSegment(seg string) string {
	return invalidPathChars.ReplaceAllString(seg, "_")
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		key := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			key = part[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if _, drop := trackingParams[strings.ToLower(key)]; drop {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + canonicalHost(u)
}

// Clean keeps only absolute http(s) links and asset URLs, drops fragments from
// links and removes exact duplicates in first-seen order.
func (x Extraction) Clean() Extraction {
	out := Extraction{Links: []string{}, Assets: []AssetRef{}}
	seenLinks := make(map[string]struct{}, len(x.Links))
	for _, raw := range x.Links {
		u, ok := httpURL(raw)
		if !ok {
			continue
		}
		u.Fragment = ""
		u.RawFragment = ""
		link := u.String()
		if _, dup := seenLinks[link]; dup {
			continue
		}
		seenLinks[link] = struct{}{}
		out.Links = append(out.Links, link)
	}
	seenAssets := make(map[string]struct{}, len(x.Assets))
	for _, ref := range x.Assets {
		if _, ok := httpURL(ref.URL); !ok {
			continue
		}
		if _, dup := seenAssets[ref.URL]; dup {
			continue
		}
		seenAssets[ref.URL] = struct{}{}
		if ref.Type == "" {
			ref.Type = AssetOther
		}
		out.Assets = append(out.Assets, ref)
	}
	return out
}

func httpURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, u.Scheme == "http" || u.Scheme == "https"
}
