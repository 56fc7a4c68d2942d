// Package assets implements content-addressable storage for downloaded
// resources. Byte-identical payloads collapse into a single Asset regardless of
// how many URLs served them.
package assets

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/hash/sha256"
)

const hashPrefixLen = 16

var urlExtPattern = regexp.MustCompile(`\.([a-z0-9]+)$`)

var mimeExtensions = map[string]string{
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"image/avif":             ".avif",
	"image/svg+xml":          ".svg",
	"image/x-icon":           ".ico",
	"text/css":               ".css",
	"application/javascript": ".js",
	"text/javascript":        ".js",
	"font/woff":              ".woff",
	"font/woff2":             ".woff2",
	"font/ttf":               ".ttf",
	"font/otf":               ".otf",
	"video/mp4":              ".mp4",
	"video/webm":             ".webm",
	"audio/mpeg":             ".mp3",
	"audio/ogg":              ".ogg",
	"audio/wav":              ".wav",
}

var extensionTypes = map[string]crawler.AssetType{
	"jpg": crawler.AssetImage, "jpeg": crawler.AssetImage, "png": crawler.AssetImage,
	"gif": crawler.AssetImage, "webp": crawler.AssetImage, "avif": crawler.AssetImage,
	"svg": crawler.AssetImage, "ico": crawler.AssetImage, "bmp": crawler.AssetImage,
	"css": crawler.AssetCSS,
	"js":  crawler.AssetJS, "mjs": crawler.AssetJS,
	"woff": crawler.AssetFont, "woff2": crawler.AssetFont, "ttf": crawler.AssetFont,
	"eot": crawler.AssetFont, "otf": crawler.AssetFont,
	"mp4": crawler.AssetMedia, "webm": crawler.AssetMedia, "ogg": crawler.AssetMedia,
	"mp3": crawler.AssetMedia, "wav": crawler.AssetMedia, "m4a": crawler.AssetMedia,
}

// Store deduplicates assets by content hash. It is safe for concurrent use.
type Store struct {
	hasher crawler.Hasher

	mu     sync.RWMutex
	byHash map[string]*crawler.Asset
	byURL  map[string]string
	order  []string
}

// New constructs a Store. A nil hasher defaults to SHA-256.
func New(hasher crawler.Hasher) *Store {
	if hasher == nil {
		hasher = sha256.New()
	}
	return &Store{
		hasher: hasher,
		byHash: make(map[string]*crawler.Asset),
		byURL:  make(map[string]string),
	}
}

// Store records data downloaded from rawURL. If the content hash is already
// known the existing asset gains rawURL as an origin and its reference count
// grows; otherwise a new asset with reference count 1 is created. The returned
// asset is a snapshot.
func (s *Store) Store(rawURL string, data []byte, declared crawler.AssetType, mimeType string) (*crawler.Asset, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("asset url is required")
	}
	digest, err := s.hasher.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("hash asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[digest]; ok {
		if _, seen := s.byURL[rawURL]; !seen {
			existing.URLs = append(existing.URLs, rawURL)
			existing.RefCount++
			s.byURL[rawURL] = digest
		}
		return snapshot(existing), nil
	}

	assetType := declared
	if assetType == "" {
		assetType = ClassifyType(rawURL, mimeType)
	}
	asset := &crawler.Asset{
		Hash:     digest,
		URL:      rawURL,
		URLs:     []string{rawURL},
		Type:     assetType,
		MIMEType: baseMediaType(mimeType),
		Data:     data,
		Size:     int64(len(data)),
		RefCount: 1,
	}
	s.byHash[digest] = asset
	s.byURL[rawURL] = digest
	s.order = append(s.order, digest)
	return snapshot(asset), nil
}

// Has reports whether rawURL has already been stored.
func (s *Store) Has(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[rawURL]
	return ok
}

// Lookup returns the asset rawURL resolved to.
func (s *Store) Lookup(rawURL string) (*crawler.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	digest, ok := s.byURL[rawURL]
	if !ok {
		return nil, false
	}
	return snapshot(s.byHash[digest]), true
}

// All returns every distinct asset in first-stored order.
func (s *Store) All() []*crawler.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*crawler.Asset, 0, len(s.order))
	for _, digest := range s.order {
		out = append(out, snapshot(s.byHash[digest]))
	}
	return out
}

// Len returns the number of distinct assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// URLPaths maps every origin URL to the export path of the asset it resolved to.
func (s *Store) URLPaths() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.byURL))
	for rawURL, digest := range s.byURL {
		out[rawURL] = PathFor(s.byHash[digest])
	}
	return out
}

// Stats summarizes the stored assets.
type Stats struct {
	Count  int
	Bytes  int64
	ByType map[crawler.AssetType]int
}

// Stats returns aggregate counts over distinct assets.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByType: make(map[crawler.AssetType]int)}
	for _, digest := range s.order {
		asset := s.byHash[digest]
		st.Count++
		st.Bytes += asset.Size
		st.ByType[asset.Type]++
	}
	return st
}

// PathFor returns the deterministic export path of asset.
func PathFor(asset *crawler.Asset) string {
	if asset == nil {
		return ""
	}
	return "assets/" + asset.Type.Folder() + "/" + sha256.Prefix(asset.Hash, hashPrefixLen) + Extension(asset.URL, asset.MIMEType)
}

// Extension infers a file extension from the URL path, falling back to the
// MIME type. It returns "" when neither is conclusive.
func Extension(rawURL, mimeType string) string {
	if ext := urlExtension(rawURL); ext != "" {
		return "." + ext
	}
	return mimeExtensions[baseMediaType(mimeType)]
}

// ClassifyType derives an asset type from the URL extension or MIME type.
func ClassifyType(rawURL, mimeType string) crawler.AssetType {
	if t, ok := extensionTypes[urlExtension(rawURL)]; ok {
		return t
	}
	media := baseMediaType(mimeType)
	switch {
	case strings.HasPrefix(media, "image/"):
		return crawler.AssetImage
	case media == "text/css":
		return crawler.AssetCSS
	case strings.Contains(media, "javascript"):
		return crawler.AssetJS
	case strings.HasPrefix(media, "font/"):
		return crawler.AssetFont
	case strings.HasPrefix(media, "video/"), strings.HasPrefix(media, "audio/"):
		return crawler.AssetMedia
	default:
		return crawler.AssetOther
	}
}

func urlExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	m := urlExtPattern.FindStringSubmatch(strings.ToLower(path.Base(u.Path)))
	if m == nil || len(m[1]) > 5 {
		return ""
	}
	return m[1]
}

func baseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return media
}

func snapshot(a *crawler.Asset) *crawler.Asset {
	if a == nil {
		return nil
	}
	cp := *a
	cp.URLs = append([]string(nil), a.URLs...)
	return &cp
}
