package crawler

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Cookie is one entry of a browser cookie export, in the JSON shape written by
// DevTools and cookie-export extensions.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
	// Expires is seconds since the epoch; -1 or 0 marks a session cookie.
	Expires float64 `json:"expires,omitempty"`
	// ExpirationDate is the extension spelling of Expires.
	ExpirationDate float64 `json:"expirationDate,omitempty"`
}

// LoadCookies reads a cookie export from path.
func LoadCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parse cookies %s: %w", path, err)
	}
	for i, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, fmt.Errorf("cookie %d: name and domain are required", i)
		}
	}
	return cookies, nil
}

// Host returns the cookie domain without its leading dot.
func (c Cookie) Host() string {
	return strings.TrimPrefix(c.Domain, ".")
}

// URL returns an address the cookie is sent to, for jars keyed by URL.
func (c Cookie) URL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	p := c.Path
	if p == "" {
		p = "/"
	}
	return scheme + "://" + c.Host() + p
}

// ExpiresAt returns the expiry, or the zero time for a session cookie.
func (c Cookie) ExpiresAt() time.Time {
	secs := c.Expires
	if secs <= 0 {
		secs = c.ExpirationDate
	}
	if secs <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// HTTPCookie converts c for net/http cookie jars.
func (c Cookie) HTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		Expires:  c.ExpiresAt(),
	}
	if hc.Path == "" {
		hc.Path = "/"
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		hc.SameSite = http.SameSiteStrictMode
	case "lax":
		hc.SameSite = http.SameSiteLaxMode
	case "none", "no_restriction":
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}
