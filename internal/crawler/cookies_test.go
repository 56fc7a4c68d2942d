package crawler

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCookieFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadCookies(t *testing.T) {
	t.Parallel()

	p := writeCookieFile(t, `[
		{"name":"session","value":"abc","domain":".example.com","path":"/","secure":true,"httpOnly":true,"sameSite":"lax","expires":-1},
		{"name":"pref","value":"dark","domain":"docs.example.com","expirationDate":1767225600.5,"sameSite":"no_restriction"}
	]`)
	cookies, err := LoadCookies(p)
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	session := cookies[0]
	assert.Equal(t, "example.com", session.Host())
	assert.Equal(t, "https://example.com/", session.URL())
	assert.True(t, session.ExpiresAt().IsZero())
	hc := session.HTTPCookie()
	assert.True(t, hc.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, hc.SameSite)

	pref := cookies[1]
	assert.Equal(t, "http://docs.example.com/", pref.URL())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 500_000_000, time.UTC), pref.ExpiresAt())
	assert.Equal(t, "/", pref.HTTPCookie().Path)
	assert.Equal(t, http.SameSiteNoneMode, pref.HTTPCookie().SameSite)
}

func TestLoadCookiesErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadCookies(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "read cookies")

	_, err = LoadCookies(writeCookieFile(t, `{"name":"x"}`))
	require.ErrorContains(t, err, "parse cookies")

	_, err = LoadCookies(writeCookieFile(t, `[{"name":"x","value":"1"}]`))
	require.ErrorContains(t, err, "name and domain are required")
}
