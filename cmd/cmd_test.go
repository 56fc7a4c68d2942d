package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
)

type testApp struct {
	cfg config.Config
}

func (a testApp) Close()                   {}
func (a testApp) GetLogger() *zap.Logger   { return zap.NewNop() }
func (a testApp) GetConfig() config.Config { return a.cfg }

// withTestApp replaces the app factory for one test. Tests using it must not
// run in parallel.
func withTestApp(t *testing.T, cfg config.Config) {
	t.Helper()

	orig := newApp
	newApp = func(context.Context, *viper.Viper) (App, error) { return testApp{cfg: cfg}, nil }
	t.Cleanup(func() { newApp = orig })
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Storage.SQLitePath = filepath.Join(dir, "history.db")
	cfg.Export.OutputDir = filepath.Join(dir, "archives")
	return cfg
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><title>Home</title></head><body><a href="/about">About</a></body></html>`)
		case "/about":
			fmt.Fprint(w, `<html><head><title>About</title></head><body>About us</body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestArchiveAndHistoryCommands(t *testing.T) {
	site := newSite(t)
	cfg := testConfig(t)
	withTestApp(t, cfg)
	zipPath := filepath.Join(t.TempDir(), "site.zip")

	out, err := execute(t, "archive", site.URL+"/",
		"--driver", "http", "--delay", "0", "--no-discovery", "-o", zipPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Archived 2 pages and 0 assets")
	assert.Contains(t, out, "Output: "+zipPath)
	assert.FileExists(t, zipPath)

	out, err = execute(t, "history")
	require.NoError(t, err, out)
	assert.Contains(t, out, site.URL)
	assert.Contains(t, out, zipPath)

	out, err = execute(t, "history", "--kind", "analyze")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No crawls recorded yet")
}

func TestArchiveCommandSendsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "member" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `<html><head><title>Members</title></head><body><a href="/library">Library</a></body></html>`)
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)
	u, err := url.Parse(site.URL)
	require.NoError(t, err)

	dir := t.TempDir()
	cookies := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(cookies,
		[]byte(`[{"name":"session","value":"member","domain":"`+u.Hostname()+`","path":"/"}]`), 0o600))
	withTestApp(t, testConfig(t))

	out, err := execute(t, "archive", site.URL+"/", "--driver", "http", "--delay", "0",
		"--no-discovery", "--cookies", cookies, "-o", filepath.Join(dir, "members.zip"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "Archived 2 pages")
}

func TestAnalyzeCommandPrintsTree(t *testing.T) {
	site := newSite(t)
	withTestApp(t, testConfig(t))

	out, err := execute(t, "analyze", site.URL+"/", "--driver", "http", "--depth", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Found 2 pages")
	assert.Contains(t, out, "  about  1 page")
}

func TestAnalyzeCommandRejectsUnknownExclude(t *testing.T) {
	site := newSite(t)
	withTestApp(t, testConfig(t))

	_, err := execute(t, "analyze", site.URL+"/", "--driver", "http", "--exclude", "/missing")
	require.ErrorContains(t, err, "no analyzed pages under /missing")
}

func TestArchiveCommandRequiresURL(t *testing.T) {
	withTestApp(t, testConfig(t))

	_, err := execute(t, "archive")
	require.Error(t, err)
}

func TestApplyArchiveFlags(t *testing.T) {
	t.Parallel()

	cmd := newArchiveCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--depth", "0", "--pages", "7", "--delay", "250", "--timeout", "1000",
		"--no-css", "--no-media", "--no-discovery", "-o", "out.zip",
	}))
	opts := crawler.Options{
		MaxDepth:       3,
		MaxPages:       50,
		SmartDiscovery: true,
		IncludeAssets:  crawler.AllAssets(),
	}
	require.NoError(t, applyArchiveFlags(cmd.Flags(), &opts))

	assert.Equal(t, 0, opts.MaxDepth)
	assert.Equal(t, 7, opts.MaxPages)
	assert.Equal(t, 250*time.Millisecond, opts.Delay)
	assert.Equal(t, time.Second, opts.Timeout)
	assert.Equal(t, "out.zip", opts.OutputPath)
	assert.False(t, opts.SmartDiscovery)
	assert.Equal(t, crawler.IncludeAssets{Images: true, JS: true, Fonts: true}, opts.IncludeAssets)
}

func TestApplyArchiveFlagsKeepsDefaults(t *testing.T) {
	t.Parallel()

	cmd := newArchiveCmd()
	require.NoError(t, cmd.Flags().Parse(nil))
	opts := crawler.Options{MaxDepth: 3, MaxPages: 50, Delay: time.Second, SmartDiscovery: true}
	want := opts
	require.NoError(t, applyArchiveFlags(cmd.Flags(), &opts))
	assert.Equal(t, want, opts)
}

func TestApplyCaptureFlags(t *testing.T) {
	t.Parallel()

	cmd := newAnalyzeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--driver", "http", "--visible", "-c", "cookies.json"}))
	capture := config.CaptureConfig{Driver: config.DriverChromedp, Headless: true}
	require.NoError(t, applyCaptureFlags(cmd.Flags(), &capture))
	assert.Equal(t, config.CaptureConfig{Driver: config.DriverHTTP, Headless: false, CookiesFile: "cookies.json"}, capture)
}

func sizedPage(url string, size int64) *crawler.Page {
	return &crawler.Page{URL: url, Size: size, Selected: true}
}

func TestPrintTree(t *testing.T) {
	t.Parallel()

	root := pagetree.Build([]*crawler.Page{
		sizedPage("https://example.com/", 100),
		sizedPage("https://example.com/about", 50),
		sizedPage("https://example.com/blog", 70),
		sizedPage("https://example.com/blog/post", 30),
	})
	require.NoError(t, excludePaths(root, []string{"/blog"}))

	var out bytes.Buffer
	printTree(&out, root)
	assert.Equal(t, "/  4 pages, 250 B\n"+
		"  about  1 page, 50 B\n"+
		"  blog  2 pages, 100 B  (excluded)\n"+
		"    post  1 page, 30 B  (excluded)\n", out.String())
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, pagetree.SelectedURLs(root))
}

func TestPrintResult(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printResult(&out, &crawler.Result{
		Pages:      1234,
		Assets:     1,
		TotalBytes: 1_500_000,
		Errors:     2,
		OutputPath: "/tmp/example.com_2025-01-01.zip",
		Duration:   1500 * time.Millisecond,
		Stopped:    true,
	})
	assert.Equal(t, "Archived 1,234 pages and 1 asset (1.5 MB) in 1.5s\n"+
		"2 pages could not be captured\n"+
		"Stopped early; the archive holds what was captured so far\n"+
		"Output: /tmp/example.com_2025-01-01.zip\n", out.String())
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printHistory(&out, []crawler.CrawlRecord{{
		JobID:     "job-1",
		Kind:      crawler.JobKindArchive,
		SeedURL:   "https://example.com/",
		StartedAt: now.Add(-2 * time.Hour),
		Counters:  crawler.Counters{Pages: 3, TotalBytes: 2048},
		Stopped:   true,
	}}, now)
	assert.Contains(t, out.String(), "2 hours ago")
	assert.Contains(t, out.String(), "https://example.com/")
	assert.Contains(t, out.String(), "2.0 kB")
	assert.Contains(t, out.String(), "- (stopped)")
}
