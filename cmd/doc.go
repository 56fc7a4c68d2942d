// Package cmd defines the recurse-archiver command line.
//
// Architecture overview:
//   - archive <url>: one breadth-first crawl in the foreground. A capture driver
//     (headless Chrome via chromedp, plain HTTP via Colly, or auto, which probes
//     the seed and picks one) renders each page,
//     the archiver follows same-origin links up to --depth and --pages and the
//     exporter writes a zip, a folder or a gs:// prefix with rewritten links,
//     manifest.json, sitemap.html and README.txt.
//   - analyze <url>: the same walk without storing content. Pages are grouped
//     into a tree keyed by URL path and sized from the observed response bodies.
//     --archive captures the tree afterwards, minus --exclude subtrees.
//   - history: lists crawls recorded in the SQLite history database.
//   - serve: the HTTP job service (internal/server). Jobs flow through a bounded
//     in-memory queue to a fixed worker pool; progress events are batched by a
//     hub and fanned out to log, Prometheus, job store and Pub/Sub sinks.
//
// Configuration comes from Viper: defaults, then an optional --config file,
// then ARCHIVER_* environment variables, then flags. Archives and the history
// database default to the XDG data home. SIGINT or SIGTERM stops a running
// crawl; whatever was captured is still exported.
package cmd
