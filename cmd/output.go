package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/recurse-archiver/internal/archiver"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// consoleEmitter prints one line per page and per failure.
func consoleEmitter(w io.Writer) progress.Emitter {
	return progress.EmitterFunc(func(evt progress.Event) {
		switch p := evt.Payload.(type) {
		case progress.SitemapProcessing:
			fmt.Fprintf(w, "sitemap  %s\n", p.URL)
		case progress.PageCaptured:
			fmt.Fprintf(w, "[%d/%d] %s\n", p.Downloaded, p.Discovered, p.URL)
		case progress.PageAnalyzed:
			fmt.Fprintf(w, "[%d] %s (%s)\n", p.Total, p.URL, humanBytes(p.Size))
		case progress.VisitFailed:
			fmt.Fprintf(w, "error    %s: %s\n", p.URL, p.Message)
		}
	})
}

func printResult(w io.Writer, res *crawler.Result) {
	fmt.Fprintf(w, "Archived %s and %s (%s) in %s\n",
		plural(res.Pages, "page"),
		plural(res.Assets, "asset"),
		humanBytes(res.TotalBytes),
		res.Duration.Round(time.Millisecond),
	)
	if res.Errors > 0 {
		fmt.Fprintf(w, "%s could not be captured\n", plural(res.Errors, "page"))
	}
	if res.Stopped {
		fmt.Fprintln(w, "Stopped early; the archive holds what was captured so far")
	}
	fmt.Fprintf(w, "Output: %s\n", res.OutputPath)
}

func printAnalysis(w io.Writer, res *archiver.AnalyzeResult) {
	fmt.Fprintf(w, "Found %s, %s total, in %s\n",
		plural(res.Total, "page"),
		humanBytes(res.TotalSize),
		res.Duration.Round(time.Millisecond),
	)
	if res.Stopped {
		fmt.Fprintln(w, "Stopped early; the tree is incomplete")
	}
	printTree(w, res.Tree)
}

// printTree writes one indented line per node, children sorted by name.
// Deselected subtrees are marked.
func printTree(w io.Writer, root *pagetree.Node) {
	sizes := make(map[*pagetree.Node]int64)
	subtreeSize(root, sizes)
	pagetree.Walk(root, func(n *pagetree.Node) {
		depth := strings.Count(strings.Trim(n.Path, "/"), "/")
		if n.Path != "/" {
			depth++
		}
		marker := ""
		if !n.Selected {
			marker = "  (excluded)"
		}
		fmt.Fprintf(w, "%s%s  %s, %s%s\n",
			strings.Repeat("  ", depth),
			n.Name,
			plural(n.Count, "page"),
			humanBytes(sizes[n]),
			marker,
		)
	})
}

func subtreeSize(n *pagetree.Node, sizes map[*pagetree.Node]int64) int64 {
	if n == nil {
		return 0
	}
	var total int64
	for _, p := range n.Pages {
		total += p.Size
	}
	for _, child := range n.Children {
		total += subtreeSize(child, sizes)
	}
	sizes[n] = total
	return total
}

func humanBytes(n int64) string {
	return humanize.Bytes(uint64(max(n, 0)))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}
