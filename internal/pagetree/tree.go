// Package pagetree groups a flat page list into a selectable hierarchy keyed by
// URL path segment.
package pagetree

import (
	"sort"
	"strings"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// Node is one path segment in the tree.
type Node struct {
	Name     string           `json:"name"`
	Path     string           `json:"path"`
	Children map[string]*Node `json:"children"`
	Pages    []*crawler.Page  `json:"pages"`
	Count    int              `json:"count"`
	Selected bool             `json:"selected"`
}

func newNode(name, path string) *Node {
	return &Node{
		Name:     name,
		Path:     path,
		Children: make(map[string]*Node),
		Selected: true,
	}
}

// Build inserts every page into a trie rooted at "/". Pages without path
// segments attach to the root. Page pointers are shared with the input so
// toggles are visible through the flat list too.
func Build(pages []*crawler.Page) *Node {
	root := newNode("/", "/")
	for _, page := range pages {
		if page == nil {
			continue
		}
		segments := page.PathSegments
		if segments == nil {
			segments = crawler.PathSegments(page.URL)
		}
		root.Count++
		node := root
		for _, seg := range segments {
			child, ok := node.Children[seg]
			if !ok {
				child = newNode(seg, joinPath(node.Path, seg))
				node.Children[seg] = child
			}
			child.Count++
			node = child
		}
		node.Pages = append(node.Pages, page)
	}
	return root
}

// Toggle sets the selection of node, every descendant node and every page at
// or beneath it.
func Toggle(node *Node, selected bool) {
	if node == nil {
		return
	}
	node.Selected = selected
	for _, page := range node.Pages {
		page.Selected = selected
	}
	for _, child := range node.Children {
		Toggle(child, selected)
	}
}

// Clone deep-copies the tree under root so the copy can be read or toggled
// independently. Each page is copied once; the returned map resolves an
// original page to its copy.
func Clone(root *Node) (*Node, map[*crawler.Page]*crawler.Page) {
	pages := make(map[*crawler.Page]*crawler.Page)
	return cloneNode(root, pages), pages
}

func cloneNode(n *Node, pages map[*crawler.Page]*crawler.Page) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Name:     n.Name,
		Path:     n.Path,
		Children: make(map[string]*Node, len(n.Children)),
		Count:    n.Count,
		Selected: n.Selected,
	}
	if n.Pages != nil {
		out.Pages = make([]*crawler.Page, len(n.Pages))
		for i, page := range n.Pages {
			cp, ok := pages[page]
			if !ok && page != nil {
				dup := *page
				cp = &dup
				pages[page] = cp
			}
			out.Pages[i] = cp
		}
	}
	for name, child := range n.Children {
		out.Children[name] = cloneNode(child, pages)
	}
	return out
}

// Find returns the node for an absolute URL path such as "/blog/2024".
func Find(root *Node, path string) *Node {
	node := root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if node == nil {
			return nil
		}
		node = node.Children[seg]
	}
	return node
}

// SelectedURLs returns the URLs of selected pages in depth-first order with
// children visited by name.
func SelectedURLs(root *Node) []string {
	var out []string
	Walk(root, func(n *Node) {
		for _, page := range n.Pages {
			if page.Selected {
				out = append(out, page.URL)
			}
		}
	})
	return out
}

// Walk visits root and its descendants depth-first, children sorted by name.
func Walk(root *Node, fn func(*Node)) {
	if root == nil {
		return
	}
	fn(root)
	for _, child := range root.SortedChildren() {
		Walk(child, fn)
	}
}

// SortedChildren returns the children ordered by segment name.
func (n *Node) SortedChildren() []*Node {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Node, 0, len(names))
	for _, name := range names {
		out = append(out, n.Children[name])
	}
	return out
}

func joinPath(parent, seg string) string {
	if parent == "/" {
		return "/" + seg
	}
	return parent + "/" + seg
}
