// Package widget holds the host-page contract: the id of the element the
// annotation tool mounts under, how a page names its project, and the
// bridge script the browser agent injects (also served to host pages).
package widget

import (
	_ "embed"
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// HostID is the id of the element the tool's overlay lives under. Events
// whose composed path crosses it belong to the tool, not the page, and the
// capture compositor leaves it out of snapshots.
const HostID = "pinpoint-widget-host"

// ProjectAttr is the script attribute carrying the project id.
const ProjectAttr = "data-project-id"

var (
	ErrAlreadyInstalled = errors.New("widget: already installed on this document")
	ErrNoProject        = errors.New("widget: no script tag with " + ProjectAttr)
)

// BridgeJS defines window.__pinpoint in the page. Evaluating it more than
// once is a no-op.
//
//go:embed bridge.js
var BridgeJS string

// ProjectID returns the project id declared by the loading script tag.
// Scripts whose src names pinpoint (or the bridge) win over any other
// script carrying the attribute.
func ProjectID(doc *html.Node) (string, error) {
	var fallback string
	var found string
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "script" {
			return true
		}
		id := strings.TrimSpace(attr(n, ProjectAttr))
		if id == "" {
			return true
		}
		src := strings.ToLower(attr(n, "src"))
		if strings.Contains(src, "pinpoint") || strings.Contains(src, "bridge.js") {
			found = id
			return false
		}
		if fallback == "" {
			fallback = id
		}
		return true
	})
	if found != "" {
		return found, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNoProject
}

// Installed reports whether the tool's host element is already present.
func Installed(doc *html.Node) bool {
	present := false
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == HostID {
			present = true
			return false
		}
		return true
	})
	return present
}

// Guard returns ErrAlreadyInstalled when doc already hosts the tool.
func Guard(doc *html.Node) error {
	if Installed(doc) {
		return ErrAlreadyInstalled
	}
	return nil
}

// walk visits nodes depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
