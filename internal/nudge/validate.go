package nudge

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// readsMarker opens the link section of a well-formed nudge.
const readsMarker = "Helpful reads:"

const (
	minLinks = 2
	maxLinks = 4
)

// ValidateStructure checks a nudge message against its structural
// contract: an intro paragraph, then a "Helpful reads:" line, then a
// bullet list of 2 to 4 markdown links. The message is parsed as
// markdown rather than pattern-matched so link syntax is checked for
// real.
func ValidateStructure(message string) error {
	src := []byte(message)
	doc := goldmark.New().Parser().Parse(gtext.NewReader(src))

	var introSeen, markerSeen bool
	linkItems := 0

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Paragraph:
			text := strings.TrimSpace(nodeText(node, src))
			if strings.HasPrefix(text, readsMarker) {
				markerSeen = true
			} else if !markerSeen && text != "" {
				introSeen = true
			}

		case *ast.List:
			if !markerSeen {
				continue
			}
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				if containsLink(item) {
					linkItems++
				}
			}
		}
	}

	if !introSeen {
		return fmt.Errorf("missing intro paragraph")
	}
	if !markerSeen {
		return fmt.Errorf("missing %q section", readsMarker)
	}
	if linkItems < minLinks || linkItems > maxLinks {
		return fmt.Errorf("expected %d to %d bullet links, found %d", minLinks, maxLinks, linkItems)
	}
	return nil
}

// nodeText collects the plain text under a node.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// containsLink reports whether any descendant is a markdown link.
func containsLink(n ast.Node) bool {
	found := false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c.(type) {
		case *ast.Link, *ast.AutoLink:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}
