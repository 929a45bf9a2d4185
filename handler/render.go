package handler

import (
	"fmt"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/record"
)

type renderNode struct {
	name     string
	text     string
	children []*renderNode
}

func (n *renderNode) child(name string) *renderNode {
	for i := len(n.children) - 1; i >= 0; i-- {
		if n.children[i].name == name {
			return n.children[i]
		}
	}
	c := &renderNode{name: name}
	n.children = append(n.children, c)
	return c
}

func (n *renderNode) events(out []document.Event) []document.Event {
	out = append(out, document.ElementStart(n.name))
	if n.text != "" {
		out = append(out, document.Text(n.text))
	}
	for _, c := range n.children {
		out = c.events(out)
	}
	return append(out, document.ElementEnd(n.name))
}

// Render writes the mapped attributes of rec back into document events, the
// inverse of a TextHandler over the same mappings. Mapping paths are read as
// absolute and must share one root element. Each value of a multi-valued
// attribute becomes its own leaf element; intermediate elements are shared.
func Render(rec *record.Record, mappings []Mapping) ([]document.Event, error) {
	var root *renderNode
	for _, m := range mappings {
		parts := splitPattern(m.Path)
		if len(parts) < 2 {
			return nil, fmt.Errorf("mapping %q: path needs a root and a leaf element", m.Path)
		}
		if root == nil {
			root = &renderNode{name: parts[0]}
		} else if root.name != parts[0] {
			return nil, fmt.Errorf("mapping %q: root %q differs from %q", m.Path, parts[0], root.name)
		}
		for _, v := range rec.Get(m.Attribute) {
			parent := root
			for _, p := range parts[1 : len(parts)-1] {
				parent = parent.child(p)
			}
			parent.children = append(parent.children, &renderNode{name: parts[len(parts)-1], text: v.Text()})
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no mappings to render")
	}
	events := []document.Event{document.DocumentStart()}
	events = root.events(events)
	return append(events, document.DocumentEnd()), nil
}
