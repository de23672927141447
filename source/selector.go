package source

import (
	"fmt"
	"golang.org/x/net/html"
	"strings"
)

// selector is a compiled subset of CSS: compound selectors made of a tag,
// an #id, any number of .classes and [attr] or [attr=val] tests, joined by
// the descendant combinator.
type selector []compound

type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

func parseSelector(sel string) (selector, error) {
	parts := strings.Fields(sel)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty selector")
	}

	out := make(selector, 0, len(parts))
	for _, part := range parts {
		c, err := parseCompound(part)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", sel, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCompound(part string) (compound, error) {
	var c compound

	if idx := strings.IndexByte(part, '['); idx >= 0 {
		if !strings.HasSuffix(part, "]") {
			return c, fmt.Errorf("unterminated attribute test in %q", part)
		}
		attr := part[idx+1 : len(part)-1]
		part = part[:idx]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			c.attrKey = attr[:eq]
			c.attrVal = strings.Trim(attr[eq+1:], `"'`)
			c.hasVal = true
		} else {
			c.attrKey = attr
		}
		if c.attrKey == "" {
			return c, fmt.Errorf("empty attribute name in %q", part)
		}
	}

	// Split off the tag, then consume #id and .class tokens in any order.
	end := strings.IndexAny(part, "#.")
	if end < 0 {
		end = len(part)
	}
	c.tag = strings.ToLower(part[:end])
	rest := part[end:]
	for rest != "" {
		kind := rest[0]
		rest = rest[1:]
		next := strings.IndexAny(rest, "#.")
		if next < 0 {
			next = len(rest)
		}
		name := rest[:next]
		rest = rest[next:]
		if name == "" {
			return c, fmt.Errorf("empty name after %q", string(kind))
		}
		if kind == '#' {
			c.id = name
		} else {
			c.classes = append(c.classes, name)
		}
	}

	if c.tag == "" && c.id == "" && len(c.classes) == 0 && c.attrKey == "" {
		return c, fmt.Errorf("empty compound selector")
	}
	return c, nil
}

// first returns the first node below root in document order that matches
// the selector, or nil.
func (s selector) first(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if s.matches(n) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

// matches checks the last compound against n and the remaining compounds
// against its ancestors.
func (s selector) matches(n *html.Node) bool {
	last := len(s) - 1
	if !s[last].matches(n) {
		return false
	}

	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) != 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	if c.attrKey != "" {
		val, ok := lookupAttr(n, c.attrKey)
		if !ok || (c.hasVal && val != c.attrVal) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	val, _ := lookupAttr(n, key)
	return val
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
