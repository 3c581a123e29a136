package observer

import "strings"

// FindNode walks the tree in depth-first order and returns the first node
// satisfying predicate, or nil if none match. Shared by the tool registry's
// tap_element resolution and the popup dismisser's lexicon matching.
func FindNode(root *UINode, predicate func(*UINode) bool) *UINode {
	if root == nil {
		return nil
	}
	if predicate(root) {
		return root
	}
	for _, c := range root.Children {
		if found := FindNode(c, predicate); found != nil {
			return found
		}
	}
	return nil
}

// FindAll walks the tree in depth-first order and returns every node
// satisfying predicate.
func FindAll(root *UINode, predicate func(*UINode) bool) []*UINode {
	var out []*UINode
	if root == nil {
		return out
	}
	var walk func(n *UINode)
	walk = func(n *UINode) {
		if predicate(n) {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// ByText returns a predicate matching a node whose text, description, or
// resource id contains substr (case-insensitive, trimmed).
func ByText(substr string) func(*UINode) bool {
	needle := strings.ToLower(strings.TrimSpace(substr))
	return func(n *UINode) bool {
		if needle == "" {
			return false
		}
		return strings.Contains(strings.ToLower(n.Text), needle) ||
			strings.Contains(strings.ToLower(n.Description), needle) ||
			strings.Contains(strings.ToLower(n.ResourceID), needle)
	}
}

// ByExactToken returns a predicate matching a node whose text or description
// equals token exactly (case-insensitive), used for single-character lexicon
// tokens (e.g. "×") where substring matching would be too permissive.
func ByExactToken(token string) func(*UINode) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	return func(n *UINode) bool {
		return strings.EqualFold(strings.TrimSpace(n.Text), t) ||
			strings.EqualFold(strings.TrimSpace(n.Description), t)
	}
}
