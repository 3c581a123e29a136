package observer

import (
	"fmt"
	"strings"
)

// flattenEntry pairs a meaningful node with its identity key.
type flattenEntry struct {
	key  string
	node *UINode
}

// flatten walks the tree and returns every "meaningful" node (has text,
// description, a resource id, or is clickable), keyed by resource id when
// present, else by a (left,top)-class-path key.
func flatten(root *UINode) map[string]*UINode {
	out := make(map[string]*UINode)
	if root == nil {
		return out
	}
	var walk func(n *UINode, path string)
	walk = func(n *UINode, path string) {
		if n.HasMeaningfulContent() {
			out[nodeKey(n, path)] = n
		}
		for i, c := range n.Children {
			walk(c, fmt.Sprintf("%s.%d", path, i))
		}
	}
	walk(root, "0")
	return out
}

func nodeKey(n *UINode, path string) string {
	if n.ResourceID != "" {
		return "id:" + n.ResourceID
	}
	return fmt.Sprintf("pos:%d,%d-%s-%s", n.Bounds.Left, n.Bounds.Top, n.Class, path)
}

// Diff computes a bounded structural comparison between the old and new
// trees.
func Diff(oldRoot, newRoot *UINode) ScreenDiff {
	oldNodes := flatten(oldRoot)
	newNodes := flatten(newRoot)

	var diff ScreenDiff
	for key, n := range newNodes {
		if _, ok := oldNodes[key]; !ok {
			diff.Added = append(diff.Added, n)
		}
	}
	for key, n := range oldNodes {
		if _, ok := newNodes[key]; !ok {
			diff.Removed = append(diff.Removed, n)
		}
	}
	for key, oldN := range oldNodes {
		newN, ok := newNodes[key]
		if !ok {
			continue
		}
		if changes := fieldChanges(oldN, newN); len(changes) > 0 {
			diff.Modified = append(diff.Modified, ModifiedNode{Key: key, Old: oldN, New: newN, Changes: changes})
		}
	}

	if len(diff.Added) > MaxAdded {
		diff.Added = diff.Added[:MaxAdded]
		diff.Truncated = true
	}
	if len(diff.Removed) > MaxRemoved {
		diff.Removed = diff.Removed[:MaxRemoved]
		diff.Truncated = true
	}
	if len(diff.Modified) > MaxModified {
		diff.Modified = diff.Modified[:MaxModified]
		diff.Truncated = true
	}
	return diff
}

func fieldChanges(old, new *UINode) []FieldChange {
	var changes []FieldChange
	if old.Text != new.Text {
		changes = append(changes, FieldChange{Field: FieldText, OldValue: old.Text, NewValue: new.Text})
	}
	if old.Description != new.Description {
		changes = append(changes, FieldChange{Field: FieldDescription, OldValue: old.Description, NewValue: new.Description})
	}
	if old.Clickable != new.Clickable {
		changes = append(changes, FieldChange{Field: FieldClickable, OldValue: boolStr(old.Clickable), NewValue: boolStr(new.Clickable)})
	}
	if old.Enabled != new.Enabled {
		changes = append(changes, FieldChange{Field: FieldEnabled, OldValue: boolStr(old.Enabled), NewValue: boolStr(new.Enabled)})
	}
	if manhattan(old.Bounds, new.Bounds) > 50 {
		changes = append(changes, FieldChange{
			Field:    FieldBounds,
			OldValue: rectStr(old.Bounds),
			NewValue: rectStr(new.Bounds),
		})
	}
	return changes
}

func manhattan(a, b Rect) int {
	return absInt(a.Left-b.Left) + absInt(a.Top-b.Top)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func rectStr(r Rect) string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Left, r.Top, r.Right, r.Bottom)
}

// Summary renders a short, prompt-friendly description of the diff: a
// header followed by at most 5 examples per category.
func Summary(d ScreenDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "新增 %d 个元素，消失 %d 个", len(d.Added), len(d.Removed))
	if len(d.Modified) > 0 {
		fmt.Fprintf(&b, "，变化 %d 个", len(d.Modified))
	}
	b.WriteString("\n")
	writeExamples(&b, "+", d.Added)
	writeExamples(&b, "-", d.Removed)
	writeModifiedExamples(&b, d.Modified)
	return strings.TrimRight(b.String(), "\n")
}

func writeExamples(b *strings.Builder, marker string, nodes []*UINode) {
	for i, n := range nodes {
		if i >= 5 {
			break
		}
		fmt.Fprintf(b, "%s %s\n", marker, n.Label())
	}
}

func writeModifiedExamples(b *strings.Builder, mods []ModifiedNode) {
	for i, m := range mods {
		if i >= 5 {
			break
		}
		fmt.Fprintf(b, "~ %s\n", m.New.Label())
	}
}
