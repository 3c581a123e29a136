package observer

import (
	"fmt"
	"strings"
)

// MaxDigestLabels bounds how many visible-text/clickable labels a digest
// carries, matching the operator protocol's bounded "screen" payload.
const MaxDigestLabels = 50

// Digest renders a compact, prompt-friendly summary of a snapshot: package,
// activity, and up to MaxDigestLabels meaningful node labels. It is used as
// the planner's screen-digest input and as the basis of the operator
// protocol's "screen" frame.
func Digest(snap *ScreenSnapshot) string {
	if snap == nil || snap.Root == nil {
		return "(no screen)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s\n", snap.Package, snap.Activity)
	for i, label := range VisibleLabels(snap, MaxDigestLabels) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label)
	}
	return b.String()
}

// VisibleLabels returns up to limit labels for meaningful nodes in the
// snapshot, clickable nodes marked with a leading "*".
func VisibleLabels(snap *ScreenSnapshot, limit int) []string {
	if snap == nil {
		return nil
	}
	nodes := FindAll(snap.Root, (*UINode).HasMeaningfulContent)
	out := make([]string, 0, min(len(nodes), limit))
	for _, n := range nodes {
		if len(out) >= limit {
			break
		}
		label := n.Label()
		if n.Clickable {
			label = "* " + label
		}
		out = append(out, label)
	}
	return out
}
