package observer

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genUINode produces a random node carrying the fields the diff algorithm
// keys on: class, text, resource id, bounds, and the clickable/enabled
// flags. depth > 0 attaches a small random subtree.
func genUINode(depth int) gopter.Gen {
	node := gopter.CombineGens(
		gen.OneConstOf("Button", "TextView", "EditText", "FrameLayout"),
		gen.OneConstOf("", "确认", "取消", "发送", "设置"),
		gen.OneConstOf("", "btn.ok", "btn.cancel", "txt.title", "list.item"),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1800),
		gen.Bool(),
		gen.Bool(),
	).Map(func(vals []any) *UINode {
		left := vals[3].(int)
		top := vals[4].(int)
		return &UINode{
			Class:      vals[0].(string),
			Text:       vals[1].(string),
			ResourceID: vals[2].(string),
			Bounds:     Rect{Left: left, Top: top, Right: left + 100, Bottom: top + 60},
			Clickable:  vals[5].(bool),
			Enabled:    vals[6].(bool),
		}
	})
	if depth <= 0 {
		return node
	}
	return gopter.CombineGens(
		node,
		gen.SliceOfN(2, genUINode(depth-1)),
	).Map(func(vals []any) *UINode {
		n := vals[0].(*UINode)
		n.Children = append(n.Children, vals[1].([]*UINode)...)
		return n
	})
}

// TestDiffSymmetryProperty checks the role-swap law across generated tree
// populations, not just a hand-picked pair: swapping the diff's arguments
// turns every added node into a removed one and vice versa.
func TestDiffSymmetryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("diff(a,b).Added matches diff(b,a).Removed", prop.ForAll(
		func(a, b *UINode) bool {
			ab := Diff(a, b)
			ba := Diff(b, a)
			return sameNodeSet(ab.Added, ba.Removed) && sameNodeSet(ab.Removed, ba.Added)
		},
		genUINode(2),
		genUINode(2),
	))

	properties.Property("diff of a tree against itself is empty", prop.ForAll(
		func(a *UINode) bool {
			d := Diff(a, a)
			return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
		},
		genUINode(2),
	))

	properties.Property("diff categories never exceed their bounds", prop.ForAll(
		func(a, b *UINode) bool {
			d := Diff(a, b)
			return len(d.Added) <= MaxAdded && len(d.Removed) <= MaxRemoved && len(d.Modified) <= MaxModified
		},
		genUINode(3),
		genUINode(3),
	))

	properties.TestingRun(t)
}

// sameNodeSet compares two node slices as sets of pointer identities. The
// diff hands back the very nodes from its input trees, so pointer equality
// is exact here.
func sameNodeSet(a, b []*UINode) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[*UINode]int, len(a))
	for _, n := range a {
		set[n]++
	}
	for _, n := range b {
		set[n]--
		if set[n] < 0 {
			return false
		}
	}
	return true
}
