package observer

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"goagent.dev/mobileagent/agenterr"
)

// ErrNoRootWindow is returned by Source.CaptureTree (and surfaced through
// Snapshot) when no foreground window is available to capture.
var ErrNoRootWindow = agenterr.New("no root window").WithCode("no_root_window")

// Source is the external screen-source contract: it produces a raw UI
// tree plus package/activity identifiers. The raw tree
// is JSON-shaped:
//
//	{"class":"...","text":"...","description":"...","resourceId":"...",
//	 "bounds":[left,top,right,bottom],"clickable":bool,"enabled":bool,
//	 "password":bool,"children":[...]}
type Source interface {
	// CaptureTree returns the raw JSON UI tree for the current foreground
	// window, along with the owning package and activity names. Returns
	// ErrNoRootWindow if no foreground window is available.
	CaptureTree(ctx context.Context) (raw []byte, pkg, activity string, err error)
}

// scrubSecrets blanks the text of password-flagged nodes in the raw tree
// before it is parsed or cached, so credential text never reaches prompts,
// diffs, or action logs.
func scrubSecrets(raw []byte) []byte {
	var paths []string
	var walk func(v gjson.Result, prefix string)
	walk = func(v gjson.Result, prefix string) {
		if v.Get("password").Bool() && v.Get("text").String() != "" {
			paths = append(paths, joinPath(prefix, "text"))
		}
		children := v.Get("children")
		if !children.IsArray() {
			return
		}
		for i, c := range children.Array() {
			walk(c, joinPath(prefix, "children."+strconv.Itoa(i)))
		}
	}
	walk(gjson.ParseBytes(raw), "")
	for _, p := range paths {
		if out, err := sjson.SetBytes(raw, p, ""); err == nil {
			raw = out
		}
	}
	return raw
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// parseTree converts a raw JSON UI tree into a UINode using gjson for
// flexible, allocation-light traversal of the screen source's JSON payload.
func parseTree(raw []byte) (*UINode, error) {
	if len(raw) == 0 {
		return nil, agenterr.New("empty screen tree").WithCode("no_root_window")
	}
	result := gjson.ParseBytes(raw)
	if !result.Exists() || !result.IsObject() {
		return nil, agenterr.New("malformed screen tree").WithCode("no_root_window")
	}
	return parseNode(result), nil
}

func parseNode(v gjson.Result) *UINode {
	n := &UINode{
		Class:       v.Get("class").String(),
		Text:        v.Get("text").String(),
		Description: v.Get("description").String(),
		ResourceID:  v.Get("resourceId").String(),
		Clickable:   v.Get("clickable").Bool(),
		Enabled:     v.Get("enabled").Bool(),
		Password:    v.Get("password").Bool(),
	}
	bounds := v.Get("bounds")
	if bounds.IsArray() {
		arr := bounds.Array()
		if len(arr) == 4 {
			n.Bounds = Rect{
				Left:   int(arr[0].Int()),
				Top:    int(arr[1].Int()),
				Right:  int(arr[2].Int()),
				Bottom: int(arr[3].Int()),
			}
		}
	}
	children := v.Get("children")
	if children.IsArray() {
		for _, c := range children.Array() {
			n.Children = append(n.Children, parseNode(c))
		}
	}
	return n
}
