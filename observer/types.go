// Package observer implements the multi-mode screen observer: full,
// incremental, and diff UI snapshotting with a bounded change-event queue
// and a bounded tree diff, tuned to keep language-model prompts small.
package observer

import (
	"time"
)

// CaptureMode selects how Snapshot acquires the current screen.
type CaptureMode string

const (
	// ModeFull walks the entire raw tree and replaces the cache.
	ModeFull CaptureMode = "full"
	// ModeIncremental returns the cached tree when it is fresh and no
	// change events are pending, otherwise falls back to full.
	ModeIncremental CaptureMode = "incremental"
	// ModeDiff takes a fresh full snapshot and records it as the baseline
	// when none is set; DiffFromBaseline computes the diff itself.
	ModeDiff CaptureMode = "diff"
)

// CacheValidity is the maximum age of a cached snapshot that Incremental mode
// will reuse ("validity window (≤2 s)").
const CacheValidity = 2 * time.Second

// MaxPendingEvents bounds the change-event FIFO; inserts when full drop the
// oldest event.
const MaxPendingEvents = 50

// Rect is a screen-pixel rectangle using (left, top, right, bottom).
type Rect struct {
	Left, Top, Right, Bottom int
}

// Width returns the rectangle's horizontal extent.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the rectangle's vertical extent.
func (r Rect) Height() int { return r.Bottom - r.Top }

// CenterX returns the horizontal center of the rectangle.
func (r Rect) CenterX() int { return r.Left + r.Width()/2 }

// CenterY returns the vertical center of the rectangle.
func (r Rect) CenterY() int { return r.Top + r.Height()/2 }

// UINode is a value object derived from a raw platform UI tree node. A
// UINode never outlives the observation that produced it.
type UINode struct {
	Class       string
	Text        string
	Description string
	ResourceID  string
	Bounds      Rect
	Clickable   bool
	Enabled     bool
	Password    bool
	Children    []*UINode
}

// HasMeaningfulContent reports whether the node carries text, a description,
// a resource id, or is clickable — the criterion the diff algorithm uses to
// decide which nodes are worth comparing.
func (n *UINode) HasMeaningfulContent() bool {
	if n == nil {
		return false
	}
	return n.Text != "" || n.Description != "" || n.ResourceID != "" || n.Clickable
}

// Label returns the most descriptive short label for the node: its text,
// falling back to its description, falling back to its class name.
func (n *UINode) Label() string {
	if n == nil {
		return ""
	}
	if n.Text != "" {
		return n.Text
	}
	if n.Description != "" {
		return n.Description
	}
	return n.Class
}

// ChangeEventType classifies a low-level notification from the screen source.
type ChangeEventType string

const (
	ChangeWindowChanged  ChangeEventType = "window_changed"
	ChangeContentChanged ChangeEventType = "content_changed"
	ChangeClicked        ChangeEventType = "clicked"
	ChangeScrolled       ChangeEventType = "scrolled"
	ChangeTextChanged    ChangeEventType = "text_changed"
	ChangeFocusChanged   ChangeEventType = "focus_changed"
	ChangeUnknown        ChangeEventType = "unknown"
)

// RawChangeEvent is the low-level notification shape the screen source
// delivers on an arbitrary thread. Observer.ObserveEvent maps it to a
// ChangeEvent.
type RawChangeEvent struct {
	Kind        string
	Timestamp   time.Time
	Package     string
	Class       string
	Text        string
	Description string
	ResourceID  string
}

// ChangeEvent is a single queued, consumable notification that the UI changed.
type ChangeEvent struct {
	Type        ChangeEventType
	Timestamp   time.Time
	Package     string
	Node        *UINode // minimal node, no children
	Description string
}

// ScreenSnapshot is a full UI tree captured at one point in time.
type ScreenSnapshot struct {
	Timestamp time.Time
	Package   string
	Activity  string
	Root      *UINode
}

// ModifiedField names a field compared when computing screen diffs.
type ModifiedField string

const (
	FieldText        ModifiedField = "text"
	FieldDescription ModifiedField = "description"
	FieldClickable   ModifiedField = "clickable"
	FieldEnabled     ModifiedField = "enabled"
	FieldBounds      ModifiedField = "bounds"
)

// FieldChange captures the old/new value pair for one modified field.
type FieldChange struct {
	Field    ModifiedField
	OldValue string
	NewValue string
}

// ModifiedNode describes a node present in both trees whose comparable
// fields changed.
type ModifiedNode struct {
	Key     string
	Old     *UINode
	New     *UINode
	Changes []FieldChange
}

// ScreenDiff is a bounded structural comparison of two snapshots: at most
// 20 added / 20 removed / 30 modified items.
type ScreenDiff struct {
	Added    []*UINode
	Removed  []*UINode
	Modified []ModifiedNode
	// Truncated records whether any category was truncated to its bound.
	Truncated bool
}

const (
	MaxAdded    = 20
	MaxRemoved  = 20
	MaxModified = 30
)

// ObserverStats exposes observability counters for the screen observer.
type ObserverStats struct {
	FullCount        int64
	IncrementalCount int64
	DiffCount        int64
	CacheHits        int64
	Pending          int
}
