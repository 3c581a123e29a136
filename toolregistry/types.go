// Package toolregistry implements the typed tool dispatch and effector
// adapter: a process-lifetime registry of named tool descriptors with
// O(1) lookup, parameter coercion, and built-in gesture/query tools.
package toolregistry

import "time"

// Ident identifies a registered tool (e.g. "tap", "swipe", "launch_app").
type Ident string

// Built-in tool identifiers.
const (
	ToolTap        Ident = "tap"
	ToolTapElement Ident = "tap_element"
	ToolSwipe      Ident = "swipe"
	ToolInputText  Ident = "input_text"
	ToolPressKey   Ident = "press_key"
	ToolWait       Ident = "wait"
	ToolGetScreen  Ident = "get_screen"
	ToolLaunchApp  Ident = "launch_app"
)

// ParamKind identifies the accepted Go-level type for a tool parameter.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindBool   ParamKind = "bool"
	KindEnum   ParamKind = "enum"
)

// ParamSpec describes one named parameter accepted by a tool.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	Default  any
	// Enum lists the accepted values when Kind is KindEnum. Comparison is
	// case-insensitive.
	Enum []string
}

// ActionResult is the outcome of one effector-level action.
type ActionResult struct {
	Success   bool
	Message   string
	Timestamp time.Time
	// Data carries tool-specific return data (e.g. the structured digest
	// returned by get_screen).
	Data any
}

// Direction is a swipe direction.
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Distance is a named swipe distance, in pixels.
type Distance string

const (
	DistanceShort  Distance = "short"
	DistanceMedium Distance = "medium"
	DistanceLong   Distance = "long"
)

// DistancePixels maps a named distance to pixels.
var DistancePixels = map[Distance]int{
	DistanceShort:  200,
	DistanceMedium: 400,
	DistanceLong:   600,
}

// Key is a press-key target.
type Key string

const (
	KeyBack   Key = "back"
	KeyHome   Key = "home"
	KeyMenu   Key = "menu"
	KeyEnter  Key = "enter"
	KeyDelete Key = "delete"
)
