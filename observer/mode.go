package observer

import "strings"

// RecommendMode maps a free-text scenario label to a recommended capture
// mode by keyword. Callers may override the recommendation.
func RecommendMode(scenario string) CaptureMode {
	s := strings.ToLower(scenario)
	switch {
	case strings.Contains(s, "first") || strings.Contains(s, "analyze") || strings.Contains(s, "分析"):
		return ModeFull
	case strings.Contains(s, "wait") || strings.Contains(s, "detect") || strings.Contains(s, "等待"):
		return ModeIncremental
	case strings.Contains(s, "verify") || strings.Contains(s, "confirm") || strings.Contains(s, "确认"):
		return ModeDiff
	default:
		return ModeFull
	}
}

// changeTypeFor maps a raw low-level event kind string to a ChangeEventType.
func changeTypeFor(kind string) ChangeEventType {
	switch strings.ToLower(kind) {
	case "window_changed", "window":
		return ChangeWindowChanged
	case "content_changed", "content":
		return ChangeContentChanged
	case "clicked", "click":
		return ChangeClicked
	case "scrolled", "scroll":
		return ChangeScrolled
	case "text_changed", "text":
		return ChangeTextChanged
	case "focus_changed", "focus":
		return ChangeFocusChanged
	default:
		return ChangeUnknown
	}
}
