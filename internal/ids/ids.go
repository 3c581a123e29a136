// Package ids centralizes identifier generation so every component derives
// goal, run, and action-log identifiers the same way.
package ids

import "github.com/google/uuid"

// New returns a new random identifier suitable for goals, runs, action-log
// entries, and operator client IDs.
func New() string {
	return uuid.NewString()
}

// NewPrefixed returns a new random identifier with the given prefix
// (e.g. "goal", "run", "client") separated by an underscore.
func NewPrefixed(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
