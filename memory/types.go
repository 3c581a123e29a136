// Package memory implements the persistent goal/action-log/learned-pattern/
// memory-entry repository: four logical tables behind a single Store
// interface with in-memory and MongoDB-backed implementations.
package memory

import (
	"encoding/json"
	"time"
)

// GoalStatus is the terminal or in-flight status of a persisted goal row.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusSucceeded GoalStatus = "succeeded"
	GoalStatusFailed    GoalStatus = "failed"
	GoalStatusCancelled GoalStatus = "cancelled"
)

// Goal is the "goals" table row shape.
type Goal struct {
	ID            string
	Description   string
	Status        GoalStatus
	StartTime     time.Time
	EndTime       *time.Time
	StepsExecuted int
	Success       *bool
	ErrorMessage  string
}

// ActionLogEntry is the "action_logs" table row shape.
type ActionLogEntry struct {
	GoalID        string
	StepNumber    int
	Timestamp     time.Time
	ToolName      string
	Parameters    json.RawMessage
	Success       bool
	ResultMessage string
	ScreenBefore  string
	ScreenAfter   string
	AIReasoning   string
}

// PatternEntry is the "learned_patterns" table row shape.
type PatternEntry struct {
	ID             string
	GoalPattern    string
	ActionSequence json.RawMessage
	SuccessCount   int
	FailCount      int
	LastUsed       time.Time
	Confidence     float64
}

// MemoryType classifies a memory entry.
type MemoryType string

const (
	MemoryFact         MemoryType = "fact"
	MemoryStrategy     MemoryType = "strategy"
	MemoryPreference   MemoryType = "preference"
	MemoryErrorPattern MemoryType = "error-pattern"
)

// MemoryEntry is the "memories" table row shape.
type MemoryEntry struct {
	ID            string
	Type          MemoryType
	Content       string
	Importance    float64
	Tags          []string
	RelatedGoalID string
	CreatedAt     time.Time
	LastAccessed  time.Time
}

// SimilarGoal pairs a past goal with a token-overlap similarity score for
// FindSimilarGoals ranking.
type SimilarGoal struct {
	Goal  Goal
	Score float64
}

// MinApplicableConfidence is the threshold FindApplicablePattern requires.
const MinApplicableConfidence = 0.6

// PruneConfidence is the confidence floor below which Cleanup prunes a
// pattern.
const PruneConfidence = 0.3

// PruneUsageFloor is the minimum combined success+fail count Cleanup
// requires before a low-confidence pattern is eligible for pruning.
const PruneUsageFloor = 5

// UpdateConfidenceOnSuccess applies the confidence update rule for a
// successful pattern use: confidence *= (n+1)/(n+2), then n increments.
func UpdateConfidenceOnSuccess(confidence float64, successCount int) float64 {
	n := float64(successCount)
	updated := confidence * (n + 1) / (n + 2)
	return clamp01(updated)
}

// UpdateConfidenceOnFailure applies the confidence decay rule for a
// failed pattern use: confidence *= 0.7.
func UpdateConfidenceOnFailure(confidence float64) float64 {
	return clamp01(confidence * 0.7)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
