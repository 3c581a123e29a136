// Package inmem provides a map-backed memory.Store for tests and local
// development.
package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"goagent.dev/mobileagent/internal/goalpattern"
	"goagent.dev/mobileagent/internal/ids"
	"goagent.dev/mobileagent/memory"
)

// Store is a concurrency-safe, in-memory memory.Store. Each logical table
// is guarded by its own mutex so writes serialize per table while reads
// stay concurrent.
type Store struct {
	goalsMu sync.RWMutex
	goals   map[string]memory.Goal

	logsMu sync.RWMutex
	logs   map[string][]memory.ActionLogEntry

	patternsMu sync.RWMutex
	patterns   map[string]memory.PatternEntry

	memMu sync.RWMutex
	mems  map[string]memory.MemoryEntry
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		goals:    make(map[string]memory.Goal),
		logs:     make(map[string][]memory.ActionLogEntry),
		patterns: make(map[string]memory.PatternEntry),
		mems:     make(map[string]memory.MemoryEntry),
	}
}

func (s *Store) StartGoal(_ context.Context, g memory.Goal) error {
	if g.Status == "" {
		g.Status = memory.GoalStatusActive
	}
	s.goalsMu.Lock()
	defer s.goalsMu.Unlock()
	s.goals[g.ID] = g
	return nil
}

func (s *Store) CompleteGoal(_ context.Context, id string, success bool, steps int, errMsg string) error {
	s.goalsMu.Lock()
	defer s.goalsMu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return nil
	}
	now := time.Now()
	g.EndTime = &now
	g.StepsExecuted = steps
	g.Success = &success
	g.ErrorMessage = errMsg
	if success {
		g.Status = memory.GoalStatusSucceeded
	} else if errMsg == "cancelled" {
		g.Status = memory.GoalStatusCancelled
	} else {
		g.Status = memory.GoalStatusFailed
	}
	s.goals[id] = g
	return nil
}

func (s *Store) Goal(_ context.Context, id string) (memory.Goal, bool, error) {
	s.goalsMu.RLock()
	defer s.goalsMu.RUnlock()
	g, ok := s.goals[id]
	return g, ok, nil
}

func (s *Store) LogAction(_ context.Context, e memory.ActionLogEntry) error {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	s.logs[e.GoalID] = append(s.logs[e.GoalID], e)
	return nil
}

func (s *Store) ActionLogs(_ context.Context, goalID string) ([]memory.ActionLogEntry, error) {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	out := make([]memory.ActionLogEntry, len(s.logs[goalID]))
	copy(out, s.logs[goalID])
	return out, nil
}

func (s *Store) FindSimilarGoals(_ context.Context, description string, limit int) ([]memory.SimilarGoal, error) {
	needle := tokenSet(description)
	s.goalsMu.RLock()
	defer s.goalsMu.RUnlock()

	var scored []memory.SimilarGoal
	for _, g := range s.goals {
		score := overlapScore(needle, tokenSet(g.Description))
		if score <= 0 {
			continue
		}
		scored = append(scored, memory.SimilarGoal{Goal: g, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := scored[i], scored[j]
		if si.Score != sj.Score {
			return si.Score > sj.Score
		}
		pi := si.Goal.Success != nil && *si.Goal.Success
		pj := sj.Goal.Success != nil && *sj.Goal.Success
		return pi && !pj
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *Store) LearnFromSuccess(_ context.Context, goalID string, actions []memory.ActionRecord) error {
	s.goalsMu.RLock()
	g, ok := s.goals[goalID]
	s.goalsMu.RUnlock()
	if !ok {
		return nil
	}
	key := goalpattern.Key(g.Description)
	if key == "" {
		return nil
	}

	seq, err := json.Marshal(actions)
	if err != nil {
		return err
	}

	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	for id, p := range s.patterns {
		if p.GoalPattern == key {
			// Keep the existing sequence; only the counters and the
			// confidence move.
			p.SuccessCount++
			p.LastUsed = time.Now()
			p.Confidence = memory.UpdateConfidenceOnSuccess(p.Confidence, p.SuccessCount-1)
			s.patterns[id] = p
			return nil
		}
	}
	id := ids.NewPrefixed("pattern")
	s.patterns[id] = memory.PatternEntry{
		ID:             id,
		GoalPattern:    key,
		ActionSequence: seq,
		SuccessCount:   1,
		Confidence:     0.5,
		LastUsed:       time.Now(),
	}
	return nil
}

func (s *Store) RecordPatternSuccess(_ context.Context, patternID string) error {
	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	p, ok := s.patterns[patternID]
	if !ok {
		return nil
	}
	p.Confidence = memory.UpdateConfidenceOnSuccess(p.Confidence, p.SuccessCount)
	p.SuccessCount++
	p.LastUsed = time.Now()
	s.patterns[patternID] = p
	return nil
}

func (s *Store) RecordPatternFailure(_ context.Context, patternID string) error {
	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	p, ok := s.patterns[patternID]
	if !ok {
		return nil
	}
	p.Confidence = memory.UpdateConfidenceOnFailure(p.Confidence)
	p.FailCount++
	p.LastUsed = time.Now()
	s.patterns[patternID] = p
	return nil
}

func (s *Store) FindApplicablePattern(_ context.Context, description string) (memory.PatternEntry, bool, error) {
	key := goalpattern.Key(description)
	if key == "" {
		return memory.PatternEntry{}, false, nil
	}
	tokens := strings.Split(key, "*")

	s.patternsMu.RLock()
	defer s.patternsMu.RUnlock()
	var best memory.PatternEntry
	found := false
	for _, p := range s.patterns {
		if p.Confidence < memory.MinApplicableConfidence {
			continue
		}
		if !sharesAny(tokens, strings.Split(p.GoalPattern, "*")) {
			continue
		}
		if !found || p.Confidence > best.Confidence {
			best, found = p, true
		}
	}
	return best, found, nil
}

func (s *Store) Remember(_ context.Context, m memory.MemoryEntry) (string, error) {
	if m.ID == "" {
		m.ID = ids.NewPrefixed("mem")
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.LastAccessed = now

	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.mems[m.ID] = m
	return m.ID, nil
}

func (s *Store) Recall(_ context.Context, query string, typ *memory.MemoryType, limit int) ([]memory.MemoryEntry, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.memMu.Lock()
	defer s.memMu.Unlock()

	var matches []memory.MemoryEntry
	for _, m := range s.mems {
		if typ != nil && m.Type != *typ {
			continue
		}
		if needle != "" && !matchesKeyword(m, needle) {
			continue
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].LastAccessed.After(matches[j].LastAccessed)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	now := time.Now()
	for _, m := range matches {
		touched := s.mems[m.ID]
		touched.LastAccessed = now
		s.mems[m.ID] = touched
	}
	return matches, nil
}

func (s *Store) Cleanup(_ context.Context, keepDays int, keepMinImportance float64) (memory.CleanupStats, error) {
	var stats memory.CleanupStats
	before := time.Now().AddDate(0, 0, -keepDays)

	s.goalsMu.Lock()
	for id, g := range s.goals {
		if g.StartTime.Before(before) {
			delete(s.goals, id)
			stats.GoalsDeleted++
		}
	}
	s.goalsMu.Unlock()

	s.logsMu.Lock()
	s.goalsMu.RLock()
	for id := range s.logs {
		if _, ok := s.goals[id]; !ok {
			delete(s.logs, id)
		}
	}
	s.goalsMu.RUnlock()
	s.logsMu.Unlock()

	s.patternsMu.Lock()
	for id, p := range s.patterns {
		if p.Confidence < memory.PruneConfidence && p.SuccessCount+p.FailCount >= memory.PruneUsageFloor {
			delete(s.patterns, id)
			stats.PatternsPruned++
		}
	}
	s.patternsMu.Unlock()

	s.memMu.Lock()
	for id, m := range s.mems {
		if m.Importance < keepMinImportance && m.LastAccessed.Before(before) {
			delete(s.mems, id)
			stats.MemoriesPruned++
		}
	}
	s.memMu.Unlock()

	return stats, nil
}

func matchesKeyword(m memory.MemoryEntry, needle string) bool {
	if strings.Contains(strings.ToLower(m.Content), needle) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = struct{}{}
	}
	return out
}

func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

func sharesAny(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
