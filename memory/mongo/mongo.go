// Package mongo implements memory.Store against MongoDB: one collection
// per logical table, bson document structs mirroring the persisted row
// shapes, and a bounded per-call timeout around every operation.
package mongo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"goagent.dev/mobileagent/internal/goalpattern"
	"goagent.dev/mobileagent/internal/ids"
	"goagent.dev/mobileagent/memory"
)

const defaultTimeout = 5 * time.Second

// Options configures the Mongo-backed Store.
type Options struct {
	Client   *mongo.Client
	Database string
	Timeout  time.Duration
}

// Store is a MongoDB-backed memory.Store: one collection per logical table
// (goals, action_logs, learned_patterns, memories).
type Store struct {
	goals    *mongo.Collection
	logs     *mongo.Collection
	patterns *mongo.Collection
	memories *mongo.Collection
	timeout  time.Duration
}

// New constructs a Store against the given database, creating the indexes
// each collection needs.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		goals:    db.Collection("goals"),
		logs:     db.Collection("action_logs"),
		patterns: db.Collection("learned_patterns"),
		memories: db.Collection("memories"),
		timeout:  timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "goal_id", Value: 1}, {Key: "step_number", Value: 1}},
		})
		return err
	})
	g.Go(func() error {
		_, err := s.patterns.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "goal_pattern", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		return err
	})
	return g.Wait()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type goalDoc struct {
	ID            string     `bson:"_id"`
	Description   string     `bson:"description"`
	Status        string     `bson:"status"`
	StartTime     time.Time  `bson:"start_time"`
	EndTime       *time.Time `bson:"end_time,omitempty"`
	StepsExecuted int        `bson:"steps_executed"`
	Success       *bool      `bson:"success,omitempty"`
	ErrorMessage  string     `bson:"error_message,omitempty"`
}

func (s *Store) StartGoal(ctx context.Context, g memory.Goal) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	status := g.Status
	if status == "" {
		status = memory.GoalStatusActive
	}
	_, err := s.goals.InsertOne(ctx, goalDoc{
		ID: g.ID, Description: g.Description, Status: string(status), StartTime: g.StartTime,
	})
	return err
}

func (s *Store) CompleteGoal(ctx context.Context, id string, success bool, steps int, errMsg string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	status := memory.GoalStatusFailed
	if success {
		status = memory.GoalStatusSucceeded
	} else if errMsg == "cancelled" {
		status = memory.GoalStatusCancelled
	}
	now := time.Now()
	_, err := s.goals.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status": string(status), "end_time": now, "steps_executed": steps,
		"success": success, "error_message": errMsg,
	}})
	return err
}

func (s *Store) Goal(ctx context.Context, id string) (memory.Goal, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc goalDoc
	if err := s.goals.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return memory.Goal{}, false, nil
		}
		return memory.Goal{}, false, err
	}
	return fromGoalDoc(doc), true, nil
}

func fromGoalDoc(d goalDoc) memory.Goal {
	return memory.Goal{
		ID: d.ID, Description: d.Description, Status: memory.GoalStatus(d.Status),
		StartTime: d.StartTime, EndTime: d.EndTime, StepsExecuted: d.StepsExecuted,
		Success: d.Success, ErrorMessage: d.ErrorMessage,
	}
}

type actionLogDoc struct {
	GoalID        string         `bson:"goal_id"`
	StepNumber    int            `bson:"step_number"`
	Timestamp     time.Time      `bson:"timestamp"`
	ToolName      string         `bson:"tool_name"`
	Parameters    map[string]any `bson:"parameters,omitempty"`
	Success       bool           `bson:"success"`
	ResultMessage string         `bson:"result_message,omitempty"`
	ScreenBefore  string         `bson:"screen_before,omitempty"`
	ScreenAfter   string         `bson:"screen_after,omitempty"`
	AIReasoning   string         `bson:"ai_reasoning,omitempty"`
}

func (s *Store) LogAction(ctx context.Context, e memory.ActionLogEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var params map[string]any
	if len(e.Parameters) > 0 {
		if err := bson.UnmarshalExtJSON(e.Parameters, true, &params); err != nil {
			return err
		}
	}
	_, err := s.logs.InsertOne(ctx, actionLogDoc{
		GoalID: e.GoalID, StepNumber: e.StepNumber, Timestamp: e.Timestamp, ToolName: e.ToolName,
		Parameters: params, Success: e.Success, ResultMessage: e.ResultMessage,
		ScreenBefore: e.ScreenBefore, ScreenAfter: e.ScreenAfter, AIReasoning: e.AIReasoning,
	})
	return err
}

func (s *Store) ActionLogs(ctx context.Context, goalID string) ([]memory.ActionLogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.logs.Find(ctx, bson.M{"goal_id": goalID}, options.Find().SetSort(bson.D{{Key: "step_number", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []memory.ActionLogEntry
	for cur.Next(ctx) {
		var d actionLogDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		raw, err := bson.MarshalExtJSON(d.Parameters, true, false)
		if err != nil {
			return nil, err
		}
		out = append(out, memory.ActionLogEntry{
			GoalID: d.GoalID, StepNumber: d.StepNumber, Timestamp: d.Timestamp, ToolName: d.ToolName,
			Parameters: raw, Success: d.Success, ResultMessage: d.ResultMessage,
			ScreenBefore: d.ScreenBefore, ScreenAfter: d.ScreenAfter, AIReasoning: d.AIReasoning,
		})
	}
	return out, cur.Err()
}

func (s *Store) FindSimilarGoals(ctx context.Context, description string, limit int) ([]memory.SimilarGoal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.goals.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	needle := tokenSet(description)
	var scored []memory.SimilarGoal
	for cur.Next(ctx) {
		var d goalDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		score := overlapScore(needle, tokenSet(d.Description))
		if score <= 0 {
			continue
		}
		scored = append(scored, memory.SimilarGoal{Goal: fromGoalDoc(d), Score: score})
	}
	if err := cur.Err(); err != nil {
		return nil, err
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

type patternDoc struct {
	ID             string                `bson:"_id"`
	GoalPattern    string                `bson:"goal_pattern"`
	ActionSequence []memory.ActionRecord `bson:"action_sequence,omitempty"`
	SuccessCount   int                   `bson:"success_count"`
	FailCount      int                   `bson:"fail_count"`
	LastUsed       time.Time             `bson:"last_used"`
	Confidence     float64               `bson:"confidence"`
}

func (s *Store) LearnFromSuccess(ctx context.Context, goalID string, actions []memory.ActionRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var gdoc goalDoc
	if err := s.goals.FindOne(ctx, bson.M{"_id": goalID}).Decode(&gdoc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	key := goalpattern.Key(gdoc.Description)
	if key == "" {
		return nil
	}

	var existing patternDoc
	err := s.patterns.FindOne(ctx, bson.M{"goal_pattern": key}).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		_, err = s.patterns.InsertOne(ctx, patternDoc{
			ID: ids.NewPrefixed("pattern"), GoalPattern: key, ActionSequence: actions,
			SuccessCount: 1, Confidence: 0.5, LastUsed: time.Now(),
		})
		return err
	case err != nil:
		return err
	default:
		// Keep the existing sequence; only the counters and the confidence
		// move.
		confidence := memory.UpdateConfidenceOnSuccess(existing.Confidence, existing.SuccessCount)
		_, err = s.patterns.UpdateOne(ctx, bson.M{"_id": existing.ID}, bson.M{"$set": bson.M{
			"success_count": existing.SuccessCount + 1, "confidence": confidence, "last_used": time.Now(),
		}})
		return err
	}
}

func (s *Store) RecordPatternSuccess(ctx context.Context, patternID string) error {
	return s.updateConfidence(ctx, patternID, true)
}

func (s *Store) RecordPatternFailure(ctx context.Context, patternID string) error {
	return s.updateConfidence(ctx, patternID, false)
}

func (s *Store) updateConfidence(ctx context.Context, patternID string, success bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var p patternDoc
	if err := s.patterns.FindOne(ctx, bson.M{"_id": patternID}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	update := bson.M{"last_used": time.Now()}
	if success {
		update["confidence"] = memory.UpdateConfidenceOnSuccess(p.Confidence, p.SuccessCount)
		update["success_count"] = p.SuccessCount + 1
	} else {
		update["confidence"] = memory.UpdateConfidenceOnFailure(p.Confidence)
		update["fail_count"] = p.FailCount + 1
	}
	_, err := s.patterns.UpdateOne(ctx, bson.M{"_id": patternID}, bson.M{"$set": update})
	return err
}

func (s *Store) FindApplicablePattern(ctx context.Context, description string) (memory.PatternEntry, bool, error) {
	key := goalpattern.Key(description)
	if key == "" {
		return memory.PatternEntry{}, false, nil
	}
	tokens := strings.Split(key, "*")

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.patterns.Find(ctx, bson.M{"confidence": bson.M{"$gte": memory.MinApplicableConfidence}})
	if err != nil {
		return memory.PatternEntry{}, false, err
	}
	defer cur.Close(ctx)

	var best patternDoc
	found := false
	for cur.Next(ctx) {
		var p patternDoc
		if err := cur.Decode(&p); err != nil {
			return memory.PatternEntry{}, false, err
		}
		if !sharesAny(tokens, strings.Split(p.GoalPattern, "*")) {
			continue
		}
		if !found || p.Confidence > best.Confidence {
			best, found = p, true
		}
	}
	if err := cur.Err(); err != nil {
		return memory.PatternEntry{}, false, err
	}
	if !found {
		return memory.PatternEntry{}, false, nil
	}
	seq, err := bson.MarshalExtJSON(best.ActionSequence, true, false)
	if err != nil {
		return memory.PatternEntry{}, false, err
	}
	return memory.PatternEntry{
		ID: best.ID, GoalPattern: best.GoalPattern, ActionSequence: seq,
		SuccessCount: best.SuccessCount, FailCount: best.FailCount,
		LastUsed: best.LastUsed, Confidence: best.Confidence,
	}, true, nil
}

type memoryDoc struct {
	ID            string    `bson:"_id"`
	Type          string    `bson:"type"`
	Content       string    `bson:"content"`
	Importance    float64   `bson:"importance"`
	Tags          []string  `bson:"tags,omitempty"`
	RelatedGoalID string    `bson:"related_goal_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	LastAccessed  time.Time `bson:"last_accessed"`
}

func (s *Store) Remember(ctx context.Context, m memory.MemoryEntry) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if m.ID == "" {
		m.ID = ids.NewPrefixed("mem")
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	_, err := s.memories.InsertOne(ctx, memoryDoc{
		ID: m.ID, Type: string(m.Type), Content: m.Content, Importance: m.Importance,
		Tags: m.Tags, RelatedGoalID: m.RelatedGoalID, CreatedAt: m.CreatedAt, LastAccessed: now,
	})
	return m.ID, err
}

func (s *Store) Recall(ctx context.Context, query string, typ *memory.MemoryType, limit int) ([]memory.MemoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if typ != nil {
		filter["type"] = string(*typ)
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle != "" {
		filter["$or"] = bson.A{
			bson.M{"content": bson.M{"$regex": needle, "$options": "i"}},
			bson.M{"tags": bson.M{"$regex": needle, "$options": "i"}},
		}
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_accessed", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.memories.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []memory.MemoryEntry
	var ids []string
	for cur.Next(ctx) {
		var d memoryDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, memory.MemoryEntry{
			ID: d.ID, Type: memory.MemoryType(d.Type), Content: d.Content, Importance: d.Importance,
			Tags: d.Tags, RelatedGoalID: d.RelatedGoalID, CreatedAt: d.CreatedAt, LastAccessed: d.LastAccessed,
		})
		ids = append(ids, d.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		_, _ = s.memories.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": bson.M{"last_accessed": time.Now()}})
	}
	return out, nil
}

func (s *Store) Cleanup(ctx context.Context, keepDays int, keepMinImportance float64) (memory.CleanupStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	before := time.Now().AddDate(0, 0, -keepDays)
	var stats memory.CleanupStats

	var staleGoals []string
	cur, err := s.goals.Find(ctx, bson.M{"start_time": bson.M{"$lt": before}})
	if err != nil {
		return stats, err
	}
	for cur.Next(ctx) {
		var d goalDoc
		if err := cur.Decode(&d); err != nil {
			cur.Close(ctx)
			return stats, err
		}
		staleGoals = append(staleGoals, d.ID)
	}
	cur.Close(ctx)
	if len(staleGoals) > 0 {
		res, err := s.goals.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": staleGoals}})
		if err != nil {
			return stats, err
		}
		stats.GoalsDeleted = int(res.DeletedCount)
		if _, err := s.logs.DeleteMany(ctx, bson.M{"goal_id": bson.M{"$in": staleGoals}}); err != nil {
			return stats, err
		}
	}

	patRes, err := s.patterns.DeleteMany(ctx, bson.M{
		"confidence": bson.M{"$lt": memory.PruneConfidence},
		"$expr":      bson.M{"$gte": bson.A{bson.M{"$add": bson.A{"$success_count", "$fail_count"}}, memory.PruneUsageFloor}},
	})
	if err != nil {
		return stats, err
	}
	stats.PatternsPruned = int(patRes.DeletedCount)

	memRes, err := s.memories.DeleteMany(ctx, bson.M{
		"importance":    bson.M{"$lt": keepMinImportance},
		"last_accessed": bson.M{"$lt": before},
	})
	if err != nil {
		return stats, err
	}
	stats.MemoriesPruned = int(memRes.DeletedCount)
	return stats, nil
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
