package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/executor"
	"goagent.dev/mobileagent/memory/inmem"
	"goagent.dev/mobileagent/model"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/operator"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/toolregistry"
)

const screenWithConfirmButton = `{"class":"Root","bounds":[0,0,1080,1920],"children":[` +
	`{"class":"Button","text":"确认","resourceId":"btn.ok","bounds":[440,910,640,1010],"clickable":true,"enabled":true}]}`

const screenAfterTap = `{"class":"Root","bounds":[0,0,1080,1920],"children":[` +
	`{"class":"Button","text":"确认","resourceId":"btn.ok","bounds":[440,910,640,1010],"clickable":true,"enabled":true},` +
	`{"class":"TextView","text":"已点击确认","resourceId":"txt.done"}]}`

type scriptedSource struct {
	trees [][]byte
	idx   int
}

func (s *scriptedSource) CaptureTree(context.Context) ([]byte, string, string, error) {
	i := s.idx
	if i >= len(s.trees) {
		i = len(s.trees) - 1
	}
	s.idx++
	return s.trees[i], "com.example", "MainActivity", nil
}

type recordingEffector struct {
	taps []struct{ x, y int }
}

func (e *recordingEffector) Tap(ctx context.Context, x, y int) error {
	e.taps = append(e.taps, struct{ x, y int }{x, y})
	return nil
}
func (e *recordingEffector) Swipe(context.Context, int, int, int, int, int) error { return nil }
func (e *recordingEffector) InputText(context.Context, string) error             { return nil }
func (e *recordingEffector) PressKey(context.Context, toolregistry.Key) error     { return nil }
func (e *recordingEffector) LaunchApp(context.Context, string) error              { return nil }

type fixedPlanModelClient struct{}

func (fixedPlanModelClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{Text: `{"tasks":[{"id":"t1","description":"tap confirm","type":"primitive",` +
		`"tool":"tap_element","params":{"text":"确认"}}],"estimated_steps":1}`}, nil
}

func newTestHandle(t *testing.T, trees [][]byte) (*Handle, *recordingEffector) {
	t.Helper()
	obs := observer.New(&scriptedSource{trees: trees}, nil)
	eff := &recordingEffector{}
	screen := NewScreenProvider(obs)

	registry := toolregistry.New()
	require.NoError(t, toolregistry.RegisterBuiltins(registry, eff, screen))

	pl, err := planner.New(fixedPlanModelClient{}, registry, nil)
	require.NoError(t, err)

	pipeline := recovery.NewPipeline()
	store := inmem.New()

	h := New(Deps{
		Observer: obs,
		Registry: registry,
		Effector: eff,
		Recovery: pipeline,
		Planner:  pl,
		Store:    store,
		Mode:     executor.ModeSmart,
	})
	return h, eff
}

func waitForIdle(t *testing.T, h *Handle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		running := h.running
		h.mu.Unlock()
		if !running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("goal did not finish in time")
}

func TestExecuteGoalTrivialTap(t *testing.T) {
	h, eff := newTestHandle(t, [][]byte{
		[]byte(screenWithConfirmButton),
		[]byte(screenAfterTap),
		[]byte(screenAfterTap),
	})

	goalID, err := h.ExecuteGoal(context.Background(), operator.GoalPayload{
		Description: "点击屏幕上的'确认'按钮", MaxSteps: 5, TimeoutSeconds: 30,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, goalID)

	waitForIdle(t, h)
	assert.Len(t, eff.taps, 1)
}

func TestExecuteGoalRejectsConcurrentRun(t *testing.T) {
	h, _ := newTestHandle(t, [][]byte{[]byte(screenWithConfirmButton)})
	h.running = true

	_, err := h.ExecuteGoal(context.Background(), operator.GoalPayload{Description: "x"})
	assert.Error(t, err)
}

func TestPauseResumeStopDelegateToExecutor(t *testing.T) {
	h, _ := newTestHandle(t, [][]byte{[]byte(screenWithConfirmButton)})
	require.NoError(t, h.Pause())
	require.NoError(t, h.Resume())
	require.NoError(t, h.Stop())
	assert.Equal(t, executor.StateIdle, h.exec.State())
}

func TestDispatchToolInvokesRegistry(t *testing.T) {
	h, eff := newTestHandle(t, [][]byte{[]byte(screenWithConfirmButton)})
	res, err := h.DispatchTool(context.Background(), "tap", map[string]any{"x": 10, "y": 20})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, eff.taps, 1)
	assert.Equal(t, 10, eff.taps[0].x)
}

func TestStatsReflectsObserverCounters(t *testing.T) {
	h, _ := newTestHandle(t, [][]byte{[]byte(screenWithConfirmButton)})
	_, _ = h.CurrentScreen(context.Background())
	stats := h.Stats()
	assert.GreaterOrEqual(t, stats.FullCount+stats.IncrementalCount, int64(1))
}
