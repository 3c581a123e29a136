package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/controller"
	"goagent.dev/mobileagent/executor"
	"goagent.dev/mobileagent/memory/inmem"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/toolregistry"
)

// fakeDevice is a minimal screen source + effector whose foreground package
// switches when launch_app is invoked, letting a reached-app-screen
// completion predicate fire naturally.
type fakeDevice struct {
	mu  sync.Mutex
	pkg string
}

func (d *fakeDevice) CaptureTree(ctx context.Context) ([]byte, string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte(`{"class":"root","children":[]}`), d.pkg, "MainActivity", nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error                { return nil }
func (d *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2, ms int) error { return nil }
func (d *fakeDevice) InputText(ctx context.Context, text string) error       { return nil }
func (d *fakeDevice) PressKey(ctx context.Context, key toolregistry.Key) error { return nil }

func (d *fakeDevice) LaunchApp(ctx context.Context, pkg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pkg = pkg
	return nil
}

type fakeScreenProvider struct{ dev *fakeDevice }

func (p fakeScreenProvider) CurrentDigest(ctx context.Context) (toolregistry.ScreenDigest, error) {
	return toolregistry.ScreenDigest{Package: p.dev.pkg, Summary: "(empty)"}, nil
}
func (p fakeScreenProvider) FindElementByText(ctx context.Context, text string) (int, int, bool, error) {
	return 0, 0, false, nil
}
func (p fakeScreenProvider) ScreenSize(ctx context.Context) (int, int, error) { return 1080, 1920, nil }

func newTestExecutor(t *testing.T, dev *fakeDevice, mode executor.Mode) (*executor.Executor, *inmem.Store) {
	t.Helper()
	reg := toolregistry.New()
	require.NoError(t, toolregistry.RegisterBuiltins(reg, dev, fakeScreenProvider{dev: dev}))
	obs := observer.New(dev, nil)
	pipeline := recovery.NewPipeline()
	store := inmem.New()
	return executor.New(obs, reg, dev, pipeline, nil, store, nil, executor.WithMode(mode)), store
}

func TestRunSucceedsWhenCompletionPredicateIsMet(t *testing.T) {
	dev := &fakeDevice{pkg: "com.android.launcher"}
	exec, store := newTestExecutor(t, dev, executor.ModeFast)

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskPrimitive, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolLaunchApp, Params: map[string]any{"package": "com.test.app"},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1}

	goal := executor.Goal{
		ID:          "g1",
		Description: "打开测试应用",
		Completion:  executor.CompletionPredicate{Kind: executor.PredicateReachedAppScreen, Pkg: "com.test.app"},
		StepBudget:  5,
	}

	result, err := exec.Run(context.Background(), goal, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.StepsExecuted)
	assert.Equal(t, executor.StateStopped, exec.State())

	logs, err := store.ActionLogs(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, logs, result.StepsExecuted)
	assert.Equal(t, 1, logs[0].StepNumber)
	assert.Equal(t, "launch_app", logs[0].ToolName)
}

func TestRunReportsStepBudgetExceeded(t *testing.T) {
	dev := &fakeDevice{pkg: "com.android.launcher"}
	exec, store := newTestExecutor(t, dev, executor.ModeFast)

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskAIDecide, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolWait, Params: map[string]any{"duration_ms": 1},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1, Unstructured: true}

	goal := executor.Goal{
		ID:          "g2",
		Description: "永远找不到的目标",
		Completion:  executor.CompletionPredicate{Kind: executor.PredicateReachedAppScreen, Pkg: "com.never.matches"},
		StepBudget:  3,
	}

	result, err := exec.Run(context.Background(), goal, plan)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, executor.ErrStepBudgetExceeded, result.Error)
	assert.Equal(t, 3, result.StepsExecuted)

	logs, err := store.ActionLogs(context.Background(), "g2")
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestZeroStepBudgetFailsWithoutExecuting(t *testing.T) {
	dev := &fakeDevice{pkg: "com.android.launcher"}
	exec, store := newTestExecutor(t, dev, executor.ModeFast)

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskPrimitive, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolWait, Params: map[string]any{"duration_ms": 1},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1}

	goal := executor.Goal{ID: "g0", StepBudget: 0}
	result, err := exec.Run(context.Background(), goal, plan)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, executor.ErrStepBudgetExceeded, result.Error)
	assert.Equal(t, 0, result.StepsExecuted)

	logs, err := store.ActionLogs(context.Background(), "g0")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestPauseBlocksUntilResume(t *testing.T) {
	dev := &fakeDevice{pkg: "com.android.launcher"}
	exec, _ := newTestExecutor(t, dev, executor.ModeFast)
	exec.Pause()

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskPrimitive, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolLaunchApp, Params: map[string]any{"package": "com.test.app"},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1}

	goal := executor.Goal{
		ID:         "g3",
		Completion: executor.CompletionPredicate{Kind: executor.PredicateReachedAppScreen, Pkg: "com.test.app"},
		StepBudget: 5,
	}

	done := make(chan executor.Result, 1)
	go func() {
		r, _ := exec.Run(context.Background(), goal, plan)
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, executor.StatePaused, exec.State())
	exec.Resume()

	select {
	case r := <-done:
		assert.True(t, r.Success)
	case <-time.After(time.Second):
		t.Fatal("run did not complete after resume")
	}
}

func TestCancelStopsTheRun(t *testing.T) {
	dev := &fakeDevice{pkg: "com.android.launcher"}
	exec, _ := newTestExecutor(t, dev, executor.ModeFast)
	exec.Pause()

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskPrimitive, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolLaunchApp, Params: map[string]any{"package": "com.test.app"},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1}

	goal := executor.Goal{
		ID:         "g4",
		Completion: executor.CompletionPredicate{Kind: executor.PredicateReachedAppScreen, Pkg: "com.test.app"},
		StepBudget: 5,
	}

	done := make(chan executor.Result, 1)
	go func() {
		r, _ := exec.Run(context.Background(), goal, plan)
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	exec.Cancel()

	select {
	case r := <-done:
		assert.False(t, r.Success)
		assert.Equal(t, executor.ErrCancelled, r.Error)
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

// popupDevice serves a dialog tree until its close button is tapped, then a
// launcher tree with a clickable 微信 entry.
type popupDevice struct {
	mu       sync.Mutex
	hasPopup bool
	taps     int
}

const dialogTree = `{"class":"Root","bounds":[0,0,1080,1920],"children":[` +
	`{"class":"TextView","text":"温馨提示","bounds":[200,700,880,780]},` +
	`{"class":"Button","text":"暂不","clickable":true,"enabled":true,"bounds":[400,900,680,1000]}]}`

const launcherTree = `{"class":"Root","bounds":[0,0,1080,1920],"children":[` +
	`{"class":"TextView","text":"微信","clickable":true,"enabled":true,"bounds":[100,100,300,200]}]}`

func (d *popupDevice) CaptureTree(context.Context) ([]byte, string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasPopup {
		return []byte(dialogTree), "com.android.launcher", "Launcher", nil
	}
	return []byte(launcherTree), "com.android.launcher", "Launcher", nil
}

func (d *popupDevice) Tap(ctx context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taps++
	d.hasPopup = false
	return nil
}

func (d *popupDevice) Swipe(ctx context.Context, x1, y1, x2, y2, ms int) error  { return nil }
func (d *popupDevice) InputText(ctx context.Context, text string) error         { return nil }
func (d *popupDevice) PressKey(ctx context.Context, key toolregistry.Key) error { return nil }
func (d *popupDevice) LaunchApp(ctx context.Context, pkg string) error          { return nil }

func TestSmartModeLogsPopupDismissalAsItsOwnStep(t *testing.T) {
	dev := &popupDevice{hasPopup: true}
	obs := observer.New(dev, nil)
	reg := toolregistry.New()
	require.NoError(t, toolregistry.RegisterBuiltins(reg, dev, controller.NewScreenProvider(obs)))
	store := inmem.New()
	exec := executor.New(obs, reg, dev, recovery.NewPipeline(), nil, store, nil, executor.WithMode(executor.ModeSmart))

	root := &planner.Task{ID: "root", Type: planner.TaskComposite, Status: planner.StatusPending}
	leaf := &planner.Task{
		ID: "t1", Type: planner.TaskPrimitive, Status: planner.StatusPending, Parent: root,
		Tool: toolregistry.ToolTapElement, Params: map[string]any{"text": "微信"},
	}
	root.Children = []*planner.Task{leaf}
	plan := &planner.ExecutionPlan{Root: root, EstimatedSteps: 1}

	goal := executor.Goal{
		ID: "g5", Description: "打开微信", StepBudget: 5,
		Completion: executor.CompletionPredicate{Kind: executor.PredicateModelDecided},
	}

	result, err := exec.Run(context.Background(), goal, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.PopupsDismissed)
	assert.Equal(t, 2, result.StepsExecuted)

	logs, err := store.ActionLogs(context.Background(), "g5")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "dismiss_popup", logs[0].ToolName)
	assert.Equal(t, 1, logs[0].StepNumber)
	assert.Equal(t, "tap_element", logs[1].ToolName)
	assert.Equal(t, 2, logs[1].StepNumber)
}
