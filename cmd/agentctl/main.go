// Command agentctl runs one goal locally without a connected operator
// peer, for development and debugging.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goagent.dev/mobileagent/controller"
	"goagent.dev/mobileagent/executor"
	"goagent.dev/mobileagent/memory/inmem"
	"goagent.dev/mobileagent/model/anthropic"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/telemetry"
	"goagent.dev/mobileagent/toolregistry"
)

func main() {
	var (
		maxSteps int
		timeout  time.Duration
		mode     string
		apiKey   string
		model    string
	)

	root := &cobra.Command{
		Use:   "agentctl <goal description>",
		Short: "Run one mobile-UI goal locally, without a connected operator peer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd.Context(), args[0], maxSteps, timeout, mode, apiKey, model)
		},
	}
	root.Flags().IntVar(&maxSteps, "max-steps", 20, "step budget for this goal")
	root.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "wall-clock deadline for this goal")
	root.Flags().StringVar(&mode, "mode", "smart", "execution mode: fast|smart|monitor|agent")
	root.Flags().StringVar(&apiKey, "api-key", os.Getenv("AGENT_MODEL_API_KEY"), "language-model API key")
	root.Flags().StringVar(&model, "model", os.Getenv("AGENT_MODEL_NAME"), "language-model identifier")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}

// stubSource and stubEffector mirror cmd/agentd's platform placeholders:
// the real accessibility-service/emulator bridge is out of this
// repository's scope.
type stubSource struct{}

func (stubSource) CaptureTree(ctx context.Context) ([]byte, string, string, error) {
	return nil, "", "", observer.ErrNoRootWindow
}

type stubEffector struct{}

func (stubEffector) Tap(ctx context.Context, x, y int) error { return nil }
func (stubEffector) Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error {
	return nil
}
func (stubEffector) InputText(ctx context.Context, text string) error        { return nil }
func (stubEffector) PressKey(ctx context.Context, key toolregistry.Key) error { return nil }
func (stubEffector) LaunchApp(ctx context.Context, pkg string) error          { return nil }

type allowAllPolicy struct{}

func (allowAllPolicy) Decide(ctx context.Context, rc recovery.Context) bool { return true }

type dismisserScreenSource struct {
	obs *observer.Observer
	eff toolregistry.Effector
}

func (d dismisserScreenSource) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	snap, err := d.obs.Snapshot(ctx, observer.ModeFull)
	if err != nil {
		return nil, "", err
	}
	return snap.Root, snap.Package, nil
}

func (d dismisserScreenSource) Tap(ctx context.Context, x, y int) error {
	return d.eff.Tap(ctx, x, y)
}

func runGoal(ctx context.Context, description string, maxSteps int, timeout time.Duration, mode, apiKey, modelID string) error {
	zapLogger, _ := zap.NewDevelopment()
	logger := telemetry.NewZapLogger(zapLogger)

	obs := observer.New(stubSource{}, logger)
	eff := stubEffector{}
	screen := controller.NewScreenProvider(obs)

	registry := toolregistry.New()
	if err := toolregistry.RegisterBuiltins(registry, eff, screen); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	pipeline := recovery.NewPipeline()
	pipeline.Register(recovery.NewPermissionDialogStrategy(allowAllPolicy{}))
	pipeline.Register(recovery.NewDialogDismissStrategy(dismisserScreenSource{obs: obs, eff: eff}))
	pipeline.Register(recovery.NewScreenChangedStrategy())
	pipeline.Register(recovery.NewElementNotFoundStrategy(3))
	pipeline.Register(recovery.NewNetworkErrorStrategy(nil, 5))

	var pl *planner.Planner
	if apiKey != "" {
		modelClient, err := anthropic.NewFromAPIKey(apiKey, anthropic.Options{DefaultModel: modelID})
		if err != nil {
			return fmt.Errorf("build model client: %w", err)
		}
		pl, err = planner.New(modelClient, registry, logger)
		if err != nil {
			return fmt.Errorf("build planner: %w", err)
		}
	}

	store := inmem.New()
	exec := executor.New(obs, registry, eff, pipeline, pl, store, logger, executor.WithMode(executor.Mode(mode)))

	goal := executor.Goal{
		ID:          "agentctl-" + time.Now().UTC().Format("20060102T150405"),
		Description: description,
		StepBudget:  maxSteps,
		Deadline:    time.Now().Add(timeout),
		Completion:  executor.CompletionPredicate{Kind: executor.PredicateModelDecided},
	}

	var plan *planner.ExecutionPlan
	if pl != nil {
		p, err := pl.Plan(ctx, description, planner.PlanningContext{})
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		plan = p
	} else {
		plan = &planner.ExecutionPlan{
			Root: &planner.Task{
				ID:          "root",
				Description: description,
				Type:        planner.TaskAIDecide,
				Status:      planner.StatusPending,
			},
			EstimatedSteps: maxSteps,
			Unstructured:   true,
		}
	}

	result, err := exec.Run(ctx, goal, plan)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
	return nil
}
