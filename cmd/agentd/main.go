// Command agentd is the long-lived service entrypoint: it starts the
// operator protocol server and owns the controller handle.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"goa.design/pulse/streaming"

	"goagent.dev/mobileagent/config"
	"goagent.dev/mobileagent/controller"
	"goagent.dev/mobileagent/executor"
	"goagent.dev/mobileagent/executor/engine"
	engineinmem "goagent.dev/mobileagent/executor/engine/inmem"
	"goagent.dev/mobileagent/executor/engine/temporal"
	"goagent.dev/mobileagent/memory"
	"goagent.dev/mobileagent/memory/inmem"
	mongostore "goagent.dev/mobileagent/memory/mongo"
	"goagent.dev/mobileagent/model"
	"goagent.dev/mobileagent/model/anthropic"
	"goagent.dev/mobileagent/model/openai"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/operator"
	"goagent.dev/mobileagent/operator/stream"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/telemetry"
	"goagent.dev/mobileagent/toolregistry"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentd: config:", err)
		os.Exit(1)
	}

	zapLogger, _ := zap.NewProduction()
	logger := telemetry.NewZapLogger(zapLogger)
	metrics := telemetry.NewOTelMetrics("agentd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "agentd: build store failed", "error", err)
		os.Exit(1)
	}
	if closeStore != nil {
		defer closeStore()
	}

	modelClient, err := buildModelClient(ctx, cfg.Model)
	if err != nil {
		logger.Error(ctx, "agentd: build model client failed", "error", err)
		os.Exit(1)
	}

	obs := observer.New(stubSource{}, logger)
	eff := stubEffector{}
	screen := controller.NewScreenProvider(obs)

	registry := toolregistry.New()
	if err := toolregistry.RegisterBuiltins(registry, eff, screen); err != nil {
		logger.Error(ctx, "agentd: register builtins failed", "error", err)
		os.Exit(1)
	}

	pl, err := planner.New(modelClient, registry, logger)
	if err != nil {
		logger.Error(ctx, "agentd: build planner failed", "error", err)
		os.Exit(1)
	}

	pipeline := buildRecoveryPipeline(obs, eff)

	hub := operator.NewHub(logger)
	go hub.Run(ctx)
	if closeStreamPub := wireStreamSink(cfg.Stream, hub); closeStreamPub != nil {
		defer closeStreamPub()
	}

	eng, closeEngine, err := buildEngine(cfg.Engine, logger)
	if err != nil {
		logger.Error(ctx, "agentd: build engine failed", "error", err)
		os.Exit(1)
	}
	if closeEngine != nil {
		defer closeEngine()
	}

	mode := executor.Mode(cfg.ExecutionMode)
	handle := controller.New(controller.Deps{
		Observer:          obs,
		Registry:          registry,
		Effector:          eff,
		Recovery:          pipeline,
		Planner:           pl,
		Store:             store,
		Hub:               hub,
		Metrics:           metrics,
		Logger:            logger,
		Mode:              mode,
		DefaultStepBudget: cfg.DefaultStepBudget,
		DefaultTimeout:    cfg.DefaultTimeout,
		Engine:            eng,
	})

	go handle.StartCleanupLoop(ctx, 24*time.Hour, 30, 0.2)

	mux := http.NewServeMux()
	mux.Handle("/operator", operator.NewHandler(hub, handle, logger))

	srv := &http.Server{Addr: cfg.OperatorAddr, Handler: mux}
	go func() {
		logger.Info(ctx, "agentd: operator protocol listening", "addr", cfg.OperatorAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "agentd: server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "agentd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg config.Config) (memory.Store, func(), error) {
	if cfg.Mongo.URI == "" {
		return inmem.New(), nil, nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	store, err := mongostore.New(ctx, mongostore.Options{Client: client, Database: cfg.Mongo.Database})
	if err != nil {
		return nil, nil, fmt.Errorf("build mongo store: %w", err)
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	return store, closeFn, nil
}

func buildModelClient(ctx context.Context, cfg config.ModelConfig) (model.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewFromAPIKey(cfg.APIKey, openai.Options{DefaultModel: cfg.Model})
	case "bedrock":
		// model/bedrock.New takes an already-configured bedrockruntime
		// client (AWS credential resolution is a deployment concern, not
		// this service's); embedders that need the bedrock provider
		// construct their own runtime client and call model/bedrock.New
		// directly instead of going through this switch.
		return nil, fmt.Errorf("bedrock provider requires a pre-configured runtime client; wire model/bedrock.New directly")
	case "anthropic", "":
		return anthropic.NewFromAPIKey(cfg.APIKey, anthropic.Options{DefaultModel: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// buildEngine selects the durable-execution backend for goal runs: Temporal
// when a frontend address is configured, the in-memory engine otherwise.
// Either way goal runs go through engine.Engine rather than a bare
// goroutine, so a later switch to Temporal needs no executor changes.
func buildEngine(cfg config.EngineConfig, logger telemetry.Logger) (engine.Engine, func(), error) {
	if cfg.TemporalHostPort == "" {
		return engineinmem.New(), nil, nil
	}
	taskQueue := cfg.TaskQueue
	if taskQueue == "" {
		taskQueue = "mobileagent-goals"
	}
	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{HostPort: cfg.TemporalHostPort, Namespace: cfg.Namespace},
		TaskQueue:     taskQueue,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build temporal engine: %w", err)
	}
	return eng, eng.Close, nil
}

// wireStreamSink attaches a Pulse/Redis-backed out-of-process broadcast
// sink to hub when cfg.RedisAddr is configured, so frames also reach
// consumers that never open a websocket. Returns a cleanup function, or
// nil if streaming is disabled.
func wireStreamSink(cfg config.StreamConfig, hub *operator.Hub) func() {
	if cfg.RedisAddr == "" {
		return nil
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pulseClient := stream.NewRedisBackedClient(func(name string) (*streaming.Stream, error) {
		return streaming.NewStream(name, redisClient)
	})
	pub, err := stream.NewPublisher(pulseClient, nil)
	if err != nil {
		_ = redisClient.Close()
		return nil
	}
	hub.SetSink(func(env *operator.Envelope) {
		_ = pub.Publish(context.Background(), "broadcast", env)
	})
	return func() { _ = redisClient.Close() }
}

func buildRecoveryPipeline(obs *observer.Observer, eff toolregistry.Effector) *recovery.Pipeline {
	pipeline := recovery.NewPipeline()
	pipeline.Register(recovery.NewAppCrashStrategy(noopRelauncher{}))
	pipeline.Register(recovery.NewPermissionDialogStrategy(allowAllPolicy{}))
	pipeline.Register(recovery.NewDialogDismissStrategy(dismisserScreenSource{obs: obs, eff: eff}))
	pipeline.Register(recovery.NewScreenChangedStrategy())
	pipeline.Register(recovery.NewElementNotFoundStrategy(3))
	pipeline.Register(recovery.NewNetworkErrorStrategy(nil, 5))
	return pipeline
}
