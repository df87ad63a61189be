// Command engine runs the flow engine: the Trigger Engine, the Status
// Updater, the Dispatcher & Actor Pool, and the inbound HTTP surface,
// wired together the way the teacher's cmd/demo/main.go wires its own
// runtime collaborators directly in main rather than through a DI
// framework.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"flowengine/internal/actor"
	"flowengine/internal/config"
	"flowengine/internal/engine/actorpool"
	"flowengine/internal/engine/temporal"
	"flowengine/internal/flow"
	"flowengine/internal/handlers"
	"flowengine/internal/hooks"
	"flowengine/internal/httpapi"
	"flowengine/internal/reply"
	"flowengine/internal/store"
	"flowengine/internal/store/inmem"
	storemongo "flowengine/internal/store/mongo"
	"flowengine/internal/statusupdater"
	"flowengine/internal/telemetry"
	"flowengine/internal/triggerengine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		exitf("config: %v", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	st, closeStore := mustStore(ctx, cfg)
	defer closeStore()

	bus, closeBus := mustBus(ctx, cfg, logger)
	defer closeBus()

	updater := statusupdater.New(st, bus, logger, metrics, tracer)
	go updater.Run(ctx, ctx.Done())

	replyRegistry := reply.New()
	registry := handlers.NewRegistry()
	wireReplies(registry, replyRegistry)

	taskDeps := actor.TaskDeps{
		Handlers: registry,
		Updater:  updater,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	}
	dispatcher, closeDispatcher := mustDispatcher(cfg, taskDeps, logger, metrics, tracer)
	defer closeDispatcher()
	go func() {
		if p, ok := dispatcher.(*actorpool.Pool); ok {
			p.Supervise(ctx, ctx.Done())
		}
	}()

	dispatch := func(ctx context.Context, msg flow.ProcessorMessage) {
		go func() {
			deps := actor.WorkflowDeps{Updater: updater, Pool: dispatcher, Logger: logger, Metrics: metrics, Tracer: tracer}
			if _, err := actor.RunWithLimiter(ctx, deps, msg, nil); err != nil {
				logger.Error(ctx, "cron-triggered workflow run failed", "session_id", msg.SessionID, "error", err.Error())
			}
		}()
	}
	triggers := triggerengine.New(st, dispatch, logger, metrics)
	go triggers.RunForever(ctx, ctx.Done())

	srv := httpapi.NewServer(st, dispatcher, replyRegistry, updater, logger, metrics, tracer)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "flow engine listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// wireReplies gives the Response and agent-tool-call-reply handlers access
// to the Synchronous Reply Registry (spec.md §4.9) without making the
// registry part of the generic handlers.Registry construction.
func wireReplies(registry *handlers.Registry, replier handlers.Replier) {
	if h, ok := registry.Lookup(flow.PluginResponse); ok {
		if r, ok := h.(*handlers.ResponseHandler); ok {
			r.SetReplier(replier)
		}
	}
	if h, ok := registry.Lookup(flow.PluginAgentToolCallReply); ok {
		if r, ok := h.(*handlers.AgentToolCallReplyHandler); ok {
			r.SetReplier(replier)
		}
	}
}

// mustStore wires the in-memory store for local development (no
// FLOWENGINE_MONGO_URI) or the MongoDB-backed store for production.
func mustStore(ctx context.Context, cfg config.Config) (store.Store, func()) {
	if cfg.MongoURI == "" {
		return inmem.New(), func() {}
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		exitf("mongo connect: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		exitf("mongo ping: %v", err)
	}
	db := client.Database(cfg.MongoDatabase)
	return storemongo.New(db), func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(closeCtx)
	}
}

// mustBus wires the Pulse-backed, cross-replica change bus when
// FLOWENGINE_REDIS_ADDR is configured, falling back to the in-memory bus
// for single-replica deployments and local development.
func mustBus(ctx context.Context, cfg config.Config, logger telemetry.Logger) (hooks.Bus, func()) {
	if cfg.RedisAddr == "" {
		return hooks.NewBus(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pulseClient, err := hooks.NewPulseClient(ctx, rdb)
	if err != nil {
		logger.Warn(ctx, "pulse client init failed, falling back to in-memory bus", "error", err.Error())
		return hooks.NewBus(), func() { _ = rdb.Close() }
	}
	stream, err := pulseClient.Stream("flowengine.status_updates")
	if err != nil {
		logger.Warn(ctx, "pulse stream init failed, falling back to in-memory bus", "error", err.Error())
		return hooks.NewBus(), func() { _ = rdb.Close() }
	}
	return hooks.NewPulseBus(stream), func() {
		_ = pulseClient.Close(context.Background())
		_ = rdb.Close()
	}
}

// mustDispatcher wires the default in-process actor pool, or — when
// FLOWENGINE_TEMPORAL_HOST_PORT is configured — the Temporal-durable
// Dispatcher (internal/engine/temporal), so a deployment can move task
// execution onto a durable backend without the Workflow Actor or the HTTP
// surface knowing the difference (spec.md §4.5).
func mustDispatcher(cfg config.Config, taskDeps actor.TaskDeps, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) (actor.Dispatcher, func()) {
	if cfg.TemporalHostPort == "" {
		return actorpool.New(cfg.ActorPool, taskDeps, logger, metrics), func() {}
	}

	d, err := temporal.New(temporal.Config{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		TaskQueue: cfg.TemporalTaskQueue,
	}, taskDeps, logger, metrics, tracer)
	if err != nil {
		exitf("temporal dispatcher: %v", err)
	}
	return d, d.Close
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "flow engine: fatal: "+format+"\n", args...)
	os.Exit(1)
}
