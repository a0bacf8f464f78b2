// Command reminderd is the main entry point for the reminder dispatch core:
// it wires together the Task Store Client (internal/store), the Session
// Gateway (internal/gateway), the Deferred Dispatcher (internal/dispatch),
// and the outbound REST and device-wake channels (internal/outbound).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/reminderd/reminderd/internal/agent/extract"
	"github.com/reminderd/reminderd/internal/agent/orchestrator"
	"github.com/reminderd/reminderd/internal/agent/selector"
	"github.com/reminderd/reminderd/internal/agent/tool"
	"github.com/reminderd/reminderd/internal/config"
	"github.com/reminderd/reminderd/internal/dispatch"
	"github.com/reminderd/reminderd/internal/gateway"
	"github.com/reminderd/reminderd/internal/health"
	"github.com/reminderd/reminderd/internal/observe"
	"github.com/reminderd/reminderd/internal/outbound"
	"github.com/reminderd/reminderd/internal/outbound/rest"
	"github.com/reminderd/reminderd/internal/resilience"
	"github.com/reminderd/reminderd/internal/store"
	"github.com/reminderd/reminderd/internal/store/pgstore"
	llmopenai "github.com/reminderd/reminderd/pkg/provider/llm/openai"
	s2sopenai "github.com/reminderd/reminderd/pkg/provider/s2s/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reminderd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reminderd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("reminderd starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "reminderd"})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to parse store dsn", "err", err)
		return 1
	}
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to connect to store", "err", err)
		return 1
	}
	defer pool.Close()

	st := pgstore.New(pool)
	if err := st.Migrate(ctx); err != nil {
		logger.Error("failed to migrate store schema", "err", err)
		return 1
	}

	waker, err := outbound.New(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, logger,
		outboundTopicOption(cfg.MQTT.TopicPrefix)...)
	if err != nil {
		logger.Error("failed to connect to mqtt broker", "err", err)
		return 1
	}
	defer waker.Close()

	dispatcher, err := dispatch.New(cfg.Broker.URL, st, waker, logger)
	if err != nil {
		logger.Error("failed to initialise dispatcher", "err", err)
		return 1
	}
	defer dispatcher.Close()

	reg, err := buildToolRegistry(cfg, st, dispatcher)
	if err != nil {
		logger.Error("failed to build tool registry", "err", err)
		return 1
	}

	sel := selector.NewOpenAISelector(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model)
	orch := &orchestrator.Orchestrator{Selector: sel, Tools: reg}

	s2sProvider := s2sopenai.New(cfg.Providers.S2S.APIKey)

	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		if updated.Providers.S2S.APIKey != old.Providers.S2S.APIKey {
			s2sProvider.SetAPIKey(updated.Providers.S2S.APIKey)
			logger.Info("config watcher: rotated s2s provider credential")
		}
	})
	if err != nil {
		logger.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	gw := &gateway.Gateway{
		S2S:          s2sProvider,
		Store:        st,
		Orchestrator: orch,
		Voice:        cfg.Assistant.Voice,
		Instructions: cfg.Assistant.Instructions,
		Logger:       logger,
	}

	restHandler := rest.New(st, dispatcher, dispatcher, logger)
	healthHandler := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	traced := observe.Middleware(metrics)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", gw)
	wsServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: traced(wsMux)}
	g.Go(func() error { return runServer(gctx, wsServer, logger, "gateway") })

	restMux := http.NewServeMux()
	restHandler.Register(restMux)
	healthHandler.Register(restMux)
	// REST ingress additionally gets otelhttp's W3C propagation at the
	// outermost layer, ahead of the structured-logging/metrics middleware.
	restServer := &http.Server{
		Addr:    cfg.Server.RESTListenAddr,
		Handler: otelhttp.NewHandler(traced(restMux), "rest"),
	}
	g.Go(func() error { return runServer(gctx, restServer, logger, "rest") })

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observe.MetricsHandler())
	healthHandler.Register(metricsMux)
	metricsServer := &http.Server{Addr: cfg.Server.MetricsListenAddr, Handler: metricsMux}
	g.Go(func() error { return runServer(gctx, metricsServer, logger, "metrics") })

	logger.Info("reminderd ready — press Ctrl+C to shut down")

	<-gctx.Done()
	logger.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = restServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// runServer serves srv until ctx is cancelled, then returns nil (the caller
// handles graceful Shutdown separately). A bind or serve failure is
// returned so the errgroup cancels every other task.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger, name string) error {
	logger.Info("listening", "server", name, "addr", srv.Addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	<-ctx.Done()
	return nil
}

// outboundTopicOption returns a WithTopicPrefix option slice, empty when
// prefix is unset so outbound.New keeps its own default.
func outboundTopicOption(prefix string) []outbound.Option {
	if prefix == "" {
		return nil
	}
	return []outbound.Option{outbound.WithTopicPrefix(prefix)}
}

// buildToolRegistry constructs the five tool agents (C3) and registers them
// in selection order, compose-reply last so it is always a valid terminal
// choice (spec.md §4.4).
func buildToolRegistry(cfg *config.Config, st store.Store, dispatcher *dispatch.Dispatcher) (*tool.Registry, error) {
	extractor := extract.NewOpenAIExtractor(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model)
	llmProvider, err := llmopenai.New(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	// compose-reply is the only tool agent that calls the LLM for free-text
	// generation rather than a constrained tool call, and it sits on the
	// hot conversational path, so it is the one backend worth tripping a
	// breaker on rather than hammering a degraded provider every turn.
	guardedLLM := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "compose-reply-llm"},
	})

	reg := tool.NewRegistry()
	reg.Register(&tool.CreateTasks{Store: st, Extractor: extractor, Enqueuer: dispatcher})
	reg.Register(&tool.GetTasks{Store: st, Extractor: extractor})
	reg.Register(&tool.EditTasks{Store: st, Extractor: extractor})
	reg.Register(&tool.DeleteTasks{Store: st, Extractor: extractor})
	reg.Register(&tool.ComposeReply{Provider: guardedLLM, Model: cfg.Providers.LLM.Model})
	return reg, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
