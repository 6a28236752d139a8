// Command server wires every collaborator (storage, LLM provider,
// confidence thresholds, resilience, discovery, planner, verifier,
// refinement, the async execution manager) and exposes them over the
// HTTP surface in api/ (spec §6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/adaptiveqa/browserpilot/api"
	"github.com/adaptiveqa/browserpilot/asyncexec"
	"github.com/adaptiveqa/browserpilot/cache"
	"github.com/adaptiveqa/browserpilot/confidence"
	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/discovery"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/orchestrator"
	"github.com/adaptiveqa/browserpilot/planner"
	"github.com/adaptiveqa/browserpilot/refinement"
	"github.com/adaptiveqa/browserpilot/resilience"
	"github.com/adaptiveqa/browserpilot/storage"
	"github.com/adaptiveqa/browserpilot/verifier"
)

func main() {
	ctx := context.Background()

	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		logger.Warn("tracing unavailable, continuing without a configured exporter", map[string]interface{}{"error": err.Error()})
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("storage initialized", map[string]interface{}{"type": cfg.Storage.Type})

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to initialize LLM provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("llm provider initialized", map[string]interface{}{"provider": cfg.LLM.Provider})

	confidenceSvc := confidence.New(store, logger)
	if err := confidenceSvc.Seed(ctx); err != nil {
		logger.Error("failed to seed confidence thresholds", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	domCache := cache.New(cache.Config{
		MaxEntries:    cfg.DOMCache.MaxEntries,
		TTL:           cfg.DOMCache.TTL,
		MaxEntryBytes: int(cfg.DOMCache.MaxEntryBytes),
	}, logger)

	retry := resilience.NewRetryStrategy(logger)
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		Timeout:          cfg.Resilience.RecoveryTimeout,
	}, logger)

	if metrics, err := resilience.NewOTelMetrics(); err != nil {
		logger.Warn("otel metrics unavailable, continuing without them", map[string]interface{}{"error": err.Error()})
	} else {
		breaker.AddStateChangeListener(metrics.Listener())
	}

	extractor := domextract.New(logger)

	discoveryEngine := discovery.New(logger,
		discovery.NewLLMDOMAnalysisStrategy(discovery.LLMDOMAnalysisOptions{
			Extractor: extractor,
			DOMCache:  domCache,
			Provider:  provider,
			Retry:     retry,
			Breaker:   breaker,
			Model:     llm.PlannerModel(cfg.LLM),
			Logger:    logger,
		}),
		discovery.NewVisionAIStrategy(discovery.VisionAIOptions{
			Extractor: extractor,
			DOMCache:  domCache,
			Provider:  provider,
			Retry:     retry,
			Breaker:   breaker,
			Model:     visionModel(cfg.LLM),
			Logger:    logger,
		}),
	)

	plannerSvc := planner.New(planner.Options{
		Provider: provider,
		Store:    store,
		Model:    llm.PlannerModel(cfg.LLM),
		Logger:   logger,
	})
	adaptivePlanner := planner.NewAdaptive(planner.AdaptiveOptions{
		Provider: provider,
		Store:    store,
		Model:    llm.PlannerModel(cfg.LLM),
		Logger:   logger,
	})
	verifierSvc := verifier.New(verifier.Options{
		Provider: provider,
		Model:    llm.PlannerModel(cfg.LLM),
		Logger:   logger,
	})

	refinementEngine := refinement.New(logger,
		refinement.NavigationRefinement{},
		refinement.FailureRefinement{},
		refinement.PageChangeRefinement{},
		refinement.ConfidenceRefinement{Thresholds: confidenceSvc},
		refinement.ProactiveRefinement{},
	)

	orchestratorCfg := orchestrator.Config{
		FailFast:            cfg.Orchestrator.FailFast,
		ProactiveRefinement: cfg.Orchestrator.ProactiveRefinement,
		NetworkIdleTimeout:  cfg.Orchestrator.NetworkIdleTimeout,
	}

	// The concrete browser driver is an external collaborator (spec §2
	// "Out of scope"): this process exposes the orchestration surface
	// but does not itself drive a browser. Operators plug in their own
	// BrowserSession-backed Executor by replacing newExecutor below.
	newExecutor := func(ctx context.Context) (orchestrator.Executor, error) {
		return nil, core.NewFrameworkError("cmd/server.newExecutor", "not_implemented",
			fmt.Errorf("%w: no browser driver is wired into this deployment", core.ErrValidation))
	}
	newOrchestrator := func(executor orchestrator.Executor, runCfg orchestrator.Config) *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Options{
			Executor:   executor,
			Discovery:  discoveryEngine,
			Adaptive:   adaptivePlanner,
			Verifier:   verifierSvc,
			Refinement: refinementEngine,
			Thresholds: confidenceSvc,
			Extractor:  extractor,
			Store:      store,
			Config:     runCfg,
			Logger:     logger,
		})
	}

	asyncManager := asyncexec.New(asyncexec.Options{
		Store:           store,
		NewExecutor:     newExecutor,
		NewOrchestrator: newOrchestrator,
		DefaultConfig:   orchestratorCfg,
		Logger:          logger,
	})

	server := api.NewServer(api.Options{
		Store:      store,
		Planner:    plannerSvc,
		Confidence: confidenceSvc,
		Async:      asyncManager,
		Logger:     logger,
	})

	addr := ":" + envOrDefault("PORT", "8080")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listener", map[string]interface{}{"addr": addr, "error": err.Error()})
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", map[string]interface{}{"addr": addr})
		errCh <- server.StartWithListener(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("shutdown complete", nil)
}

// setupTracing installs the process-wide TracerProvider the orchestrator
// and asyncexec packages' tracer.Start calls report into. With
// OTEL_EXPORTER_OTLP_ENDPOINT set it batches spans to a collector over
// gRPC; otherwise it falls back to a stdout exporter so spans are still
// visible in local/dev runs instead of silently going to the no-op
// global provider (grounded on the teacher's NewOTelProvider wiring, here
// adapted to the grpc exporter this module depends on).
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("browserpilot"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp grpc exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func newStore(cfg *core.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case core.StorageTypeRedis:
		return storage.NewRedis(storage.RedisOptions{
			URL:       cfg.Storage.RedisURL,
			Namespace: "browserpilot",
			Logger:    cfg.Logger(),
		})
	default:
		return storage.NewMemory(cfg.Logger()), nil
	}
}

// visionModel picks whichever vision-capable model the configured
// provider exposes; both providers' defaults already point at their
// multimodal chat models (spec §4.7's VISION_AI strategy).
func visionModel(cfg core.LLMConfig) string {
	if cfg.Provider == core.LLMProviderAnthropic {
		return cfg.AnthropicVisionModel
	}
	return cfg.OpenAIVisionModel
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
