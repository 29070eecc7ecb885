// Command server runs one stateless admission-control node: it authenticates
// callers, enforces the RPM/ITPM/OTPM sliding-window quotas against a shared Redis
// store, and forwards admitted requests to the (stubbed) downstream responder.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chatgate/internal/adaptive"
	"chatgate/internal/api"
	"chatgate/internal/config"
	"chatgate/internal/health"
	"chatgate/internal/limiter"
	"chatgate/internal/metrics"
	"chatgate/internal/registry"
	"chatgate/internal/store"
	"chatgate/internal/tokens"
	"chatgate/internal/window"
)

const serviceName = "rate-limiter"

// defaultModelForFallbackEncoding is the model the process-wide tokenizer is loaded
// for at startup. Per-request models still resolve their own encoding in a fuller
// implementation; the admission layer's own accounting only needs one consistent
// encoder per process.
const defaultModelForFallbackEncoding = "gpt-3.5-turbo"

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	counterStore := store.New(redisClient, cfg.StoreCallTimeout(), m, log)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreCallTimeout())
	err = counterStore.Ping(pingCtx)
	cancel()
	if err != nil {
		// StoreFatal: connectivity loss at startup means refuse to start.
		return err
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr()))

	win := window.New(counterStore, cfg.SegmentSize(), cfg.WindowSegments, log)
	lim := registry.New(nil)

	encoder, err := tokens.NewBPEEncoder(defaultModelForFallbackEncoding, log)
	if err != nil {
		// TokenizerError path: degrade to the byte-length/4 fallback rather than
		// fail to start.
		log.Warn("tokens: could not load any BPE encoding, falling back to byte-length estimate", zap.Error(err))
		encoder = nil
	}
	estimator := tokens.New(encoder, log)

	core := limiter.New(win, counterStore, lim, estimator, cfg.KeyTTL(), 256, log)
	core.Start(ctx)
	defer core.Stop()

	var guard *adaptive.Guard
	if cfg.AdaptiveGuardEnabled {
		guard = adaptive.NewGuard(float64(cfg.WindowSegments) * 20) // generous node-local ceiling
		var source health.Source
		if cfg.PrometheusHealthURL != "" {
			source, err = health.NewPrometheusSource(cfg.PrometheusHealthURL)
			if err != nil {
				log.Warn("adaptive: falling back to simulated health source", zap.Error(err))
				source = health.NewSimulatedSource(log)
			}
		} else {
			source = health.NewSimulatedSource(log)
		}
		monitor := adaptive.NewMonitor(guard, source, cfg.AdaptivePollInterval(), m.ThrottleFactor, log)
		go monitor.Run(ctx)
	}

	responder := api.NewResponder(estimator,
		time.Duration(cfg.MockDelayMinSeconds*float64(time.Second)),
		time.Duration(cfg.MockDelayMaxSeconds*float64(time.Second)))

	handler := api.NewHandler(core, guard, responder, m, log, serviceName, cfg.ServerPort)

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.ServerAddr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
