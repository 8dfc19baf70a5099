// Command seedlotd serves the seed-lot decision core over HTTP.
//
// Configuration is read from SEEDLOT_* environment variables; see
// internal/config. The process exits cleanly on SIGINT or SIGTERM after
// draining in-flight requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seedlot/internal/blob"
	blobcore "seedlot/internal/blob/core"
	"seedlot/internal/config"
	"seedlot/internal/core"
	"seedlot/internal/httpapi"
	s3blob "seedlot/internal/infra/blob/s3"
	redislock "seedlot/internal/infra/lock/redis"
	"seedlot/internal/platform/logger"
	"seedlot/internal/platform/tracing"
	"seedlot/internal/ruleset"
)

const shutdownTimeout = 10 * time.Second

var (
	version  = "dev"
	exitFunc = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := config.FromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	a, err := build(ctx, cfg, log, stdout)
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	defer a.close(log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return 1
	}
	log.Info("stopped")
	return 0
}

type app struct {
	service *core.Service
	handler http.Handler
	closers []func(context.Context) error
}

func (a *app) close(log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func closer(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

// build wires every backend named by cfg. On error the resources opened so far
// are released.
func build(ctx context.Context, cfg config.Config, log *logger.Logger, traceOut io.Writer) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close(log)
			a = nil
		}
	}()

	engine := core.NewRulesEngineWithInspectionAge(cfg.Assessment.MaxInspectionAge)
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, engine)
	if err != nil {
		return a, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, closer(c))
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: blobcore.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: s3blob.Config{
			Region:    cfg.Blob.S3Region,
			Bucket:    cfg.Blob.S3Bucket,
			Endpoint:  cfg.Blob.S3Endpoint,
			PathStyle: cfg.Blob.S3PathStyle,
		},
	})
	if err != nil {
		return a, fmt.Errorf("open blob store: %w", err)
	}

	var src ruleset.Source = ruleset.BlobSource{Store: blobs}
	if cfg.Rulesets.Dir != "" {
		src = ruleset.DirSource{Dir: cfg.Rulesets.Dir}
	}

	var locker core.Locker = core.NewKeyedLocker()
	if cfg.RedisAddr != "" {
		rl, err := redislock.Dial(ctx, cfg.RedisAddr, redislock.Options{})
		if err != nil {
			return a, fmt.Errorf("connect lock service: %w", err)
		}
		a.closers = append(a.closers, closer(rl))
		locker = rl
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return a, fmt.Errorf("register metrics: %w", err)
	}

	tracer, shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version, traceOut)
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	a.service = core.NewService(store,
		core.WithLogger(log),
		core.WithAuditRecorder(core.NewLoggerAuditRecorder(log)),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(core.NewOTelTracer(tracer)),
		core.WithLocker(locker),
		core.WithRulesetProvider(ruleset.NewLoader(src), cfg.Rulesets.Version),
		core.WithBlobStore(blobs),
		core.WithReviewThreshold(cfg.Assessment.ReviewThreshold),
		core.WithAssessmentValidity(cfg.Assessment.Validity),
		core.WithMaxInspectionAge(cfg.Assessment.MaxInspectionAge),
	)
	a.handler = httpapi.New(a.service, log,
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	).Router()
	log.Info("backends ready",
		"storage", cfg.Storage.Driver,
		"blob", blobs.Driver(),
		"rulesets", cfg.Rulesets.Version,
		"distributed_lock", cfg.RedisAddr != "",
	)
	return a, nil
}
