// Package service assembles the analysis service from configuration and runs
// it until its context is cancelled.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"verifai/internal/callback"
	"verifai/internal/detector"
	"verifai/internal/http/handlers"
	"verifai/internal/http/httpapi"
	"verifai/internal/imagesource"
	"verifai/internal/infra"
	"verifai/internal/metadata"
	"verifai/internal/pipeline"
	"verifai/internal/provenance"
	"verifai/internal/ratelimit"
	"verifai/internal/telemetry"
)

// Service owns every long-lived component of the API process.
type Service struct {
	cfg    *infra.Config
	logger zerolog.Logger

	Telemetry    *telemetry.Provider
	Orchestrator *pipeline.Orchestrator
	Handler      http.Handler
	server       *infra.HTTPServer

	closers []func() error
}

// New wires the service. The model is optional: when it cannot be loaded the
// service still runs and every report degrades to low confidence.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Service, error) {
	s := &Service{cfg: cfg, logger: logger}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelEndpoint,
		Protocol: cfg.OTelProtocol,
		Service:  infra.ServiceName,
		Version:  cfg.Version,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.Telemetry = tel

	orch, closeModel, err := NewPipeline(ctx, cfg, logger, tel, callback.NewClient(cfg.CallbackAuthSecret, cfg.CallbackTimeout, nil))
	if err != nil {
		tel.Shutdown(ctx)
		return nil, err
	}
	s.Orchestrator = orch
	s.closers = append(s.closers, closeModel)

	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	s.closers = append(s.closers, closeLimiter)

	app := handlers.NewApp(orch, logger)
	app.MaxBodyBytes = handlers.BodyLimitForImage(cfg.MaxImageBytes)
	s.Handler = httpapi.NewRouter(app, httpapi.Options{
		SharedSecret:    cfg.SharedSecret,
		Limiter:         limiter,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	s.server = infra.NewHTTPServer(cfg, s.Handler)
	return s, nil
}

// NewPipeline builds the orchestrator and its collaborators. The returned
// func releases the detector model.
func NewPipeline(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, tel *telemetry.Provider, deliverer callback.Deliverer) (*pipeline.Orchestrator, func() error, error) {
	fetcher, err := newFetcher(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	pool, closeModel := newDetector(cfg, logger, tel)

	orch := pipeline.New(pipeline.Deps{
		Fetcher:    fetcher,
		Extractor:  metadata.NewExtractor(),
		Provenance: provenance.NewChecker(),
		Detector:   pool,
		Callback:   deliverer,
		Telemetry:  tel,
		Logger:     logger,
	})
	return orch, closeModel, nil
}

func newDetector(cfg *infra.Config, logger zerolog.Logger, tel *telemetry.Provider) (*detector.Pool, func() error) {
	opts := detector.PoolOptions{
		MaxConcurrency: int64(cfg.DetectorMaxConcurrency),
		Timeout:        cfg.InferenceTimeout,
		Logger:         logger,
		OnResult: func(ok bool, elapsed time.Duration) {
			tel.RecordInference(context.Background(), ok, elapsed)
		},
	}
	model, err := detector.LoadONNX(detector.ONNXOptions{
		BundleDir:     cfg.ModelBundleDir(),
		MaxDimension:  cfg.MaxImageDimension,
		MaxPixels:     cfg.MaxImagePixels,
		SharedLibrary: cfg.OnnxRuntimeLibrary,
	})
	if err != nil {
		logger.Warn().Err(err).Str("model", cfg.ModelName).Msg("detector model unavailable; reports will carry no score")
		return detector.NewPool(nil, opts), func() error { return nil }
	}
	logger.Info().
		Str("model", cfg.ModelName).
		Strs("labels", model.Labels()).
		Int("max_concurrency", cfg.DetectorMaxConcurrency).
		Msg("detector model loaded")
	return detector.NewPool(model, opts), model.Close
}

func newFetcher(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*imagesource.Resolver, error) {
	var store imagesource.ObjectStore
	switch {
	case cfg.ObjectStoreDir != "":
		fs, err := imagesource.NewFileStore(cfg.ObjectStoreDir)
		if err != nil {
			return nil, fmt.Errorf("object store dir: %w", err)
		}
		logger.Info().Str("path", fs.BasePath()).Msg("object store: local directory")
		store = fs
	case cfg.ObjectStoreBucket != "" || cfg.ObjectStoreEndpoint != "":
		s3Store, err := imagesource.NewS3Store(ctx, imagesource.S3Options{
			Region:       cfg.ObjectStoreRegion,
			Endpoint:     cfg.ObjectStoreEndpoint,
			UsePathStyle: cfg.ObjectStorePathStyle,
			MaxBytes:     cfg.MaxImageBytes,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.ObjectStoreBucket).Str("endpoint", cfg.ObjectStoreEndpoint).Msg("object store: s3")
		store = s3Store
	}
	return imagesource.NewResolver(imagesource.Options{
		Timeout:       cfg.DownloadTimeout,
		MaxBytes:      cfg.MaxImageBytes,
		Store:         store,
		DefaultBucket: cfg.ObjectStoreBucket,
		AllowedHosts:  cfg.ImageSourceAllowlist,
	}), nil
}

// newLimiter prefers Redis so limits hold across replicas, falling back to a
// process-local limiter when Redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (ratelimit.Limiter, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(ratelimit.MemoryConfig{}), noop
	}
	rl, err := ratelimit.NewRedis(ratelimit.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = rl.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = rl.Close()
		}
	}
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis rate limiter unavailable; using in-memory limiter")
		return ratelimit.NewMemory(ratelimit.MemoryConfig{}), noop
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("rate limiter: redis")
	return rl, rl.Close
}

// Run serves HTTP until ctx is cancelled, then drains: the listener stops,
// new jobs are refused, and in-flight jobs get ShutdownTimeout to deliver.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Msgf("API listening on %s", s.server.Addr())
		errCh <- s.server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("http server: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.shutdown(shutdownCtx))
}

func (s *Service) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	s.Orchestrator.Close()
	if err := s.Orchestrator.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.Close(ctx))
	s.logger.Info().Msg("server stopped")
	return errors.Join(errs...)
}

// Close releases the model, the limiter and telemetry exporters.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	s.closers = nil
	s.Telemetry.Shutdown(ctx)
	return errors.Join(errs...)
}
