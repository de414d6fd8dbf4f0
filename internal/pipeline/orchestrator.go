// Package pipeline runs one analysis job end to end and guarantees that every
// accepted job ends in exactly one terminal callback attempt: the report on
// success, or a failure payload when anything along the way faults.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"verifai/internal/callback"
	"verifai/internal/detector"
	"verifai/internal/domain"
	"verifai/internal/imagesource"
	"verifai/internal/metadata"
	"verifai/internal/provenance"
	"verifai/internal/scoring"
	"verifai/internal/telemetry"
)

// ErrShuttingDown is returned by Submit once Close has been called.
var ErrShuttingDown = errors.New("pipeline: shutting down")

// Job is one inbound analysis request.
type Job struct {
	ID          string
	ImageURL    string
	ObjectKey   string
	CallbackURL string
	RequestID   string
}

// Outcome summarises a finished job.
type Outcome struct {
	JobID  string
	Status domain.JobStatus

	// Err is the fault that turned the job into a failure, if any.
	Err error

	// DeliveryErr is set when the failure payload itself could not be delivered.
	DeliveryErr error
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Fetcher    imagesource.Fetcher
	Extractor  metadata.Extractor
	Provenance provenance.Checker
	Detector   detector.Detector
	Callback   callback.Deliverer
	Telemetry  *telemetry.Provider
	Logger     zerolog.Logger
}

// Orchestrator executes jobs. It holds no per-job state.
type Orchestrator struct {
	deps    Deps
	wg      sync.WaitGroup
	closing atomic.Bool
}

// New returns an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Submit runs job in the background and returns immediately. The job runs on
// a context detached from ctx's cancellation, so a client disconnect never
// interrupts it.
func (o *Orchestrator) Submit(ctx context.Context, job Job) error {
	if o.closing.Load() {
		return ErrShuttingDown
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Run(context.WithoutCancel(ctx), job)
	}()
	return nil
}

// Close stops accepting new jobs.
func (o *Orchestrator) Close() {
	o.closing.Store(true)
}

// Wait blocks until every submitted job has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: waiting for in-flight jobs: %w", ctx.Err())
	}
}

// Run executes job synchronously, delivering exactly one terminal outcome.
func (o *Orchestrator) Run(ctx context.Context, job Job) (out Outcome) {
	start := time.Now()
	logger := o.deps.Logger.With().
		Str("job_id", job.ID).
		Str("request_id", job.RequestID).
		Logger()
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "analysis.job", attribute.String("verifai.job_id", job.ID))
	out = Outcome{JobID: job.ID}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: panic: %v", domain.ErrCollaborator, r)
		}
		if out.Err != nil {
			out.Status = domain.JobStatusFailed
			logger.Error().Err(out.Err).Str("stage", stageOf(out.Err)).Msg("analysis failed")
			out.DeliveryErr = o.deliverFailure(ctx, job, out.Err, logger)
		}
		o.deps.Telemetry.RecordJob(ctx, string(out.Status), time.Since(start))
		telemetry.EndSpan(span, out.Err)
	}()

	logger.Info().Msg("analysis started")
	report, err := o.Analyze(ctx, job)
	if err != nil {
		out.Err = err
		return out
	}
	if err := o.deliver(ctx, job.CallbackURL, report, "report"); err != nil {
		out.Err = fmt.Errorf("deliver report: %w", err)
		return out
	}

	out.Status = domain.JobStatusDone
	evt := logger.Info().Str("confidence", string(*report.Confidence)).Dur("elapsed", time.Since(start))
	if report.AILikelihood != nil {
		evt = evt.Int("ai_likelihood", *report.AILikelihood)
	}
	evt.Msg("analysis complete")
	return out
}

// Analyze fetches the image and builds the report without delivering it.
func (o *Orchestrator) Analyze(ctx context.Context, job Job) (domain.AnalysisReport, error) {
	fetchCtx, span := o.deps.Telemetry.StartSpan(ctx, "analysis.fetch")
	data, err := o.deps.Fetcher.Fetch(fetchCtx, imagesource.Reference{URL: job.ImageURL, ObjectKey: job.ObjectKey})
	telemetry.EndSpan(span, err)
	if err != nil {
		return domain.AnalysisReport{}, fmt.Errorf("fetch image: %w", err)
	}
	return o.AnalyzeBytes(ctx, job.ID, data)
}

// AnalyzeBytes gathers metadata, provenance and the detector score
// concurrently and assembles the report.
func (o *Orchestrator) AnalyzeBytes(ctx context.Context, jobID string, data []byte) (domain.AnalysisReport, error) {
	var (
		md         domain.Metadata
		prov       domain.Provenance
		likelihood *int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard("metadata", func() error {
		m, err := o.deps.Extractor.Extract(data)
		if err != nil {
			return fmt.Errorf("%w: extract metadata: %v", domain.ErrCollaborator, err)
		}
		md = m
		return nil
	}))
	g.Go(guard("provenance", func() error {
		p, err := o.deps.Provenance.Check(gctx, data)
		if err != nil {
			return fmt.Errorf("%w: check provenance: %v", domain.ErrCollaborator, err)
		}
		prov = p
		return nil
	}))
	g.Go(func() error {
		likelihood = o.detect(gctx, data)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.AnalysisReport{}, err
	}

	report, err := scoring.BuildReport(jobID, likelihood, md, prov)
	if err != nil {
		return domain.AnalysisReport{}, fmt.Errorf("build report: %w", err)
	}
	return report, nil
}

// detect never propagates a fault; a panicking detector degrades to nil.
func (o *Orchestrator) detect(ctx context.Context, data []byte) (score *int) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Warn().Interface("panic", r).Msg("detector panicked")
			score = nil
		}
	}()
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "analysis.detect")
	defer span.End()
	return o.deps.Detector.Detect(ctx, data)
}

func (o *Orchestrator) deliver(ctx context.Context, url string, payload any, kind string) error {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "analysis.callback", attribute.String("verifai.payload", kind))
	err := o.deps.Callback.Deliver(ctx, url, payload)
	o.deps.Telemetry.RecordDelivery(ctx, kind, err == nil)
	telemetry.EndSpan(span, err)
	return err
}

// deliverFailure makes the single best-effort failure delivery. Its own
// faults are logged and returned, never raised.
func (o *Orchestrator) deliverFailure(ctx context.Context, job Job, cause error, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrDelivery, r)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to send failure callback")
		}
	}()
	return o.deliver(ctx, job.CallbackURL, domain.NewFailurePayload(job.ID, cause), "failure")
}

// guard converts a collaborator panic into an ErrCollaborator fault.
func guard(stage string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s panicked: %v", domain.ErrCollaborator, stage, r)
			}
		}()
		return fn()
	}
}

func stageOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrAcquisition):
		return "fetch"
	case errors.Is(err, domain.ErrCollaborator):
		return "collaborator"
	case errors.Is(err, domain.ErrContractViolation):
		return "report"
	case errors.Is(err, domain.ErrDelivery):
		return "callback"
	default:
		return "unknown"
	}
}
