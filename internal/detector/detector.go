// Package detector estimates how likely an image is to be AI-generated.
//
// A Detector never fails: any fault (model unavailable, decode error,
// inference error, timeout, panic) degrades to a nil score.
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Detector returns an AI likelihood in [0,100], or nil when no score could be
// produced.
type Detector interface {
	Detect(ctx context.Context, data []byte) *int
}

// Inferer runs the underlying model and returns the probability, in [0,1],
// that the image is AI-generated.
type Inferer interface {
	Infer(data []byte) (float64, error)
}

// InferFunc adapts a function to Inferer.
type InferFunc func(data []byte) (float64, error)

// Infer implements Inferer.
func (f InferFunc) Infer(data []byte) (float64, error) {
	return f(data)
}

// ErrUnavailable is reported when no model is loaded.
var ErrUnavailable = errors.New("detector: model unavailable")

// Pool bounds concurrent inference with a weighted semaphore and applies a
// hard deadline that includes the wait for a slot.
type Pool struct {
	inferer Inferer
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  zerolog.Logger
	onScore func(ok bool, elapsed time.Duration)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	MaxConcurrency int64
	Timeout        time.Duration
	Logger         zerolog.Logger

	// OnResult, when set, is called once per Detect with the outcome.
	OnResult func(ok bool, elapsed time.Duration)
}

// NewPool wraps inferer. A nil inferer yields a pool that always returns nil.
func NewPool(inferer Inferer, opts PoolOptions) *Pool {
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Pool{
		inferer: inferer,
		sem:     semaphore.NewWeighted(maxConc),
		timeout: timeout,
		logger:  opts.Logger,
		onScore: opts.OnResult,
	}
}

// Available reports whether a model is loaded.
func (p *Pool) Available() bool {
	return p != nil && p.inferer != nil
}

type inference struct {
	prob float64
	err  error
}

// Detect implements Detector.
func (p *Pool) Detect(ctx context.Context, data []byte) *int {
	start := time.Now()
	score, err := p.detect(ctx, data)
	if p != nil && p.onScore != nil {
		p.onScore(err == nil, time.Since(start))
	}
	if err != nil {
		if p != nil {
			p.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("ai detection unavailable")
		}
		return nil
	}
	if p != nil {
		p.logger.Info().Int("score", score).Dur("elapsed", time.Since(start)).Msg("ai detection score")
	}
	return &score
}

func (p *Pool) detect(ctx context.Context, data []byte) (int, error) {
	if !p.Available() {
		return 0, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("detector: wait for inference slot: %w", err)
	}

	// The goroutine owns the slot; an abandoned run holds it until it returns.
	done := make(chan inference, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- inference{err: fmt.Errorf("detector: inference panic: %v", r)}
			}
		}()
		prob, err := p.inferer.Infer(data)
		done <- inference{prob: prob, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("detector: inference: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		return toScore(res.prob)
	}
}

// toScore converts a probability to an integer percentage clamped to [0,100].
func toScore(prob float64) (int, error) {
	if math.IsNaN(prob) || math.IsInf(prob, 0) {
		return 0, fmt.Errorf("detector: invalid probability %v", prob)
	}
	score := int(math.Round(prob * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
