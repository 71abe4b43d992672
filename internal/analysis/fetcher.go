package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source performs one authenticated analysis request and returns the raw
// body. backend.Client implements it.
type Source interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Observer receives every per-endpoint outcome of a batch.
type Observer interface {
	ObserveFetch(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint, res Result, elapsed time.Duration)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint, res Result, elapsed time.Duration)

func (f ObserverFunc) ObserveFetch(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint, res Result, elapsed time.Duration) {
	f(ctx, batchID, index, ep, res, elapsed)
}

// Observers fans an outcome out to several observers in order.
type Observers []Observer

func (o Observers) ObserveFetch(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint, res Result, elapsed time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveFetch(ctx, batchID, index, ep, res, elapsed)
		}
	}
}

// FetcherOptions tunes a Fetcher. Zero values mean sequential fetching with
// no per-call timeout and no observer.
type FetcherOptions struct {
	Timeout     time.Duration
	Concurrency int
	Observer    Observer
}

// Fetcher runs the ordered batch of analysis requests.
type Fetcher struct {
	source      Source
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
	observer    Observer
}

func NewFetcher(source Source, opts FetcherOptions, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{
		source:      source,
		logger:      logger.Named("fetcher"),
		timeout:     opts.Timeout,
		concurrency: concurrency,
		observer:    opts.Observer,
	}
}

// FetchAll requests every endpoint and returns one normalized result per
// endpoint, in endpoint order. A failing endpoint never stops the others;
// once ctx is done the remaining positions are filled with failed results.
func (f *Fetcher) FetchAll(ctx context.Context, endpoints []Endpoint) Batch {
	batch := Batch{
		ID:        uuid.New(),
		Endpoints: append([]Endpoint(nil), endpoints...),
		Results:   make([]Result, len(endpoints)),
		StartedAt: time.Now().UTC(),
	}

	f.logger.Debug("batch started",
		zap.Stringer("batch_id", batch.ID),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("concurrency", f.concurrency),
	)

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, ep := range batch.Endpoints {
		g.Go(func() error {
			batch.Results[i] = f.fetchOne(ctx, batch.ID, i, ep)
			return nil
		})
	}
	_ = g.Wait()

	batch.FinishedAt = time.Now().UTC()
	f.logger.Info("batch finished",
		zap.Stringer("batch_id", batch.ID),
		zap.Int("endpoints", batch.Len()),
		zap.Int("failed", batch.FailedCount()),
		zap.Duration("elapsed", batch.FinishedAt.Sub(batch.StartedAt)),
	)
	return batch
}

func (f *Fetcher) fetchOne(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = Normalize(ep.Title, nil, fmt.Errorf("panic fetching %s: %v", ep.Path, p))
		}
		f.report(ctx, batchID, index, ep, res, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return Normalize(ep.Title, nil, err)
	}

	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	raw, err := f.source.Get(callCtx, ep.Path)
	return Normalize(ep.Title, raw, err)
}

func (f *Fetcher) report(ctx context.Context, batchID uuid.UUID, index int, ep Endpoint, res Result, elapsed time.Duration) {
	fields := []zap.Field{
		zap.Stringer("batch_id", batchID),
		zap.Int("index", index),
		zap.String("endpoint", ep.Path),
		zap.String("role", string(ep.Role)),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case res.Cause == CauseMalformed:
		f.logger.Warn("malformed analysis response", append(fields, zap.String("reason", res.Reason))...)
	case res.Failed():
		f.logger.Warn("analysis fetch failed", append(fields, zap.String("cause", string(res.Cause)), zap.String("reason", res.Reason))...)
	default:
		f.logger.Debug("analysis fetched", append(fields, zap.String("kind", string(res.Kind)))...)
	}

	if f.observer != nil {
		f.observer.ObserveFetch(ctx, batchID, index, ep, res, elapsed)
	}
}
