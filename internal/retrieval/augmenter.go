package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// AugmenterConfig bounds retrieval work.
type AugmenterConfig struct {
	Workers int
	Timeout time.Duration
}

// Augmenter runs backend retrievals on a bounded worker pool. At most
// Workers calls are in flight across all sessions.
type Augmenter struct {
	backend Backend
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type retrievalResult struct {
	hits []Hit
	err  error
}

// NewAugmenter creates an augmenter. backend may be nil, in which case every
// retrieval yields no documents.
func NewAugmenter(backend Backend, cfg AugmenterConfig, m *metrics.Metrics, logger *slog.Logger) *Augmenter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Augmenter{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger,
	}
}

// Retrieve returns the documents for query ordered by descending score.
// It never fails: any backend problem yields an empty result and a warning.
// A cancelled ctx returns immediately; callers check ctx themselves.
func (a *Augmenter) Retrieve(ctx context.Context, query string) []domain.Document {
	if a.backend == nil {
		a.logger.Warn("Retrieval skipped", "error", ErrNoBackend)
		a.metrics.RetrievalFailed(metrics.ReasonUnconfigured)
		return []domain.Document{}
	}

	// Waiting for a worker slot counts against the call's deadline.
	deadline := time.Now().Add(a.timeout)
	acquireCtx, cancelAcquire := context.WithDeadline(ctx, deadline)
	err := a.sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("Retrieval pool saturated, continuing without context", "timeout", a.timeout)
			a.metrics.RetrievalFailed(metrics.ReasonSaturated)
		}
		return []domain.Document{}
	}

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	resultCh := make(chan retrievalResult, 1)
	start := time.Now()

	go func() {
		defer a.sem.Release(1)
		defer cancel()
		hits, err := a.run(runCtx, query)
		resultCh <- retrievalResult{hits: hits, err: err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-resultCh:
		a.metrics.ObserveRetrieval(time.Since(start))
		if res.err != nil {
			reason := metrics.ReasonError
			if errors.Is(res.err, context.DeadlineExceeded) {
				reason = metrics.ReasonTimeout
			} else if errors.Is(res.err, errBackendPanic) {
				reason = metrics.ReasonPanic
			}
			if ctx.Err() == nil {
				a.logger.Warn("Retrieval failed, continuing without context", "error", res.err)
				a.metrics.RetrievalFailed(reason)
			}
			return []domain.Document{}
		}
		return rank(res.hits)
	case <-timer.C:
		a.logger.Warn("Retrieval timed out, continuing without context", "timeout", a.timeout)
		a.metrics.RetrievalFailed(metrics.ReasonTimeout)
		return []domain.Document{}
	case <-ctx.Done():
		return []domain.Document{}
	}
}

var errBackendPanic = errors.New("retrieval backend panicked")

func (a *Augmenter) run(ctx context.Context, query string) (hits []Hit, err error) {
	defer func() {
		if r := recover(); r != nil {
			hits, err = nil, fmt.Errorf("%w: %v", errBackendPanic, r)
		}
	}()
	return a.backend.Run(ctx, query)
}

// rank converts hits to documents ordered by descending score, keeping
// backend order among equal scores.
func rank(hits []Hit) []domain.Document {
	docs := make([]domain.Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, h.Document())
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	return docs
}
