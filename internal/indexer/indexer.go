// Package indexer implements the chunked indexer: it walks an upstream
// position space in fixed-size windows, converts fetched records into typed
// events and persists them keyed by position. The highest persisted position
// is the cursor, so there is no separate checkpoint to keep in sync.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/indexer/config"
	"github.com/syntrixbase/chunkdex/internal/indexer/internal/filter"
	"github.com/syntrixbase/chunkdex/internal/indexer/internal/metrics"
)

// Fetcher returns the raw records for positions in [from, to), grouped by
// position. A position returned with no records is recorded as covered.
type Fetcher[R any] func(ctx context.Context, from, to uint64) (map[uint64][]R, error)

// Converter turns one raw record at pos into an event.
type Converter[R, E any] func(pos uint64, raw R) (E, error)

// Options configures an Indexer.
type Options[R, E any] struct {
	// Config may be nil; the indexer then refuses to step until Configure.
	Config *config.Config

	Sink    Sink[E]
	Fetch   Fetcher[R]
	Convert Converter[R, E]

	// Codec exposes events to the filter. Required when a filter is set.
	Codec codec.Codec[E]

	Logger *slog.Logger
}

// Indexer runs indexing steps for one sink. Steps are serialized; queries
// and admin calls may run concurrently with a step.
type Indexer[R, E any] struct {
	sink    Sink[E]
	fetch   Fetcher[R]
	convert Converter[R, E]
	codec   codec.Codec[E]
	logger  *slog.Logger

	stepMu sync.Mutex

	mu         sync.RWMutex
	cfg        config.Config
	configured bool
	filter     *filter.Evaluator
}

// New creates an Indexer.
func New[R, E any](opts Options[R, E]) (*Indexer[R, E], error) {
	if opts.Sink == nil || opts.Fetch == nil || opts.Convert == nil {
		return nil, fmt.Errorf("%w: sink, fetch and convert are required", ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ix := &Indexer[R, E]{
		sink:    opts.Sink,
		fetch:   opts.Fetch,
		convert: opts.Convert,
		codec:   opts.Codec,
		logger:  logger.With("component", "indexer"),
	}
	if opts.Config != nil {
		if err := ix.Configure(*opts.Config); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Configure installs the configuration. It succeeds once.
func (ix *Indexer[R, E]) Configure(cfg config.Config) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.configured {
		return fmt.Errorf("%w: %q", ErrAlreadyConfigured, ix.cfg.Name)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var eval *filter.Evaluator
	if cfg.Filter != "" {
		if ix.codec == nil {
			return fmt.Errorf("%w: indexer %q: filter requires a codec", ErrInvalidConfig, cfg.Name)
		}
		var err error
		if eval, err = filter.NewEvaluator(); err != nil {
			return fmt.Errorf("failed to create filter evaluator: %w", err)
		}
		if err := eval.Compile(cfg.Filter); err != nil {
			return fmt.Errorf("%w: indexer %q: filter: %v", ErrInvalidConfig, cfg.Name, err)
		}
	}

	ix.cfg = cfg
	ix.filter = eval
	ix.configured = true
	ix.logger = ix.logger.With("indexer", cfg.Name)
	ix.logger.Info("indexer configured",
		"start_from", cfg.StartFrom,
		"chunk_size", cfg.ChunkSize,
		"filter", cfg.Filter != "")
	return nil
}

// Config returns a copy of the configuration.
func (ix *Indexer[R, E]) Config() (config.Config, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cfg, ix.configured
}

// Name returns the configured name.
func (ix *Indexer[R, E]) Name() string {
	cfg, _ := ix.Config()
	return cfg.Name
}

// SetChunkSize changes the window width for subsequent steps.
func (ix *Indexer[R, E]) SetChunkSize(n uint64) error {
	if n == 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.configured {
		return ErrNotConfigured
	}
	ix.cfg.ChunkSize = n
	ix.logger.Info("chunk size changed", "chunk_size", n)
	return nil
}

func (ix *Indexer[R, E]) state() (config.Config, *filter.Evaluator, *slog.Logger, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.configured {
		return config.Config{}, nil, ix.logger, ErrNotConfigured
	}
	return ix.cfg, ix.filter, ix.logger, nil
}

// LastIndexed returns the highest persisted position. When nothing has been
// persisted it returns start_from as a floor: that position is not indexed
// yet and is the first one the next window fetches.
func (ix *Indexer[R, E]) LastIndexed() (uint64, error) {
	cfg, _, _, err := ix.state()
	if err != nil {
		return 0, err
	}
	last, found, err := ix.sink.LastIndexed()
	if err != nil {
		return 0, err
	}
	if !found {
		return cfg.StartFrom, nil
	}
	return last, nil
}

// NextWindow returns the window the next step will fetch.
func (ix *Indexer[R, E]) NextWindow() (Window, error) {
	cfg, _, _, err := ix.state()
	if err != nil {
		return Window{}, err
	}
	return ix.window(cfg)
}

func (ix *Indexer[R, E]) window(cfg config.Config) (Window, error) {
	last, found, err := ix.sink.LastIndexed()
	if err != nil {
		return Window{}, fmt.Errorf("failed to read cursor: %w", err)
	}
	return nextWindow(last, found, cfg.StartFrom, cfg.ChunkSize), nil
}

// Step fetches, converts and persists the next window. On any error nothing
// is persisted and the same window is fetched again by the next step.
func (ix *Indexer[R, E]) Step(ctx context.Context) (Window, error) {
	ix.stepMu.Lock()
	defer ix.stepMu.Unlock()

	cfg, eval, logger, err := ix.state()
	if err != nil {
		return Window{}, err
	}

	w, err := ix.window(cfg)
	if err != nil {
		metrics.StepsTotal.WithLabelValues(cfg.Name, metrics.ResultCursorError).Inc()
		return w, err
	}
	if w.Len() == 0 {
		return w, nil
	}

	start := time.Now()
	raw, err := ix.fetch(ctx, w.From, w.To)
	metrics.FetchLatency.WithLabelValues(cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StepsTotal.WithLabelValues(cfg.Name, metrics.ResultFetchError).Inc()
		return w, &FetchError{Indexer: cfg.Name, From: w.From, To: w.To, Err: err}
	}

	buckets, stats, err := ix.build(cfg, eval, w, raw)
	if err != nil {
		metrics.StepsTotal.WithLabelValues(cfg.Name, metrics.ResultConvertError).Inc()
		return w, err
	}
	if stats.outside > 0 {
		logger.Warn("fetcher returned positions outside the window",
			"window", w.String(), "dropped_positions", stats.outside)
	}

	if len(buckets) > 0 {
		if err := ix.sink.Persist(ctx, buckets); err != nil {
			metrics.StepsTotal.WithLabelValues(cfg.Name, metrics.ResultPersistError).Inc()
			return w, fmt.Errorf("indexer %q: persist %s: %w", cfg.Name, w, err)
		}
	}

	metrics.StepsTotal.WithLabelValues(cfg.Name, metrics.ResultOK).Inc()
	metrics.EventsIndexed.WithLabelValues(cfg.Name).Add(float64(stats.events))
	metrics.EventsFiltered.WithLabelValues(cfg.Name).Add(float64(stats.filtered))
	if last, found, err := ix.sink.LastIndexed(); err == nil && found {
		metrics.LastIndexed.WithLabelValues(cfg.Name).Set(float64(last))
	}

	logger.Debug("step complete",
		"window", w.String(),
		"positions", len(buckets),
		"events", stats.events,
		"filtered", stats.filtered)
	return w, nil
}

type buildStats struct {
	events   int
	filtered int
	outside  int
}

func (ix *Indexer[R, E]) build(cfg config.Config, eval *filter.Evaluator, w Window, raw map[uint64][]R) (map[uint64][]E, buildStats, error) {
	var stats buildStats
	buckets := make(map[uint64][]E, len(raw))
	for pos, records := range raw {
		if !w.Contains(pos) {
			stats.outside++
			continue
		}
		events := make([]E, 0, len(records))
		for _, r := range records {
			e, err := ix.convert(pos, r)
			if err != nil {
				return nil, stats, fmt.Errorf("%w: indexer %q position %d: %w", ErrConvert, cfg.Name, pos, err)
			}
			if eval != nil {
				ok, err := eval.Match(cfg.Filter, pos, ix.codec.Tokenize(e))
				if err != nil {
					return nil, stats, fmt.Errorf("%w: indexer %q position %d: filter: %w", ErrConvert, cfg.Name, pos, err)
				}
				if !ok {
					stats.filtered++
					continue
				}
			}
			events = append(events, e)
		}
		stats.events += len(events)
		buckets[pos] = events
	}
	return buckets, stats, nil
}

// GetByRange returns the non-empty buckets with from <= position < to.
func (ix *Indexer[R, E]) GetByRange(from, to uint64) (map[uint64][]E, error) {
	q, ok := ix.sink.(Querier[E])
	if !ok {
		return nil, ErrNotQueryable
	}
	return q.Range(from, to)
}

// GetLatest returns the latest n events grouped by position.
func (ix *Indexer[R, E]) GetLatest(n int) (map[uint64][]E, error) {
	q, ok := ix.sink.(Querier[E])
	if !ok {
		return nil, ErrNotQueryable
	}
	return q.Latest(n)
}

// Run steps once immediately and then every configured interval until ctx
// is done. Failed steps are logged and retried on the next tick.
func (ix *Indexer[R, E]) Run(ctx context.Context) error {
	cfg, _, logger, err := ix.state()
	if err != nil {
		return err
	}

	logger.Info("indexer running", "interval", cfg.Interval)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if w, err := ix.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("indexing step failed", "window", w.String(), "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
		}
	}
	logger.Info("indexer stopped")
	return nil
}
