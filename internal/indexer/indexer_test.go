package indexer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/indexer/config"
	"github.com/syntrixbase/chunkdex/internal/indexer/internal/metrics"
	"github.com/syntrixbase/chunkdex/internal/store"
	"github.com/syntrixbase/chunkdex/internal/store/mem_store"
)

type rawLog struct {
	Amount uint64
	Memo   string
}

type transfer struct {
	Pos    uint64 `token:"pos"`
	Amount uint64 `token:"amount"`
	Memo   string `token:"memo"`
}

var transferCodec = codec.MustStructCodec[transfer]()

func convertLog(pos uint64, r rawLog) (transfer, error) {
	if r.Memo == "poison" {
		return transfer{}, errors.New("cannot decode log")
	}
	return transfer{Pos: pos, Amount: r.Amount, Memo: r.Memo}, nil
}

// fakeSource serves records from memory and records every requested window.
type fakeSource struct {
	mu      sync.Mutex
	records map[uint64][]rawLog
	err     error
	calls   []Window

	// tip reports the last position of every window as covered.
	tip bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: make(map[uint64][]rawLog)}
}

func (f *fakeSource) add(pos uint64, logs ...rawLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[pos] = append(f.records[pos], logs...)
}

func (f *fakeSource) fetch(_ context.Context, from, to uint64) (map[uint64][]rawLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Window{From: from, To: to})
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uint64][]rawLog)
	for pos, logs := range f.records {
		if pos >= from && pos < to {
			out[pos] = append([]rawLog(nil), logs...)
		}
	}
	if _, ok := out[to-1]; f.tip && !ok {
		out[to-1] = nil
	}
	return out, nil
}

type testIndexer struct {
	*Indexer[rawLog, transfer]
	src     *fakeSource
	sink    *StoreSink[transfer]
	backend *mem_store.Store
}

func setupTestIndexer(t *testing.T, cfg config.Config) *testIndexer {
	t.Helper()

	backend := mem_store.New()
	s, err := store.New(backend, store.Options{Partitions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if cfg.Name == "" {
		cfg.Name = "transfers"
	}
	if cfg.Partition == 0 {
		cfg.Partition = 1
	}
	sink, err := NewStoreSink(s, store.PartitionID(cfg.Partition), codec.Codec[transfer](transferCodec))
	require.NoError(t, err)

	src := newFakeSource()
	ix, err := New(Options[rawLog, transfer]{
		Config:  &cfg,
		Sink:    sink,
		Fetch:   src.fetch,
		Convert: convertLog,
		Codec:   transferCodec,
	})
	require.NoError(t, err)
	return &testIndexer{Indexer: ix, src: src, sink: sink, backend: backend}
}

func TestNextWindow(t *testing.T) {
	tests := []struct {
		name      string
		last      uint64
		found     bool
		startFrom uint64
		chunk     uint64
		want      Window
	}{
		{"empty starts at start_from", 0, false, 0, 50, Window{0, 50}},
		{"empty with offset", 0, false, 1000, 50, Window{1000, 1050}},
		{"after last", 100, true, 0, 50, Window{101, 151}},
		{"start_from ahead of cursor", 100, true, 500, 50, Window{500, 550}},
		{"saturates", math.MaxUint64 - 10, true, 0, 50, Window{math.MaxUint64 - 9, math.MaxUint64}},
		{"at max", math.MaxUint64, true, 0, 50, Window{math.MaxUint64, math.MaxUint64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextWindow(tt.last, tt.found, tt.startFrom, tt.chunk)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, uint64(0), Window{5, 5}.Len())
}

func TestIndexer_ChunkWindowing(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 50})

	require.NoError(t, ix.sink.Persist(context.Background(), map[uint64][]transfer{100: {{Pos: 100}}}))

	w, err := ix.NextWindow()
	require.NoError(t, err)
	assert.Equal(t, Window{From: 101, To: 151}, w)

	got, err := ix.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w, got)
	assert.Equal(t, []Window{{101, 151}}, ix.src.calls)
}

func TestIndexer_EmptyStore(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{StartFrom: 42, ChunkSize: 10})

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), last)

	w, err := ix.NextWindow()
	require.NoError(t, err)
	assert.Equal(t, Window{From: 42, To: 52}, w)

	got, err := ix.GetByRange(0, 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	latest, err := ix.GetLatest(5)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestIndexer_StepPersistsAndAdvances(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	ix.src.add(3, rawLog{Amount: 1, Memo: "a"}, rawLog{Amount: 2, Memo: "b"})
	ix.src.add(7, rawLog{Amount: 3, Memo: "c"})
	ix.src.add(12, rawLog{Amount: 4, Memo: "d"})

	w, err := ix.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Window{0, 10}, w)

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), last)

	got, err := ix.GetByRange(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got[3], 2)
	assert.Equal(t, "a", got[3][0].Memo)
	assert.Equal(t, "b", got[3][1].Memo)
	assert.Equal(t, uint64(7), got[7][0].Pos)

	w, err = ix.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Window{8, 18}, w)

	last, err = ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), last)
}

func TestIndexer_EmptyBucketsAdvanceCursor(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	ix.src.add(9)

	_, err := ix.Step(context.Background())
	require.NoError(t, err)

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)

	// covered-but-empty positions are not query results
	got, err := ix.GetByRange(0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexer_FetchFailureIsNoOp(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	ix.src.add(1, rawLog{Memo: "a"})
	_, err := ix.Step(context.Background())
	require.NoError(t, err)

	before := ix.backend.Len(1)
	ix.src.add(11, rawLog{Memo: "b"})
	ix.src.err = errors.New("upstream unavailable")

	w, err := ix.Step(context.Background())
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "transfers", fe.Indexer)
	assert.Equal(t, w.From, fe.From)
	assert.Equal(t, w.To, fe.To)
	assert.ErrorContains(t, err, "upstream unavailable")

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
	assert.Equal(t, before, ix.backend.Len(1))

	// the retry asks for the same window
	ix.src.err = nil
	retry, err := ix.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w, retry)
}

func TestIndexer_ConvertErrorAbortsStep(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	ix.src.add(2, rawLog{Memo: "fine"})
	ix.src.add(5, rawLog{Memo: "poison"})

	_, err := ix.Step(context.Background())
	assert.ErrorIs(t, err, ErrConvert)
	assert.ErrorContains(t, err, "position 5")
	assert.Equal(t, 0, ix.backend.Len(1))

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
}

func TestIndexer_RetrySafety(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	window := map[uint64][]transfer{
		2: {{Pos: 2, Amount: 1}},
		4: {{Pos: 4, Amount: 2}, {Pos: 4, Amount: 3}},
	}

	require.NoError(t, ix.sink.Persist(context.Background(), window))
	once, err := ix.GetByRange(0, 10)
	require.NoError(t, err)
	lastOnce, err := ix.LastIndexed()
	require.NoError(t, err)

	require.NoError(t, ix.sink.Persist(context.Background(), window))
	twice, err := ix.GetByRange(0, 10)
	require.NoError(t, err)
	lastTwice, err := ix.LastIndexed()
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, lastOnce, lastTwice)
	assert.Equal(t, 2, ix.backend.Len(1))
}

func TestIndexer_MonotonicCursor(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 7})
	for pos := uint64(0); pos < 60; pos += 3 {
		ix.src.add(pos, rawLog{Amount: pos})
	}

	var prev uint64
	for i := 0; i < 10; i++ {
		w, err := ix.Step(context.Background())
		require.NoError(t, err)

		last, err := ix.LastIndexed()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, last, prev)
		prev = last

		if i > 0 {
			assert.Greater(t, w.From, ix.src.calls[i-1].From)
		}
	}
}

func TestIndexer_RangeAndLatest(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 100})
	for _, pos := range []uint64{1, 2, 3, 5, 8} {
		ix.src.add(pos, rawLog{Amount: pos})
	}
	ix.src.add(8, rawLog{Amount: 88})
	ix.src.add(9)

	_, err := ix.Step(context.Background())
	require.NoError(t, err)

	got, err := ix.GetByRange(2, 6)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Contains(t, got, uint64(2))
	assert.Contains(t, got, uint64(3))
	assert.Contains(t, got, uint64(5))

	got, err = ix.GetByRange(6, 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	latest, err := ix.GetLatest(3)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Len(t, latest[8], 2)
	assert.Len(t, latest[5], 1)
}

func TestIndexer_OutsideWindowDropped(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})
	fetch := func(context.Context, uint64, uint64) (map[uint64][]rawLog, error) {
		return map[uint64][]rawLog{5: {{Memo: "in"}}, 50: {{Memo: "out"}}}, nil
	}
	ix.fetch = fetch

	_, err := ix.Step(context.Background())
	require.NoError(t, err)

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestIndexer_Filter(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10, Filter: `event.amount >= 10`})
	ix.src.add(1, rawLog{Amount: 5}, rawLog{Amount: 15})
	ix.src.add(2, rawLog{Amount: 1})

	_, err := ix.Step(context.Background())
	require.NoError(t, err)

	got, err := ix.GetByRange(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[1], 1)
	assert.Equal(t, uint64(15), got[1][0].Amount)

	// position 2 is covered even though every event was filtered
	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestIndexer_ConfigureOnce(t *testing.T) {
	src := newFakeSource()
	sink := NewCallbackSink(func(context.Context, map[uint64][]transfer) error { return nil }, nil)
	ix, err := New(Options[rawLog, transfer]{Sink: sink, Fetch: src.fetch, Convert: convertLog})
	require.NoError(t, err)

	_, err = ix.Step(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = ix.LastIndexed()
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, ix.SetChunkSize(10), ErrNotConfigured)

	assert.ErrorIs(t, ix.Configure(config.Config{}), ErrInvalidConfig)
	// filter without codec
	assert.ErrorIs(t, ix.Configure(config.Config{Name: "x", Filter: "true"}), ErrInvalidConfig)

	require.NoError(t, ix.Configure(config.Config{Name: "x"}))
	cfg, ok := ix.Config()
	require.True(t, ok)
	assert.Equal(t, uint64(config.DefaultChunkSize), cfg.ChunkSize)

	assert.ErrorIs(t, ix.Configure(config.Config{Name: "y"}), ErrAlreadyConfigured)
	assert.Equal(t, "x", ix.Name())
}

func TestIndexer_CursorErrorMetric(t *testing.T) {
	boom := errors.New("cursor unavailable")
	src := newFakeSource()
	sink := NewCallbackSink(
		func(context.Context, map[uint64][]transfer) error { return nil },
		func() (uint64, bool, error) { return 0, false, boom },
	)
	ix, err := New(Options[rawLog, transfer]{
		Config:  &config.Config{Name: "cursor-metric"},
		Sink:    sink,
		Fetch:   src.fetch,
		Convert: convertLog,
	})
	require.NoError(t, err)

	_, err = ix.Step(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("cursor-metric", metrics.ResultCursorError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("cursor-metric", metrics.ResultPersistError)))
}

func TestIndexer_LastIndexedFloor(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10, StartFrom: 40})

	last, err := ix.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, uint64(40), last)

	w, err := ix.NextWindow()
	require.NoError(t, err)
	assert.Equal(t, Window{40, 50}, w)
	_, found, err := ix.sink.LastIndexed()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndexer_InvalidFilter(t *testing.T) {
	src := newFakeSource()
	sink := NewCallbackSink(func(context.Context, map[uint64][]transfer) error { return nil }, nil)
	_, err := New(Options[rawLog, transfer]{
		Config:  &config.Config{Name: "x", Filter: "event.amount >"},
		Sink:    sink,
		Fetch:   src.fetch,
		Convert: convertLog,
		Codec:   transferCodec,
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIndexer_SetChunkSize(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10})

	assert.ErrorIs(t, ix.SetChunkSize(0), ErrInvalidConfig)
	require.NoError(t, ix.SetChunkSize(3))

	w, err := ix.NextWindow()
	require.NoError(t, err)
	assert.Equal(t, Window{0, 3}, w)
}

func TestIndexer_NotQueryable(t *testing.T) {
	src := newFakeSource()
	ix, err := NewAlgorithm(AlgorithmOptions[rawLog, transfer]{
		Config:  &config.Config{Name: "algo"},
		Fetch:   src.fetch,
		Convert: convertLog,
		Persist: func(context.Context, map[uint64][]transfer) error { return nil },
	})
	require.NoError(t, err)

	_, err = ix.GetByRange(0, 1)
	assert.ErrorIs(t, err, ErrNotQueryable)
	_, err = ix.GetLatest(1)
	assert.ErrorIs(t, err, ErrNotQueryable)
}

func TestIndexer_StepIsSingleFlight(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 5})

	var inflight, maxInflight atomic.Int32
	var mu sync.Mutex
	var windows []Window
	ix.fetch = func(_ context.Context, from, to uint64) (map[uint64][]rawLog, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)

		mu.Lock()
		windows = append(windows, Window{from, to})
		mu.Unlock()
		return map[uint64][]rawLog{to - 1: {{Memo: "x"}}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ix.Step(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load())
	require.Len(t, windows, 8)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].To, windows[i].From, "windows must be contiguous")
	}
}

func TestIndexer_Run(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10, Interval: 5 * time.Millisecond})
	ix.src.add(25, rawLog{Memo: "late"})
	ix.src.tip = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := ix.GetByRange(25, 26)
		return err == nil && len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIndexer_RunRetriesFailedSteps(t *testing.T) {
	ix := setupTestIndexer(t, config.Config{ChunkSize: 10, Interval: 5 * time.Millisecond})

	var calls atomic.Int32
	ix.fetch = func(_ context.Context, from, to uint64) (map[uint64][]rawLog, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("flaky")
		}
		return map[uint64][]rawLog{from: {{Memo: "ok"}}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ix.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := ix.GetByRange(0, 1)
		return err == nil && len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
