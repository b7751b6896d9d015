package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/indexer"
	ixconfig "github.com/syntrixbase/chunkdex/internal/indexer/config"
	"github.com/syntrixbase/chunkdex/internal/lens/nats_transport"
	"github.com/syntrixbase/chunkdex/internal/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendMemory
	cfg.Gateway.Listen = "127.0.0.1:0"
	return cfg
}

// upstreamEntry registers an embedded indexer that records one event at
// every multiple of three and covers each window up to its end.
func upstreamEntry(t *testing.T, m *Manager, name string, partition uint16) *indexer.Indexer[codec.Data, codec.Data] {
	t.Helper()
	cfg := ixconfig.Config{Name: name, Partition: partition, ChunkSize: 10, Interval: 10 * time.Millisecond}
	sink, err := indexer.NewStoreSink[codec.Data](m.Store(), store.PartitionID(partition), codec.DataCodec{})
	require.NoError(t, err)

	fetch := func(_ context.Context, from, to uint64) (map[uint64][]codec.Data, error) {
		out := map[uint64][]codec.Data{to - 1: nil}
		for pos := from; pos < to; pos++ {
			if pos%3 == 0 {
				out[pos] = []codec.Data{{"n": codec.Uint64(pos)}}
			}
		}
		return out, nil
	}
	ix, err := indexer.New(indexer.Options[codec.Data, codec.Data]{
		Config:  &cfg,
		Sink:    sink,
		Fetch:   fetch,
		Convert: passThrough,
		Codec:   codec.DataCodec{},
	})
	require.NoError(t, err)
	require.NoError(t, m.Register(Entry{Runner: ix, Source: ix, Serve: true}))
	return ix
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}

func lastIndexed(addr, name string) (uint64, bool) {
	resp, err := http.Get("http://" + addr + "/v1/indexers/" + name + "/last-indexed")
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	var body struct {
		LastIndexed uint64 `json:"last_indexed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false
	}
	return body.LastIndexed, true
}

func TestManager_ChainedOverGRPC(t *testing.T) {
	ctx := context.Background()

	upCfg := testConfig()
	upCfg.Lens.GRPC.Listen = "127.0.0.1:0"
	up := NewManager(upCfg, Options{RunGateway: true, RunIndexers: true})
	require.NoError(t, up.Init(ctx))
	upstreamEntry(t, up, "up", 1)
	require.NoError(t, up.Start(ctx))
	defer shutdown(t, up)
	require.NotEmpty(t, up.LensAddr())

	downCfg := testConfig()
	downCfg.Gateway.Listen = "127.0.0.1:8480"
	downCfg.Lens.GRPC.Address = up.LensAddr()
	downCfg.Indexers = []ixconfig.Config{{
		Name:      "down",
		Partition: 2,
		ChunkSize: 4,
		Interval:  10 * time.Millisecond,
		Source:    ixconfig.SourceConfig{Kind: ixconfig.SourceGRPC, Target: "up"},
	}}
	require.NoError(t, downCfg.Finalize(t.TempDir()))
	// port 0 does not pass hostname_port validation
	downCfg.Gateway.Listen = "127.0.0.1:0"

	down := NewManager(downCfg, Options{RunGateway: true, RunIndexers: true})
	require.NoError(t, down.Init(ctx))
	require.NoError(t, down.Start(ctx))
	defer shutdown(t, down)

	assert.Eventually(t, func() bool {
		last, ok := lastIndexed(down.GatewayAddr(), "down")
		return ok && last >= 20
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + down.GatewayAddr() + "/v1/indexers/down/range?from=0&to=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Buckets []struct {
			Position uint64 `json:"position"`
		} `json:"buckets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	positions := make([]uint64, 0, len(body.Buckets))
	for _, b := range body.Buckets {
		positions = append(positions, b.Position)
	}
	assert.Equal(t, []uint64{0, 3, 6, 9}, positions)
}

func TestManager_RegisterRules(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig(), Options{})

	ix := newStub("a")
	assert.ErrorIs(t, m.Register(Entry{Runner: ix}), ErrNotInitialized)

	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Register(Entry{Runner: ix}))
	assert.ErrorIs(t, m.Register(Entry{Runner: newStub("a")}), ErrDuplicateIndexer)
	assert.Error(t, m.Register(Entry{Runner: newStub("b"), Serve: true}))
	assert.Error(t, m.Register(Entry{}))

	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Register(Entry{Runner: newStub("c")}), ErrAlreadyStarted)
	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)

	assert.Eventually(t, func() bool { return closed(ix.started) }, time.Second, 5*time.Millisecond)
	shutdown(t, m)
	assert.True(t, closed(ix.done))
}

func TestManager_StartBeforeInit(t *testing.T) {
	m := NewManager(testConfig(), Options{})
	assert.ErrorIs(t, m.Start(context.Background()), ErrNotInitialized)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_InitErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.Store.Backend = "tape"
		assert.ErrorContains(t, NewManager(cfg, Options{}).Init(ctx), "unknown store backend")
	})

	t.Run("nats connect failure", func(t *testing.T) {
		orig := natsTransportFactory
		defer func() { natsTransportFactory = orig }()
		natsTransportFactory = func(config.NATSConfig) (*nats_transport.Transport, error) {
			return nil, errors.New("connection refused")
		}

		cfg := testConfig()
		cfg.Lens.NATS.URL = "nats://127.0.0.1:1"
		assert.ErrorContains(t, NewManager(cfg, Options{}).Init(ctx), "connection refused")
	})

	t.Run("missing source transport", func(t *testing.T) {
		cfg := testConfig()
		cfg.Indexers = []ixconfig.Config{{
			Name:      "down",
			Partition: 1,
			Source:    ixconfig.SourceConfig{Kind: ixconfig.SourceNATS, Target: "up"},
		}}
		err := NewManager(cfg, Options{RunIndexers: true}).Init(ctx)
		assert.ErrorContains(t, err, "no lens transport")
	})

	t.Run("partition out of range", func(t *testing.T) {
		cfg := testConfig()
		cfg.Lens.GRPC.Address = "127.0.0.1:1"
		cfg.Indexers = []ixconfig.Config{{
			Name:      "down",
			Partition: 99,
			Source:    ixconfig.SourceConfig{Kind: ixconfig.SourceGRPC, Target: "up"},
		}}
		err := NewManager(cfg, Options{RunIndexers: true}).Init(ctx)
		assert.ErrorIs(t, err, store.ErrInvalidPartition)
	})
}

func TestManager_BackendFactory(t *testing.T) {
	b, err := backendFactory(context.Background(), config.StoreConfig{Backend: config.BackendMemory}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, b.Close())

	cfg := config.DefaultStoreConfig()
	cfg.Pebble.Path = t.TempDir()
	cfg.Pebble.NoSync = true
	b, err = backendFactory(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, b.Close())
}

type stubRunner struct {
	name    string
	started chan struct{}
	done    chan struct{}
}

func newStub(name string) *stubRunner {
	return &stubRunner{name: name, started: make(chan struct{}), done: make(chan struct{})}
}

func (r *stubRunner) Name() string { return r.name }

func (r *stubRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	close(r.done)
	return nil
}

func closed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
