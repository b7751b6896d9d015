package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupDedup(window time.Duration) (*slog.Logger, *bytes.Buffer, *fakeClock) {
	buf := &bytes.Buffer{}
	h := NewDedupHandler(slog.NewTextHandler(buf, nil), window)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	h.state.now = clock.now
	return slog.New(h), buf, clock
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestDedupHandler_SuppressesWithinWindow(t *testing.T) {
	logger, buf, clock := setupDedup(time.Minute)

	for i := 0; i < 4; i++ {
		logger.Warn("indexing step failed", "window", "[0, 10)")
		clock.advance(time.Second)
	}
	require.Len(t, lines(buf), 1)
	assert.NotContains(t, buf.String(), "repeated_count")

	clock.advance(time.Minute)
	logger.Warn("indexing step failed", "window", "[0, 10)")

	out := lines(buf)
	require.Len(t, out, 2)
	assert.Contains(t, out[1], "repeated_count=3")
}

func TestDedupHandler_DistinctRecords(t *testing.T) {
	logger, buf, _ := setupDedup(time.Minute)

	logger.Warn("indexing step failed", "window", "[0, 10)")
	logger.Warn("indexing step failed", "window", "[10, 20)")
	logger.Info("indexing step failed", "window", "[0, 10)")
	logger.With("indexer", "a").Warn("indexing step failed", "window", "[0, 10)")
	logger.With("indexer", "b").Warn("indexing step failed", "window", "[0, 10)")
	logger.WithGroup("g").Warn("indexing step failed", "window", "[0, 10)")

	assert.Len(t, lines(buf), 6)
}

func TestDedupHandler_SharedStateAcrossDerivedLoggers(t *testing.T) {
	logger, buf, _ := setupDedup(time.Minute)

	a1 := logger.With("indexer", "a")
	a2 := logger.With("indexer", "a")
	a1.Warn("fetch failed")
	a2.Warn("fetch failed")

	assert.Len(t, lines(buf), 1)
}

func TestDedupHandler_Prune(t *testing.T) {
	logger, buf, clock := setupDedup(time.Second)
	h := logger.Handler().(*DedupHandler)

	for i := 0; i < maxDedupEntries; i++ {
		logger.Info("m", "i", i)
	}
	clock.advance(2 * time.Second)
	logger.Info("m", "i", -1)

	assert.Len(t, lines(buf), maxDedupEntries+1)
	assert.Len(t, h.state.seen, 1)
}

func TestDedupHandler_PruneDropsSuppressedEntries(t *testing.T) {
	logger, _, clock := setupDedup(time.Second)
	h := logger.Handler().(*DedupHandler)

	for i := 0; i < maxDedupEntries; i++ {
		logger.Info("m", "i", i)
		logger.Info("m", "i", i)
	}
	for _, e := range h.state.seen {
		require.Equal(t, 1, e.suppressed)
	}

	clock.advance(2 * time.Second)
	logger.Info("m", "i", -1)
	assert.Len(t, h.state.seen, 1)
}
