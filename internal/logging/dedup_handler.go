package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxDedupEntries bounds the remembered records; expired entries are pruned
// when it is reached, dropping their pending repeat counts.
const maxDedupEntries = 4096

// DedupHandler drops records identical to one emitted less than window ago.
// The next emitted copy carries repeated_count, the number dropped since.
// Records are identical when level, message and attributes (including those
// added with WithAttrs and WithGroup) match; time is ignored.
type DedupHandler struct {
	handler slog.Handler
	prefix  uint64 // hash of WithAttrs/WithGroup context
	state   *dedupState
}

type dedupState struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[uint64]*dedupEntry
}

type dedupEntry struct {
	emitted    time.Time
	suppressed int
}

// NewDedupHandler wraps handler with repeat suppression over window.
func NewDedupHandler(handler slog.Handler, window time.Duration) *DedupHandler {
	return &DedupHandler{
		handler: handler,
		state: &dedupState{
			window: window,
			now:    time.Now,
			seen:   make(map[uint64]*dedupEntry),
		},
	}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.hashRecord(r)

	repeated, emit := h.state.admit(key)
	if !emit {
		return nil
	}
	if repeated > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("repeated_count", repeated))
	}
	return h.handler.Handle(ctx, r)
}

func (s *dedupState) admit(key uint64) (repeated int, emit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.seen[key]; ok {
		if now.Sub(e.emitted) < s.window {
			e.suppressed++
			return 0, false
		}
		repeated = e.suppressed
	}

	if len(s.seen) >= maxDedupEntries {
		for k, e := range s.seen {
			if now.Sub(e.emitted) >= s.window {
				delete(s.seen, k)
			}
		}
	}
	s.seen[key] = &dedupEntry{emitted: now}
	return repeated, true
}

func (h *DedupHandler) hashRecord(r slog.Record) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.prefix, 16))
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(d, a)
		return true
	})
	return d.Sum64()
}

func writeAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(a.Key)
	_, _ = d.WriteString("=")
	_, _ = d.WriteString(a.Value.Resolve().String())
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.prefix, 16))
	for _, a := range attrs {
		writeAttr(d, a)
	}
	return &DedupHandler{handler: h.handler.WithAttrs(attrs), prefix: d.Sum64(), state: h.state}
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.prefix, 16))
	_, _ = d.WriteString("#" + name)
	return &DedupHandler{handler: h.handler.WithGroup(name), prefix: d.Sum64(), state: h.state}
}
