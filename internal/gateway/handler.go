package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/gorilla/schema"
	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/indexer"
	"github.com/syntrixbase/chunkdex/internal/remote"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotQueryable  = "NOT_QUERYABLE"
	ErrCodeNotConfigured = "NOT_CONFIGURED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// RangeQuery is the query string of a range request.
type RangeQuery struct {
	From uint64 `schema:"from,required"`
	To   uint64 `schema:"to,required"`
}

// LatestQuery is the query string of a latest request.
type LatestQuery struct {
	N int `schema:"n,required"`
}

// BucketJSON is the events at one position.
type BucketJSON struct {
	Position uint64           `json:"position"`
	Events   []map[string]any `json:"events"`
}

// BucketsResponse is the body of range and latest responses.
type BucketsResponse struct {
	Indexer string       `json:"indexer"`
	Buckets []BucketJSON `json:"buckets"`
}

// CursorResponse is the body of a last-indexed response.
type CursorResponse struct {
	Indexer     string `json:"indexer"`
	LastIndexed uint64 `json:"last_indexed"`
	NextFrom    uint64 `json:"next_from"`
	NextTo      uint64 `json:"next_to"`
}

// IndexerInfo is one entry of the indexer list.
type IndexerInfo struct {
	Name        string `json:"name"`
	LastIndexed uint64 `json:"last_indexed"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	names := s.names()
	out := make([]IndexerInfo, 0, len(names))
	for _, name := range names {
		src, _ := s.lookup(name)
		info := IndexerInfo{Name: name}
		if last, err := src.LastIndexed(); err != nil {
			info.Error = err.Error()
		} else {
			info.LastIndexed = last
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	name, src, ok := s.source(w, r)
	if !ok {
		return
	}

	var q RangeQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		s.logger.Debug("range: invalid query parameters", "error", err)
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters: from and to are required")
		return
	}
	if q.From > q.To {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "from must not exceed to")
		return
	}
	if s.cfg.MaxRange > 0 && q.To-q.From > s.cfg.MaxRange {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Range too large")
		return
	}

	grouped, err := src.GetByRange(q.From, q.To)
	if err != nil {
		s.writeSourceError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, BucketsResponse{Indexer: name, Buckets: toJSON(grouped)})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	name, src, ok := s.source(w, r)
	if !ok {
		return
	}

	var q LatestQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		s.logger.Debug("latest: invalid query parameters", "error", err)
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters: n is required")
		return
	}
	if q.N < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "n must not be negative")
		return
	}
	if s.cfg.MaxLatest > 0 && q.N > s.cfg.MaxLatest {
		q.N = s.cfg.MaxLatest
	}

	grouped, err := src.GetLatest(q.N)
	if err != nil {
		s.writeSourceError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, BucketsResponse{Indexer: name, Buckets: toJSON(grouped)})
}

func (s *Server) handleLastIndexed(w http.ResponseWriter, r *http.Request) {
	name, src, ok := s.source(w, r)
	if !ok {
		return
	}

	last, err := src.LastIndexed()
	if err != nil {
		s.writeSourceError(w, name, err)
		return
	}
	next, err := src.NextWindow()
	if err != nil {
		s.writeSourceError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, CursorResponse{
		Indexer:     name,
		LastIndexed: last,
		NextFrom:    next.From,
		NextTo:      next.To,
	})
}

func (s *Server) source(w http.ResponseWriter, r *http.Request) (string, remote.QuerySource, bool) {
	name := r.PathValue("name")
	src, ok := s.lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown indexer")
		return name, nil, false
	}
	return name, src, true
}

func (s *Server) writeSourceError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, indexer.ErrNotQueryable):
		writeError(w, http.StatusNotImplemented, ErrCodeNotQueryable, "Indexer does not support queries")
	case errors.Is(err, indexer.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "Indexer is not configured")
	default:
		s.logger.Error("indexer query failed", "indexer", name, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Indexer query failed")
	}
}

func toJSON(grouped map[uint64][]codec.Data) []BucketJSON {
	out := make([]BucketJSON, 0, len(grouped))
	for _, pos := range slices.Sorted(maps.Keys(grouped)) {
		events := make([]map[string]any, len(grouped[pos]))
		for i, d := range grouped[pos] {
			events[i] = d.ToNative()
		}
		out = append(out, BucketJSON{Position: pos, Events: events})
	}
	return out
}

// writeError writes a structured JSON error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}
