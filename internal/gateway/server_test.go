package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/indexer"
)

type fakeSource struct {
	buckets map[uint64][]codec.Data
	last    uint64
	err     error

	gotFrom, gotTo uint64
	gotN           int
}

func (f *fakeSource) GetByRange(from, to uint64) (map[uint64][]codec.Data, error) {
	f.gotFrom, f.gotTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uint64][]codec.Data)
	for pos, vs := range f.buckets {
		if pos >= from && pos < to {
			out[pos] = vs
		}
	}
	return out, nil
}

func (f *fakeSource) GetLatest(n int) (map[uint64][]codec.Data, error) {
	f.gotN = n
	if f.err != nil {
		return nil, f.err
	}
	return map[uint64][]codec.Data{f.last: f.buckets[f.last]}, nil
}

func (f *fakeSource) LastIndexed() (uint64, error) {
	return f.last, f.err
}

func (f *fakeSource) NextWindow() (indexer.Window, error) {
	return indexer.Window{From: f.last + 1, To: f.last + 11}, f.err
}

func setupTestServer(t *testing.T) (*Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{
		buckets: map[uint64][]codec.Data{
			1: {{"memo": codec.String("a")}},
			2: {{"memo": codec.String("b")}, {"memo": codec.String("c")}},
			5: {{"amount": codec.Uint64(7)}},
		},
		last: 5,
	}
	cfg := config.DefaultGatewayConfig()
	cfg.MaxLatest = 10
	cfg.MaxRange = 100
	s := NewServer(cfg, nil)
	s.Register("transfers", src)
	return s, src
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGateway_Range(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := get(t, s, "/v1/indexers/transfers/range?from=2&to=6")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[BucketsResponse](t, rec)
	assert.Equal(t, "transfers", resp.Indexer)
	require.Len(t, resp.Buckets, 2)
	assert.Equal(t, uint64(2), resp.Buckets[0].Position)
	assert.Equal(t, "b", resp.Buckets[0].Events[0]["memo"])
	assert.Equal(t, uint64(5), resp.Buckets[1].Position)
	assert.Equal(t, float64(7), resp.Buckets[1].Events[0]["amount"])
}

func TestGateway_RangeValidation(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		path string
		code int
	}{
		{"/v1/indexers/transfers/range?from=1", http.StatusBadRequest},
		{"/v1/indexers/transfers/range?from=x&to=2", http.StatusBadRequest},
		{"/v1/indexers/transfers/range?from=5&to=2", http.StatusBadRequest},
		{"/v1/indexers/transfers/range?from=0&to=1000", http.StatusBadRequest},
		{"/v1/indexers/nope/range?from=0&to=1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, s, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, decode[APIError](t, rec).Code)
		})
	}
}

func TestGateway_Latest(t *testing.T) {
	s, src := setupTestServer(t)

	rec := get(t, s, "/v1/indexers/transfers/latest?n=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, src.gotN)
	resp := decode[BucketsResponse](t, rec)
	require.Len(t, resp.Buckets, 1)
	assert.Equal(t, uint64(5), resp.Buckets[0].Position)

	// capped at max_latest
	get(t, s, "/v1/indexers/transfers/latest?n=5000")
	assert.Equal(t, 10, src.gotN)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/v1/indexers/transfers/latest?n=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/v1/indexers/transfers/latest").Code)
}

func TestGateway_LastIndexed(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := get(t, s, "/v1/indexers/transfers/last-indexed")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CursorResponse](t, rec)
	assert.Equal(t, CursorResponse{Indexer: "transfers", LastIndexed: 5, NextFrom: 6, NextTo: 16}, resp)
}

func TestGateway_SourceErrors(t *testing.T) {
	s, src := setupTestServer(t)

	src.err = indexer.ErrNotQueryable
	rec := get(t, s, "/v1/indexers/transfers/range?from=0&to=1")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, ErrCodeNotQueryable, decode[APIError](t, rec).Code)

	src.err = indexer.ErrNotConfigured
	rec = get(t, s, "/v1/indexers/transfers/last-indexed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.err = errors.New("backend down")
	rec = get(t, s, "/v1/indexers/transfers/latest?n=1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, decode[APIError](t, rec).Code)
}

func TestGateway_List(t *testing.T) {
	s, _ := setupTestServer(t)
	s.Register("broken", &fakeSource{err: errors.New("boom")})

	rec := get(t, s, "/v1/indexers")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]IndexerInfo](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "broken", list[0].Name)
	assert.Equal(t, "boom", list[0].Error)
	assert.Equal(t, IndexerInfo{Name: "transfers", LastIndexed: 5}, list[1])
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	get(t, s, "/v1/indexers/transfers/last-indexed")
	rec = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chunkdex_gateway_requests_total")
}

func TestGateway_StartShutdown(t *testing.T) {
	cfg := config.DefaultGatewayConfig()
	cfg.Listen = "127.0.0.1:0"
	s := NewServer(cfg, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, NewServer(cfg, nil).Shutdown(ctx))
}
