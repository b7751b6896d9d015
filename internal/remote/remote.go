// Package remote exposes indexers over lens and lets an indexer fetch its
// input from another indexer's persisted events.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/indexer"
	"github.com/syntrixbase/chunkdex/internal/lens"
)

const (
	MethodGetByRange     = "get_by_range"
	MethodGetLatest      = "get_latest"
	MethodGetLastIndexed = "get_last_indexed"
)

// MaxPosition is the highest position carried on the wire. BSON integers
// are signed, so windows reaching past it are clamped.
const MaxPosition = math.MaxInt64

var ErrInvalidRange = errors.New("invalid range")

// RangeRequest asks for the buckets with From <= position < To.
type RangeRequest struct {
	From uint64 `bson:"from"`
	To   uint64 `bson:"to"`
}

// LatestRequest asks for the latest N events.
type LatestRequest struct {
	N int `bson:"n"`
}

// Bucket is the events persisted at one position.
type Bucket struct {
	Position uint64          `bson:"position"`
	Values   []codec.WireData `bson:"values"`
}

// RangeResponse carries the non-empty buckets of a range, ascending.
// Covered is the exclusive upper bound of the positions the remote indexer
// has processed.
type RangeResponse struct {
	Buckets     []Bucket `bson:"buckets"`
	LastIndexed uint64   `bson:"last_indexed"`
	Covered     uint64   `bson:"covered"`
}

// LatestResponse carries the latest buckets, ascending.
type LatestResponse struct {
	Buckets []Bucket `bson:"buckets"`
}

// LastIndexedResponse carries an indexer's cursor.
type LastIndexedResponse struct {
	Position uint64 `bson:"position"`
	Covered  uint64 `bson:"covered"`
}

// QuerySource is the read side of a Data-typed indexer.
type QuerySource interface {
	GetByRange(from, to uint64) (map[uint64][]codec.Data, error)
	GetLatest(n int) (map[uint64][]codec.Data, error)
	LastIndexed() (uint64, error)
	NextWindow() (indexer.Window, error)
}

// TypedSource is the read side of an indexer with event type E.
type TypedSource[E any] interface {
	GetByRange(from, to uint64) (map[uint64][]E, error)
	GetLatest(n int) (map[uint64][]E, error)
	LastIndexed() (uint64, error)
	NextWindow() (indexer.Window, error)
}

// Tokenized adapts a typed indexer to a QuerySource.
func Tokenized[E any](src TypedSource[E], c codec.Codec[E]) QuerySource {
	return &tokenized[E]{src: src, codec: c}
}

type tokenized[E any] struct {
	src   TypedSource[E]
	codec codec.Codec[E]
}

func (t *tokenized[E]) GetByRange(from, to uint64) (map[uint64][]codec.Data, error) {
	b, err := t.src.GetByRange(from, to)
	if err != nil {
		return nil, err
	}
	return t.tokenize(b), nil
}

func (t *tokenized[E]) GetLatest(n int) (map[uint64][]codec.Data, error) {
	b, err := t.src.GetLatest(n)
	if err != nil {
		return nil, err
	}
	return t.tokenize(b), nil
}

func (t *tokenized[E]) LastIndexed() (uint64, error) {
	return t.src.LastIndexed()
}

func (t *tokenized[E]) NextWindow() (indexer.Window, error) {
	return t.src.NextWindow()
}

func (t *tokenized[E]) tokenize(b map[uint64][]E) map[uint64][]codec.Data {
	out := make(map[uint64][]codec.Data, len(b))
	for pos, es := range b {
		out[pos] = codec.TokenizeAll(t.codec, es)
	}
	return out
}

// ToBuckets converts grouped records to ascending wire buckets.
func ToBuckets(grouped map[uint64][]codec.Data) []Bucket {
	out := make([]Bucket, 0, len(grouped))
	for _, pos := range sortedKeys(grouped) {
		vs := grouped[pos]
		wb := Bucket{Position: pos, Values: make([]codec.WireData, len(vs))}
		for i, d := range vs {
			wb.Values[i] = d.ToWire()
		}
		out = append(out, wb)
	}
	return out
}

// FromBuckets validates and converts wire buckets.
func FromBuckets(buckets []Bucket) (map[uint64][]codec.Data, error) {
	out := make(map[uint64][]codec.Data, len(buckets))
	for _, b := range buckets {
		for _, w := range b.Values {
			d, err := codec.DataFromWire(w)
			if err != nil {
				return nil, fmt.Errorf("position %d: %w", b.Position, err)
			}
			out[b.Position] = append(out[b.Position], d)
		}
		if _, ok := out[b.Position]; !ok {
			out[b.Position] = nil
		}
	}
	return out, nil
}

// Expose registers the query methods for src on srv.
func Expose(srv *lens.Server, src QuerySource) {
	lens.Register(srv, MethodGetByRange, func(_ context.Context, req RangeRequest) (RangeResponse, error) {
		if req.From > req.To {
			return RangeResponse{}, fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, req.From, req.To)
		}
		// Read the cursor first: buckets persisted after it are still
		// returned, but never reported as covered.
		last, covered, err := cursor(src)
		if err != nil {
			return RangeResponse{}, err
		}
		grouped, err := src.GetByRange(req.From, req.To)
		if err != nil {
			return RangeResponse{}, err
		}
		return RangeResponse{Buckets: ToBuckets(grouped), LastIndexed: last, Covered: covered}, nil
	})

	lens.Register(srv, MethodGetLatest, func(_ context.Context, req LatestRequest) (LatestResponse, error) {
		if req.N < 0 {
			return LatestResponse{}, fmt.Errorf("%w: negative count %d", ErrInvalidRange, req.N)
		}
		grouped, err := src.GetLatest(req.N)
		if err != nil {
			return LatestResponse{}, err
		}
		return LatestResponse{Buckets: ToBuckets(grouped)}, nil
	})

	lens.Register(srv, MethodGetLastIndexed, func(context.Context, struct{}) (LastIndexedResponse, error) {
		last, covered, err := cursor(src)
		if err != nil {
			return LastIndexedResponse{}, err
		}
		return LastIndexedResponse{Position: last, Covered: covered}, nil
	})
}

func cursor(src QuerySource) (last, covered uint64, err error) {
	last, err = src.LastIndexed()
	if err != nil {
		return 0, 0, err
	}
	next, err := src.NextWindow()
	if err != nil {
		return 0, 0, err
	}
	return min(last, MaxPosition), min(next.From, MaxPosition), nil
}

// RangeFetcher returns an indexer Fetcher that reads the buckets of a remote
// indexer. When the remote has processed positions of the window without
// events, the highest of them is returned as an empty bucket so the local
// cursor keeps pace with the remote one.
func RangeFetcher(f *lens.Finder[RangeRequest, RangeResponse]) indexer.Fetcher[codec.Data] {
	return func(ctx context.Context, from, to uint64) (map[uint64][]codec.Data, error) {
		if from >= MaxPosition {
			return map[uint64][]codec.Data{}, nil
		}
		to = min(to, MaxPosition)

		resp, err := f.Find(ctx, RangeRequest{From: from, To: to})
		if err != nil {
			return nil, err
		}
		out, err := FromBuckets(resp.Buckets)
		if err != nil {
			return nil, err
		}

		if bound := min(to, resp.Covered); bound > from {
			if _, ok := out[bound-1]; !ok {
				out[bound-1] = nil
			}
		}
		return out, nil
	}
}

// Client queries a remote indexer exposed with Expose.
type Client struct {
	ranges *lens.Finder[RangeRequest, RangeResponse]
	latest *lens.Finder[LatestRequest, LatestResponse]
	last   *lens.Finder[struct{}, LastIndexedResponse]
}

// NewClient creates a client for the indexer served as target. rangeMethod
// overrides MethodGetByRange when non-empty.
func NewClient(t lens.Transport, target, rangeMethod string, opts lens.FinderOptions) *Client {
	if rangeMethod == "" {
		rangeMethod = MethodGetByRange
	}
	return &Client{
		ranges: lens.NewFinder[RangeRequest, RangeResponse](t, target, rangeMethod, opts),
		latest: lens.NewFinder[LatestRequest, LatestResponse](t, target, MethodGetLatest, opts),
		last:   lens.NewFinder[struct{}, LastIndexedResponse](t, target, MethodGetLastIndexed, opts),
	}
}

// Fetcher returns a RangeFetcher over the client's range method.
func (c *Client) Fetcher() indexer.Fetcher[codec.Data] {
	return RangeFetcher(c.ranges)
}

// GetByRange returns the remote non-empty buckets with from <= position < to.
// Bounds past MaxPosition are clamped to it.
func (c *Client) GetByRange(ctx context.Context, from, to uint64) (map[uint64][]codec.Data, error) {
	resp, err := c.ranges.Find(ctx, RangeRequest{From: min(from, MaxPosition), To: min(to, MaxPosition)})
	if err != nil {
		return nil, err
	}
	return FromBuckets(resp.Buckets)
}

// GetLatest returns the remote latest n events grouped by position.
func (c *Client) GetLatest(ctx context.Context, n int) (map[uint64][]codec.Data, error) {
	resp, err := c.latest.Find(ctx, LatestRequest{N: n})
	if err != nil {
		return nil, err
	}
	return FromBuckets(resp.Buckets)
}

// LastIndexed returns the remote cursor.
func (c *Client) LastIndexed(ctx context.Context) (uint64, error) {
	resp, err := c.last.Find(ctx, struct{}{})
	if err != nil {
		return 0, err
	}
	return resp.Position, nil
}

func sortedKeys(m map[uint64][]codec.Data) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
