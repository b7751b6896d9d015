package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Steps
	StepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkdex_indexer_steps_total",
		Help: "The total number of indexing steps by result",
	}, []string{"indexer", "result"})

	// Events
	EventsIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkdex_indexer_events_indexed_total",
		Help: "The total number of events persisted",
	}, []string{"indexer"})

	EventsFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkdex_indexer_events_filtered_total",
		Help: "The total number of events dropped by the filter",
	}, []string{"indexer"})

	// Cursor
	LastIndexed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chunkdex_indexer_last_indexed",
		Help: "The last indexed position",
	}, []string{"indexer"})

	// Fetch
	FetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "chunkdex_indexer_fetch_latency_seconds",
		Help: "The latency of window fetches",
	}, []string{"indexer"})
)

// Step results
const (
	ResultOK           = "ok"
	ResultCursorError  = "cursor_error"
	ResultFetchError   = "fetch_error"
	ResultConvertError = "convert_error"
	ResultPersistError = "persist_error"
)

func init() {
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(EventsIndexed)
	prometheus.MustRegister(EventsFiltered)
	prometheus.MustRegister(LastIndexed)
	prometheus.MustRegister(FetchLatency)
}
