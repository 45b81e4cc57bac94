package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_source_runs_total",
			Help: "Total number of source units run, by outcome",
		},
		[]string{"status"},
	)

	SourceRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelify_source_run_duration_seconds",
			Help:    "Wall-clock time of one fetch/parse/ingest unit",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"adapter"},
	)

	UnitsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intelify_scheduler_units_in_flight",
			Help: "Source units currently holding a scheduler slot",
		},
	)

	CandidatesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_candidates_parsed_total",
			Help: "Raw feed records mapped by adapters, by outcome",
		},
		[]string{"adapter", "outcome"},
	)

	IOCsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_iocs_ingested_total",
			Help: "Candidates processed by the ingestion engine, by result",
		},
		[]string{"result"},
	)

	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_enrichment_lookups_total",
			Help: "Enrichment lookups, by lookup kind and result",
		},
		[]string{"lookup", "result"},
	)

	EnrichmentCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_enrichment_cache_total",
			Help: "Enrichment cache accesses, by tier and result",
		},
		[]string{"tier", "result"},
	)

	CorrelationBoosts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelify_correlation_boosts_total",
			Help: "IOCs whose confidence was raised by the correlation pass",
		},
	)

	NewsArticlesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelify_news_articles_stored_total",
			Help: "New news articles persisted",
		},
	)

	NewsLinks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelify_news_links_total",
			Help: "Article to IOC links written by the news linker",
		},
	)

	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_retention_deleted_total",
			Help: "Rows removed by the retention sweep",
		},
		[]string{"kind"},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelify_pass_duration_seconds",
			Help:    "Duration of scheduled passes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pass"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelify_events_published_total",
			Help: "IOC events handed to the event publisher, by status",
		},
		[]string{"status"},
	)
)
