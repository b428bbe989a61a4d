package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistryReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_reads_total",
		Help: "Total number of producer registry reads",
	}, []string{"result"})

	ProductScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "product_scans_total",
		Help: "Total number of product log scans started",
	})

	ProductScansFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "product_scans_failed_total",
		Help: "Total number of product log scans that failed",
	}, []string{"reason"})

	ProductScanLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "product_scan_latency_seconds",
		Help:    "Latency of a full product scan including metadata joins",
		Buckets: prometheus.DefBuckets,
	})

	ProductRecordReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "product_record_read_failures_total",
		Help: "Total number of product record reads that failed during a scan",
	})

	MetadataFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metadata_fetch_failures_total",
		Help: "Total number of metadata fetches that fell back to an empty object",
	}, []string{"reason"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_latency_seconds",
		Help:    "Latency of chain RPC calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Read-through cache lookups",
	}, []string{"cache", "result"})

	RegistrationsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrations_submitted_total",
		Help: "Total number of registration transactions broadcast",
	})

	RegistrationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrations_confirmed_total",
		Help: "Total number of registration transactions confirmed",
	})

	RegistrationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrations_failed_total",
		Help: "Total number of failed registrations",
	}, []string{"reason"})

	SessionsConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_connected_total",
		Help: "Total number of wallet sessions opened",
	})

	EventRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_handler_retries_total",
		Help: "Total number of retried dashboard event deliveries",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
