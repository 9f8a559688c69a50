package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_requests_total",
		Help: "Total geocode provider requests",
	})
	GeocodeSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_success_total",
		Help: "Total geocode provider responses with status OK",
	})
	GeocodeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_fail_total",
		Help: "Total geocode provider transport, status or decode failures",
	})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paxtrack_geocode_duration_ms",
		Help:    "Geocode provider call duration in milliseconds",
		Buckets: []float64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_cache_hits_total",
		Help: "Total geocode cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_cache_misses_total",
		Help: "Total geocode cache misses",
	})
	GeocodeSharedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_geocode_shared_total",
		Help: "Total geocode lookups served by an in-flight request for the same address",
	})
	SnapshotDaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paxtrack_snapshot_days_total",
		Help: "Snapshot days resolved, by source (file or fetched)",
	}, []string{"source"})
	SnapshotDayFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paxtrack_snapshot_day_fail_total",
		Help: "Snapshot days skipped because of transport or geocoding failures",
	})
	InvalidRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paxtrack_invalid_rows_total",
		Help: "Rows rejected by normalization, by field",
	}, []string{"field"})
	PipelineDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paxtrack_pipeline_duration_ms",
		Help:    "Full pipeline run duration in milliseconds",
		Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 300000, 900000},
	})
)

func init() {
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeSuccessTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
	prometheus.MustRegister(GeocodeSharedTotal)
	prometheus.MustRegister(SnapshotDaysTotal)
	prometheus.MustRegister(SnapshotDayFailTotal)
	prometheus.MustRegister(InvalidRowsTotal)
	prometheus.MustRegister(PipelineDurationMs)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：批处理进程在 METRICS_ADDR 配置时暴露 /metrics，供定时模式下长期抓取。
func Handler() http.Handler { return promhttp.Handler() }
