//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	dbTotal     *prom.CounterVec
	dbSeconds   *prom.HistogramVec
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	stmtCache   *prom.CounterVec
	poolInUse   prom.Gauge
	poolIdle    prom.Gauge
	eventsTotal *prom.CounterVec
	indexTasks  *prom.CounterVec
	indexQueue  prom.Gauge
	resolutions *prom.CounterVec
}

func (p *promRecorder) IncDBOpTotal(op string, success bool) {
	p.dbTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveDBOpSeconds(op string, success bool, seconds float64) {
	p.dbSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncStmtCacheHit(kind string) {
	p.stmtCache.WithLabelValues(kind, "hit").Inc()
}

func (p *promRecorder) IncStmtCacheMiss(kind string) {
	p.stmtCache.WithLabelValues(kind, "miss").Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func (p *promRecorder) IncEventPublished(kind string) {
	p.eventsTotal.WithLabelValues(kind, "published").Inc()
}

func (p *promRecorder) IncEventDropped(kind string) {
	p.eventsTotal.WithLabelValues(kind, "dropped").Inc()
}

func (p *promRecorder) IncIndexTask(kind string, success bool) {
	p.indexTasks.WithLabelValues(kind, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveIndexQueueDepth(depth int) {
	p.indexQueue.Set(float64(depth))
}

func (p *promRecorder) IncResolution(strategy string, outcome string) {
	p.resolutions.WithLabelValues(strategy, outcome).Inc()
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		dbTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "db_ops_total",
			Help: "Total number of DB operations",
		}, []string{"op", "success"}),
		dbSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "db_op_seconds",
			Help:    "DB operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_total",
			Help: "Prepared statement cache hits and misses",
		}, []string{"kind", "result"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Connections currently in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_idle",
			Help: "Idle connections in the pool",
		}),
		eventsTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "change_events_total",
			Help: "Change events published or dropped per kind",
		}, []string{"kind", "result"}),
		indexTasks: prom.NewCounterVec(prom.CounterOpts{
			Name: "index_tasks_total",
			Help: "Search index maintenance tasks processed",
		}, []string{"kind", "success"}),
		indexQueue: prom.NewGauge(prom.GaugeOpts{
			Name: "index_queue_depth",
			Help: "Pending tasks in the search index queue",
		}),
		resolutions: prom.NewCounterVec(prom.CounterOpts{
			Name: "conflict_resolutions_total",
			Help: "Update resolutions per strategy and outcome",
		}, []string{"strategy", "outcome"}),
	}

	registry.MustRegister(p.dbTotal, p.dbSeconds, p.toolTotal, p.toolSeconds,
		p.stmtCache, p.poolInUse, p.poolIdle, p.eventsTotal, p.indexTasks,
		p.indexQueue, p.resolutions)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
