package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmrelay_dispatch_submissions_total",
		Help: "Jobs accepted per shard.",
	}, []string{"shard"})

	queueFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmrelay_dispatch_queue_full_total",
		Help: "Submissions rejected because the shard queue stayed full.",
	}, []string{"shard"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmrelay_dispatch_run_seconds",
		Help:    "Duration of one job run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"shard"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pmrelay_dispatch_queue_depth",
		Help: "Jobs waiting per shard.",
	}, []string{"shard"})

	panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmrelay_dispatch_panics_total",
		Help: "Jobs that panicked.",
	})
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
