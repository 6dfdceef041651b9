package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	createdTopicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pmrelay",
		Subsystem: "routing",
		Name:      "topics_created_total",
		Help:      "Forum topics created for new or recreated visitors.",
	})

	stalePurgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pmrelay",
		Subsystem: "routing",
		Name:      "stale_purges_total",
		Help:      "Directory entries purged because their topic no longer exists.",
	})
)
