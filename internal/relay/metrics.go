package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmrelay_updates_handled_total",
		Help: "Updates handled, by kind and result",
	}, []string{"kind", "result"})

	verificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmrelay_verification_outcomes_total",
		Help: "Verification steps, by action",
	}, []string{"action"})

	correlationEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmrelay_correlation_evictions_total",
		Help: "Correlation links dropped to keep the log under its cap",
	})
)
