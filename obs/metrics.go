package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access gate decisions by outcome.",
		},
		[]string{"outcome"},
	)

	capabilityResolutions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capability_resolutions_total",
		Help: "Effective capability set resolutions.",
	})

	catalogInconsistencies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capability_catalog_inconsistencies_total",
		Help: "Overrides referencing capabilities missing from the catalog.",
	})

	handleOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_handle_opens_total",
			Help: "Store handles opened, by trust tier.",
		},
		[]string{"tier"},
	)

	pooledHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "store_pooled_handles",
		Help: "Tenant store handles currently pooled.",
	})
)

// Init registers the core metrics with the default registry.
func Init() {
	prometheus.MustRegister(accessDecisions, capabilityResolutions, catalogInconsistencies, handleOpens, pooledHandles)
}

// ObserveAccessDecision records an access gate outcome (granted, unauthorized, not_found, staff_bypass).
func ObserveAccessDecision(outcome string) {
	accessDecisions.WithLabelValues(outcome).Inc()
}

// ObserveCapabilityResolution records one effective-set resolution.
func ObserveCapabilityResolution() {
	capabilityResolutions.Inc()
}

// ObserveCatalogInconsistency records an override pointing at a missing capability.
func ObserveCatalogInconsistency() {
	catalogInconsistencies.Inc()
}

// ObserveHandleOpen records a store handle being opened at the given tier.
func ObserveHandleOpen(tier string) {
	handleOpens.WithLabelValues(tier).Inc()
}

// SetPooledHandles updates the pooled handle gauge.
func SetPooledHandles(n int) {
	pooledHandles.Set(float64(n))
}
