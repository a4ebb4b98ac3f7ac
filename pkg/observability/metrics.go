package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the role engine
type Metrics struct {
	// Role operations
	RoleOperationsTotal   *prometheus.CounterVec
	RoleOperationDuration *prometheus.HistogramVec

	// Derived objects
	DerivedGroupsCreatedTotal prometheus.Counter
	DerivedGroupsDeletedTotal prometheus.Counter
	GrantsTotal               *prometheus.CounterVec
	FlagPropagationsTotal     *prometheus.CounterVec

	// Integrity drift
	IntegrityWarningsTotal *prometheus.CounterVec

	// Administered sites cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CachePurgesTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors on registerer.
// A nil registerer leaves the collectors unregistered, which is what tests
// and library callers without a metrics endpoint want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoleOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmsroles_role_operations_total",
				Help: "Total number of role engine operations",
			},
			[]string{"operation", "status"},
		),
		RoleOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmsroles_role_operation_duration_seconds",
				Help:    "Role engine operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation"},
		),
		DerivedGroupsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmsroles_derived_groups_created_total",
				Help: "Total number of site-specific groups materialized",
			},
		),
		DerivedGroupsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmsroles_derived_groups_deleted_total",
				Help: "Total number of site-specific groups destroyed",
			},
		),
		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmsroles_grants_total",
				Help: "Total number of role grants and ungrants",
			},
			[]string{"mode", "op"},
		),
		FlagPropagationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmsroles_flag_propagations_total",
				Help: "Total number of derived grants rewritten after a flag change",
			},
			[]string{"mode"},
		),
		IntegrityWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmsroles_integrity_warnings_total",
				Help: "Total number of data integrity problems detected and skipped",
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmsroles_administered_sites_cache_hits_total",
				Help: "Total number of administered-sites cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmsroles_administered_sites_cache_misses_total",
				Help: "Total number of administered-sites cache misses",
			},
		),
		CachePurgesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmsroles_administered_sites_cache_purges_total",
				Help: "Total number of administered-sites cache purges",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RoleOperationsTotal,
			m.RoleOperationDuration,
			m.DerivedGroupsCreatedTotal,
			m.DerivedGroupsDeletedTotal,
			m.GrantsTotal,
			m.FlagPropagationsTotal,
			m.IntegrityWarningsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CachePurgesTotal,
		)
	}

	return m
}

// ObserveOperation records the outcome and duration of one engine operation
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RoleOperationsTotal.WithLabelValues(operation, status).Inc()
	m.RoleOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
