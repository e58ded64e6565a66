package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishRunsTotal counts publish runs by overall result
	PublishRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsmgr_publish_runs_total",
		Help: "Total number of publish runs by result",
	}, []string{"result"})

	// PublishDuration tracks end-to-end publish run time
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dnsmgr_publish_duration_seconds",
		Help:    "Histogram of publish run duration",
		Buckets: prometheus.DefBuckets,
	})

	// ZoneValidationsTotal counts named-checkzone results by classification
	ZoneValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsmgr_zone_validations_total",
		Help: "Total number of zone file validations by classified status",
	}, []string{"status"})

	// DistributionFailuresTotal counts failed deliveries per server
	DistributionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsmgr_distribution_failures_total",
		Help: "Total number of failed zone/conf deliveries per server",
	}, []string{"server"})

	// ZonesPending tracks zones currently flagged for publication
	ZonesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dnsmgr_zones_pending",
		Help: "Number of zones with unpublished changes",
	})
)
