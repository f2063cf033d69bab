package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_notifications",
			Help: "Notification connections by outcome.",
		},
		[]string{"outcome"},
	)
	MetricActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amp_notification_connections",
			Help: "Notification connections being handled.",
		},
	)
)

const (
	outcomeAccepted = "200"
	outcomeRejected = "400"
	outcomeQueued   = "queued"
	outcomeDropped  = "dropped"
	outcomeFailed   = "failed"
	outcomeDenied   = "denied"
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MetricNotifications,
		MetricActiveConnections,
	}
}
