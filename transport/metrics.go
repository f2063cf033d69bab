package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_transport_bytes",
			Help: "Bytes exchanged with appliances.",
		},
		[]string{"direction"},
	)
	MetricFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_transport_faults",
			Help: "SOAP faults returned by appliances.",
		},
		[]string{"kind"},
	)
	MetricErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_transport_errors",
			Help: "Failed exchanges by reason.",
		},
		[]string{"reason"},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MetricBytes,
		MetricFaults,
		MetricErrors,
	}
}
