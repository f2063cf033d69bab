package command

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_commands",
			Help: "Commands run by operation, version and result.",
		},
		[]string{"operation", "version", "result"},
	)
	MetricCommandDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "amp_command_duration",
			Help:       "Command duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"operation", "version", "result"},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MetricCommands,
		MetricCommandDuration,
	}
}
