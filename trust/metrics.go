package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricTrustedCertificates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amp_trusted_certificates",
			Help: "Named certificates in the TLS trust context.",
		},
	)
	MetricTrustBuildFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_trust_build_failures",
			Help: "Failed TLS trust context builds.",
		},
	)
	MetricDynamicCertificatesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_dynamic_certificates_skipped",
			Help: "Unusable certificates found in the dynamic trust file.",
		},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MetricTrustedCertificates,
		MetricTrustBuildFailures,
		MetricDynamicCertificatesSkipped,
	}
}
