package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var deployedGauge prometheus.Gauge

func init() {
	deployedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "contribution",
		Subsystem: "registry",
		Name:      "deployed",
		Help:      "Number of contributions currently live in the registry.",
	})
}

// RegisterMetrics registers the registry metrics with the given registerer.
func RegisterMetrics(registerer prometheus.Registerer) error {
	return errors.Join(
		registerer.Register(deployedGauge),
	)
}

func MustRegisterMetrics(registerer prometheus.Registerer) {
	if err := RegisterMetrics(registerer); err != nil {
		panic(err)
	}
}
