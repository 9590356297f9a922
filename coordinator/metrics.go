package coordinator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess  = "success"
	resultRejected = "rejected"
	resultFailed   = "failed"
	resultSkipped  = "skipped"
)

var (
	installTotal   *prometheus.CounterVec
	uninstallTotal *prometheus.CounterVec
	recoveryTotal  *prometheus.CounterVec
	// storageReady follows Initialize and Shutdown of the coordinators in this process.
	// It assumes a single coordinator, as run by serve; a storage passed with WithStorage
	// is not reflected.
	storageReady   prometheus.Gauge
)

func MustRegisterMetrics(registerer prometheus.Registerer) {
	if err := RegisterMetrics(registerer); err != nil {
		panic(err)
	}
}

func RegisterMetrics(registerer prometheus.Registerer) error {
	return errors.Join(
		registerer.Register(installTotal),
		registerer.Register(uninstallTotal),
		registerer.Register(recoveryTotal),
		registerer.Register(storageReady),
	)
}

func init() {
	installTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contribution",
		Name:      "install_total",
		Help:      "Number of install attempts by result.",
	}, []string{"result"})
	uninstallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contribution",
		Name:      "uninstall_total",
		Help:      "Number of uninstall attempts by result.",
	}, []string{"result"})
	recoveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contribution",
		Name:      "recovery_total",
		Help:      "Number of host started recoveries by result.",
	}, []string{"result"})
	storageReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "contribution",
		Name:      "storage_ready",
		Help:      "1 if the contribution storage is initialized, 0 otherwise.",
	})
}
