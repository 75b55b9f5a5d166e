package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_detections_total",
		Help: "Total number of attack events recorded, by attack type",
	}, []string{"attack_type"})
	mitigationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_mitigations_total",
		Help: "Total number of security actions executed, by action",
	}, []string{"action"})
	gateDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_gate_denied_total",
		Help: "Total number of requests denied by the access gate, by reason",
	}, []string{"reason"})
	windowObservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_window_observations_total",
		Help: "Total number of sliding window observations, by signal",
	}, []string{"signal"})
	maintenanceRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_maintenance_runs_total",
		Help: "Total number of maintenance job runs, by job and result",
	}, []string{"job", "result"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(detectionsTotal, mitigationsTotal, gateDeniedTotal, windowObservationsTotal, maintenanceRunsTotal)
}

// IncDetection counts a recorded attack event.
func IncDetection(attackType string) { detectionsTotal.WithLabelValues(attackType).Inc() }

// IncMitigation counts an executed security action.
func IncMitigation(action string) { mitigationsTotal.WithLabelValues(action).Inc() }

// IncGateDenied counts a request rejected before reaching a handler.
func IncGateDenied(reason string) { gateDeniedTotal.WithLabelValues(reason).Inc() }

// IncWindowObservation counts a sliding window hit.
func IncWindowObservation(signal string) { windowObservationsTotal.WithLabelValues(signal).Inc() }

// IncMaintenanceRun counts a maintenance job run; result is "ok" or "error".
func IncMaintenanceRun(job, result string) { maintenanceRunsTotal.WithLabelValues(job, result).Inc() }
