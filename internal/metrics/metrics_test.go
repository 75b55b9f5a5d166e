package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	IncDetection("sql_injection")
	IncDetection("sql_injection")
	IncMitigation("block_ip")
	IncGateDenied("ip_blocked")
	IncWindowObservation("not_found")
	IncMaintenanceRun("expiry", "ok")

	assert.Equal(t, 2.0, counterValue(t, reg, "warden_detections_total", map[string]string{"attack_type": "sql_injection"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "warden_mitigations_total", map[string]string{"action": "block_ip"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "warden_gate_denied_total", map[string]string{"reason": "ip_blocked"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "warden_maintenance_runs_total", map[string]string{"job": "expiry", "result": "ok"}))
	assert.Equal(t, 0.0, counterValue(t, reg, "warden_detections_total", map[string]string{"attack_type": "xss_attempt"}))
}
