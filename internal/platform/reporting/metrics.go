package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patientsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idclinic_patients_by_status",
			Help: "Patients per computed status at the last dashboard refresh",
		},
		[]string{"status"},
	)

	vlRemindersPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idclinic_vl_reminders_pending",
			Help: "Pregnant patients in the viral-load reminder feed at the last dashboard refresh",
		},
	)
)

// observe publishes the dashboard counters as gauges.
func observe(d Dashboard) {
	for st, n := range d.ByStatus {
		patientsByStatus.WithLabelValues(st).Set(float64(n))
	}
	vlRemindersPending.Set(float64(len(d.VLReminders)))
}
