package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	triageActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_actions_total",
			Help: "Report save and send actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	openEditors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_open_editors",
			Help: "Number of report editors currently open",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers the triage collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(triageActionsTotal)
		prometheus.MustRegister(openEditors)
	})
}

func observeAction(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	triageActionsTotal.WithLabelValues(action, outcome).Inc()
}
