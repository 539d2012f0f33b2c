// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpilot_cycles_completed_total",
			Help: "Total number of scrape-filter-dispatch cycles completed",
		},
	)

	LeadsScraped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpilot_leads_scraped_total",
			Help: "Total number of leads extracted from the source",
		},
	)

	LeadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_leads_rejected_total",
			Help: "Total number of leads rejected by the filter evaluator",
		},
		[]string{"reason"},
	)

	LeadsQualified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpilot_leads_qualified_total",
			Help: "Total number of leads that passed filtering",
		},
	)

	ContactsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpilot_contacts_confirmed_total",
			Help: "Total number of confirmed contact flows",
		},
	)

	ContactsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_contacts_failed_total",
			Help: "Total number of failed contact flows",
		},
		[]string{"error_code"},
	)

	ContactFlowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "leadpilot_contact_flow_duration_seconds",
			Help: "Duration of a single contact flow in seconds",
		},
	)

	AutomationState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadpilot_automation_state",
			Help: "Current automation state (0=idle, 1=running, 2=suspended, 3=stopped)",
		},
	)
)
