package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FactsInserted    prometheus.Counter
	FactsUpdated     prometheus.Counter
	PrimaryConflicts prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		FactsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "circflow_facts_inserted_total",
			Help: "Total fact rows inserted by the assembler",
		}),
		FactsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "circflow_facts_updated_total",
			Help: "Total fact rows overwritten by idempotent re-submission",
		}),
		PrimaryConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "circflow_facts_primary_conflicts_total",
			Help: "Component periods observed with more than one primary series",
		}),
	}
}

func (m *Metrics) RecordInserted() {
	m.FactsInserted.Inc()
}

func (m *Metrics) RecordUpdated() {
	m.FactsUpdated.Inc()
}

func (m *Metrics) RecordPrimaryConflict() {
	m.PrimaryConflicts.Inc()
}
