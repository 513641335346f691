package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RowsNormalized prometheus.Counter
	RowsRejected   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		RowsNormalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "circflow_staging_rows_normalized_total",
			Help: "Total raw rows successfully normalised into canonical observations",
		}),
		RowsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "circflow_staging_rows_rejected_total",
			Help: "Total raw rows rejected during staging, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) RecordNormalized() {
	m.RowsNormalized.Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	m.RowsRejected.WithLabelValues(reason).Inc()
}
