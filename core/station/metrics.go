// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"time"

	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultConfirmed = "confirmed"
	resultReverted  = "reverted"
	resultNetwork   = "network_error"
	resultRejected  = "rejected"
)

// Metrics are the relay's prometheus collectors.
type Metrics struct {
	submissions  *prometheus.CounterVec
	confirmation *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station",
			Subsystem: "relay",
			Name:      "submissions_total",
			Help:      "Relayed factory calls by method and result.",
		}, []string{"method", "result"}),
		confirmation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "station",
			Subsystem: "relay",
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast to mined receipt.",
			Buckets:   []float64{0.5, 1, 2, 4, 6, 12, 24, 60, 120},
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.confirmation)
	}
	return m
}

func (m *Metrics) observe(method types.Method, result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(method.String(), result).Inc()
}

func (m *Metrics) confirmed(method types.Method, since time.Time) {
	if m == nil {
		return
	}
	m.confirmation.WithLabelValues(method.String()).Observe(time.Since(since).Seconds())
}
