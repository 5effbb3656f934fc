// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records account activity. A nil *Metrics records nothing.
type Metrics struct {
	Registrations   *prometheus.CounterVec
	Authentications *prometheus.CounterVec
	TokensIssued    *prometheus.CounterVec
	TokensConsumed  *prometheus.CounterVec
	HashDuration    prometheus.Histogram
}

// NewMetrics creates account metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_registrations_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"},
		),
		Authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_authentications_total",
				Help: "Authentication attempts by result",
			},
			[]string{"result"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_tokens_issued_total",
				Help: "Single-use tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokensConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_tokens_consumed_total",
				Help: "Token consumption attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		HashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "connect_password_hash_duration_seconds",
				Help:    "Time spent hashing passwords",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
	}

	reg.MustRegister(
		m.Registrations,
		m.Authentications,
		m.TokensIssued,
		m.TokensConsumed,
		m.HashDuration,
	)
	return m
}

// Result labels.
const (
	resultOK       = "ok"
	resultConflict = "conflict"
	resultDenied   = "denied"
	resultNotFound = "not_found"
	resultExpired  = "expired"
	resultError    = "error"
)

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) authentication(result string) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(result).Inc()
}

func (m *Metrics) tokenIssued(kind TokenKind) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) tokenConsumed(kind TokenKind, result string) {
	if m == nil {
		return
	}
	m.TokensConsumed.WithLabelValues(kind.String(), result).Inc()
}

func (m *Metrics) hashed(d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.Observe(d.Seconds())
}
