// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package observability owns the process metric registry and delivers it to
// a Prometheus Pushgateway when a command finishes.
package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/samber/oops"

	"github.com/serpconnect/connect/internal/account"
)

// Registry holds the metrics of one process.
type Registry struct {
	registry *prometheus.Registry
	account  *account.Metrics
}

// NewRegistry creates a registry with Go runtime, process and account
// metrics. It uses its own registry rather than the global one.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry: reg,
		account:  account.NewMetrics(reg),
	}
}

// Account returns the account metrics for wiring into a Manager.
func (r *Registry) Account() *account.Metrics {
	return r.account
}

// Gatherer exposes the registry for pushing or inspection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Pusher sends a registry to a Pushgateway.
type Pusher struct {
	url    string
	job    string
	logger *slog.Logger
}

// NewPusher creates a Pusher. An empty url disables pushing.
func NewPusher(url, job string, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	if job == "" {
		job = "connect"
	}
	return &Pusher{url: url, job: job, logger: logger}
}

// Enabled reports whether a Pushgateway is configured.
func (p *Pusher) Enabled() bool {
	return p != nil && p.url != ""
}

// Push replaces the metrics grouped under the job and command with the
// current contents of g.
func (p *Pusher) Push(ctx context.Context, g prometheus.Gatherer, command string) error {
	if !p.Enabled() {
		return nil
	}
	err := push.New(p.url, p.job).
		Gatherer(g).
		Grouping("command", command).
		PushContext(ctx)
	if err != nil {
		return oops.Code("METRICS_PUSH_FAILED").
			With("url", p.url).
			With("job", p.job).
			With("command", command).
			Wrap(err)
	}
	p.logger.DebugContext(ctx, "metrics pushed", "job", p.job, "command", command)
	return nil
}
