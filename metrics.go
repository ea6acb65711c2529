// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional prometheus.Collector tracking a Lock's
// introspection surface beyond the bare Counts(): per-mode acquisition
// and failure counters, wait-queue entries, releases, and cancellations.
// Attach one with Lock.SetMetrics and register it with a
// prometheus.Registerer as usual; a Lock with no Metrics attached pays no
// additional cost for these calls.
type Metrics struct {
	acquired  *prometheus.CounterVec
	failed    *prometheus.CounterVec
	blocked   *prometheus.CounterVec
	released  *prometheus.CounterVec
	canceled  prometheus.Counter
}

// NewMetrics constructs a Metrics collector. name distinguishes multiple
// locks sharing a registry (e.g. one per B-tree shard).
func NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"lock": name}
	return &Metrics{
		acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "trilock",
			Name:        "acquired_total",
			Help:        "Acquisitions granted without waiting (trylock, relock, or the blocking calls' fast path), by mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "trilock",
			Name:        "trylock_failed_total",
			Help:        "Failed non-waiting attempts (trylock, relock, or the blocking calls' fast path before they wait), by mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "trilock",
			Name:        "blocked_total",
			Help:        "Acquisitions that entered the wait list, by mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "trilock",
			Name:        "released_total",
			Help:        "Releases, by mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "trilock",
			Name:        "canceled_total",
			Help:        "Blocking acquisitions canceled via context or should-abort predicate.",
			ConstLabels: labels,
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquired.Describe(ch)
	m.failed.Describe(ch)
	m.blocked.Describe(ch)
	m.released.Describe(ch)
	ch <- m.canceled.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.acquired.Collect(ch)
	m.failed.Collect(ch)
	m.blocked.Collect(ch)
	m.released.Collect(ch)
	ch <- m.canceled
}

func (l *Lock) observeTry(mode Mode, ok bool) {
	if l.metrics == nil {
		return
	}
	if ok {
		l.metrics.acquired.WithLabelValues(mode.String()).Inc()
	} else {
		l.metrics.failed.WithLabelValues(mode.String()).Inc()
	}
}

func (l *Lock) observeBlocked(mode Mode) {
	if l.metrics == nil {
		return
	}
	l.metrics.blocked.WithLabelValues(mode.String()).Inc()
}

func (l *Lock) observeRelease(mode Mode) {
	if l.metrics == nil {
		return
	}
	l.metrics.released.WithLabelValues(mode.String()).Inc()
}

func (l *Lock) observeCanceled() {
	if l.metrics == nil {
		return
	}
	l.metrics.canceled.Inc()
}
