// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the acquisition pipeline and its clients.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PipelineOutcomes *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	RateLimitWait    *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
	Acknowledgements *prometheus.CounterVec
	RankVerdicts     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PipelineOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrlite_pipeline_outcomes_total",
			Help: "Total number of processed requests by outcome and selection mode",
		}, []string{"outcome", "mode"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seerrlite_pipeline_duration_seconds",
			Help:    "Time spent processing a single request",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrlite_http_requests_total",
			Help: "Total number of outbound HTTP requests by service and status code",
		}, []string{"service", "code"}),
		RateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seerrlite_ratelimit_wait_seconds",
			Help:    "Time spent waiting for outbound rate limit capacity",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
		}, []string{"service"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seerrlite_queue_depth",
			Help: "Number of requests waiting in a queue",
		}, []string{"queue"}),
		Acknowledgements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrlite_acknowledgements_total",
			Help: "Total number of availability acknowledgements sent upstream by result",
		}, []string{"result"}),
		RankVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seerrlite_rank_verdicts_total",
			Help: "Total number of ranked releases by verdict",
		}, []string{"verdict"}),
	}
}

func (m *Metrics) ObserveOutcome(outcome, mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.WithLabelValues(outcome, mode).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records an outbound call. A zero code marks a transport failure.
func (m *Metrics) ObserveHTTP(service string, code int) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.HTTPRequests.WithLabelValues(service, label).Inc()
}

func (m *Metrics) ObserveRateLimitWait(service string, waited time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(service).Observe(waited.Seconds())
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) ObserveAcknowledgement(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "succeeded"
	}
	m.Acknowledgements.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRankVerdict(verdict string) {
	if m == nil {
		return
	}
	m.RankVerdicts.WithLabelValues(verdict).Inc()
}
