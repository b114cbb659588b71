// Package metrics exposes the Prometheus instruments for the scan and
// settlement pipeline. Instruments register on an injected Registerer so
// tests can use a private registry and the ops server can gate exposure.
package metrics

import (
	"math/big"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for settlement attempts.
const (
	OutcomeSettled = "settled"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
)

const namespace = "arbbot"

// Metrics holds the instruments the service updates.
type Metrics struct {
	scans         prometheus.Counter
	scanErrors    prometheus.Counter
	scanTime      prometheus.Histogram
	opportunities *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	attemptTime   prometheus.Histogram
	lastProfit    prometheus.Gauge
}

// New creates the instrument set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Venue scans performed.",
		}),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Venue scans that failed before producing a comparison.",
		}),
		scanTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one scan, venue reads included.",
			Buckets:   prometheus.DefBuckets,
		}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Detected divergences by direction and profitability.",
		}, []string{"direction", "profitable"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Paper settlement attempts by outcome.",
		}, []string{"outcome"}),
		attemptTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one settlement attempt.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
		}),
		lastProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_profit_tokens",
			Help:      "Profit of the most recent settled attempt, in whole tokens.",
		}),
	}

	reg.MustRegister(
		m.scans, m.scanErrors, m.scanTime,
		m.opportunities, m.attempts, m.attemptTime,
		m.lastProfit,
	)
	return m
}

// ObserveScan records one completed scan and its duration.
func (m *Metrics) ObserveScan(d time.Duration) {
	m.scans.Inc()
	m.scanTime.Observe(d.Seconds())
}

// ScanFailed records a scan that errored before comparing the venues.
func (m *Metrics) ScanFailed() {
	m.scanErrors.Inc()
}

// OpportunityDetected records one detected divergence.
func (m *Metrics) OpportunityDetected(direction string, profitable bool) {
	m.opportunities.WithLabelValues(direction, strconv.FormatBool(profitable)).Inc()
}

// AttemptFinished records one settlement attempt and its duration.
func (m *Metrics) AttemptFinished(outcome string, d time.Duration) {
	m.attempts.WithLabelValues(outcome).Inc()
	m.attemptTime.Observe(d.Seconds())
}

// RecordProfit sets the last-profit gauge from a raw 18-decimal amount.
func (m *Metrics) RecordProfit(profit *big.Int) {
	if profit == nil {
		return
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(profit), big.NewFloat(1e18)).Float64()
	m.lastProfit.Set(f)
}
