package recharge

import (
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/purser-recharge/pkg/monitoring"
)

type Metrics struct {
	Attempts         *prometheus.CounterVec
	AmountCents      *prometheus.CounterVec
	PassDuration     *prometheus.HistogramVec
	CountersReset    *prometheus.CounterVec
	CampaignsResumed *prometheus.CounterVec
	LastPass         *prometheus.GaugeVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Attempts:         mc.NewCounter("auto_recharge_attempts_total", "Auto-recharge attempts by outcome", []string{"outcome"}),
		AmountCents:      mc.NewCounter("auto_recharge_amount_cents_total", "Credited auto-recharge amount in minor units", []string{"currency"}),
		PassDuration:     mc.NewHistogram("auto_recharge_pass_duration_seconds", "Duration of a full auto-recharge pass", []string{"result"}, nil),
		CountersReset:    mc.NewCounter("auto_recharge_counters_reset_total", "Monthly recharge counters reset", nil),
		CampaignsResumed: mc.NewCounter("campaigns_resumed_total", "Campaigns resumed after a recharge", nil),
		LastPass:         mc.NewGauge("auto_recharge_last_pass_timestamp", "Unix time of the last completed pass", nil),
	}
}

func (m *Metrics) attempt(outcome Outcome) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) credited(currency string, cents int64) {
	if m == nil {
		return
	}
	m.AmountCents.WithLabelValues(currency).Add(float64(cents))
}

func (m *Metrics) reset(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CountersReset.WithLabelValues().Add(float64(n))
}

func (m *Metrics) resumed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CampaignsResumed.WithLabelValues().Add(float64(n))
}

func (m *Metrics) pass(result string, seconds float64, finishedUnix int64) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(result).Observe(seconds)
	if result == "ok" {
		m.LastPass.WithLabelValues().Set(float64(finishedUnix))
	}
}
