package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ATM metrics on a private registry.
// All methods are safe on a nil *Collector so callers can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	transactions   *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	pinFailures    prometheus.Counter
	cardsBlocked   prometheus.Counter
	sessionsReaped prometheus.Counter
	iso8583Msgs    *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_transactions_total",
			Help: "Processed ATM transactions by type and result code",
		}, []string{"type", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atm_transaction_duration_seconds",
			Help:    "Time taken to process an ATM transaction",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		pinFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "atm_pin_failures_total",
			Help: "Failed PIN verifications",
		}),
		cardsBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "atm_cards_blocked_total",
			Help: "Cards blocked after too many PIN failures",
		}),
		sessionsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "atm_sessions_reaped_total",
			Help: "Stale sessions closed by the reaper",
		}),
		iso8583Msgs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_iso8583_messages_total",
			Help: "ISO 8583 requests by MTI and response code",
		}, []string{"mti", "code"}),
	}
}

// RecordTransaction counts a finished transaction. code is "OK" for successes.
func (c *Collector) RecordTransaction(txType, code string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(txType, code).Inc()
	c.duration.WithLabelValues(txType).Observe(elapsed.Seconds())
}

func (c *Collector) PINFailed() {
	if c == nil {
		return
	}
	c.pinFailures.Inc()
}

func (c *Collector) CardBlocked() {
	if c == nil {
		return
	}
	c.cardsBlocked.Inc()
}

func (c *Collector) SessionsReaped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sessionsReaped.Add(float64(n))
}

func (c *Collector) ISO8583Message(mti, code string) {
	if c == nil {
		return
	}
	c.iso8583Msgs.WithLabelValues(mti, code).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
