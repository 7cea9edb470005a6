// Package metrics exposes Prometheus instrumentation for the session stores:
// operation counters and latency, authenticated and page session gauges.
package metrics

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	opLogin  = "login"
	opLogout = "logout"
)

var _ auth.Recorder = (*Collector)(nil)

// Collector records store activity. One Collector is shared by every store.
type Collector struct {
	logins        prometheus.Counter
	logouts       prometheus.Counter
	opLatency     *prometheus.HistogramVec
	authenticated prometheus.Gauge
	pageSessions  prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authstore_login_total",
			Help: "Total number of completed mock logins",
		}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authstore_logout_total",
			Help: "Total number of completed mock logouts",
		}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authstore_operation_seconds",
			Help:    "Time from call to completion of mock operations",
			Buckets: []float64{.1, .25, .5, .75, 1, 1.5, 2, 5},
		}, []string{"op"}), // op = "login", "logout"
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authstore_authenticated_sessions",
			Help: "Current number of stores holding a logged in user",
		}),
		pageSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authstore_page_sessions",
			Help: "Current number of page sessions with a store",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.opLatency,
		c.authenticated,
		c.pageSessions,
	)

	return c
}

func (c *Collector) RecordLogin(elapsed time.Duration) {
	c.logins.Inc()
	c.opLatency.WithLabelValues(opLogin).Observe(elapsed.Seconds())
}

func (c *Collector) RecordLogout(elapsed time.Duration) {
	c.logouts.Inc()
	c.opLatency.WithLabelValues(opLogout).Observe(elapsed.Seconds())
}

// RecordSessionChange moves the authenticated gauge only on real transitions,
// so a login over an existing login or a repeated logout leaves it alone.
func (c *Collector) RecordSessionChange(previous, current sessions.Session) {
	switch {
	case !previous.IsAuthenticated && current.IsAuthenticated:
		c.authenticated.Inc()
	case previous.IsAuthenticated && !current.IsAuthenticated:
		c.authenticated.Dec()
	}
}

// ForgetSession is called when a store is discarded so its login no longer counts.
func (c *Collector) ForgetSession(last sessions.Session) {
	if last.IsAuthenticated {
		c.authenticated.Dec()
	}
}

func (c *Collector) SetPageSessions(n int) {
	c.pageSessions.Set(float64(n))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
