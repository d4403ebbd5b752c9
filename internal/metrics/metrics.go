// Package metrics exports economy and HTTP telemetry to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
)

// Metrics implements engine.Recorder. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	ticks         prometheus.Counter
	resources     *prometheus.GaugeVec
	capacity      *prometheus.GaugeVec
	instability   prometheus.Gauge
	activeEvents  prometheus.Gauge
	activePuzzles prometheus.Gauge
	marketOffers  prometheus.Gauge
	routeEff      *prometheus.GaugeVec
	routeStab     *prometheus.GaugeVec
	conversions   *prometheus.CounterVec
	puzzles       *prometheus.CounterVec
	deals         *prometheus.CounterVec
	failures      *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "economy_ticks_total",
			Help: "Total economy ticks processed.",
		}),
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_resources",
			Help: "Current amount per commodity.",
		}, []string{"commodity"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_capacity",
			Help: "Current capacity per commodity.",
		}, []string{"commodity"}),
		instability: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_instability",
			Help: "Resource imbalance on the 0–200 scale.",
		}),
		activeEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_active_events",
			Help: "Events currently modifying generation.",
		}),
		activePuzzles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_active_puzzles",
			Help: "Unresolved allocation puzzles.",
		}),
		marketOffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_market_offers",
			Help: "Open black-market offers.",
		}),
		routeEff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_route_efficiency",
			Help: "Current efficiency per conversion route.",
		}, []string{"route"}),
		routeStab: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_route_stability",
			Help: "Current stability per conversion route.",
		}, []string{"route"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_conversions_total",
			Help: "Route conversions by outcome.",
		}, []string{"route", "outcome"}),
		puzzles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_puzzles_resolved_total",
			Help: "Resolved puzzles by chosen option and risk outcome.",
		}, []string{"option", "risk_triggered"}),
		deals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_market_deals_total",
			Help: "Accepted offers by kind and risk outcome.",
		}, []string{"kind", "risk_triggered"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_subsystem_failures_total",
			Help: "Recovered panics per tick subsystem.",
		}, []string{"subsystem"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.ticks,
		m.resources,
		m.capacity,
		m.instability,
		m.activeEvents,
		m.activePuzzles,
		m.marketOffers,
		m.routeEff,
		m.routeStab,
		m.conversions,
		m.puzzles,
		m.deals,
		m.failures,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveTick updates the gauges from a tick snapshot.
func (m *Metrics) ObserveTick(out engine.TickOutput) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	for _, c := range economy.Commodities {
		m.resources.WithLabelValues(c.String()).Set(out.Resources[c])
		m.capacity.WithLabelValues(c.String()).Set(out.Capacities[c])
	}
	m.instability.Set(out.Instability)
	m.activeEvents.Set(float64(len(out.ActiveEvents)))
	m.activePuzzles.Set(float64(len(out.ActivePuzzles)))
	m.marketOffers.Set(float64(len(out.MarketOffers)))
	for _, r := range out.Routes {
		m.routeEff.WithLabelValues(string(r.ID)).Set(r.Efficiency)
		m.routeStab.WithLabelValues(string(r.ID)).Set(r.Stability)
	}
}

// Conversion counts a route conversion.
func (m *Metrics) Conversion(route string, catastrophic bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if catastrophic {
		outcome = "catastrophe"
	}
	m.conversions.WithLabelValues(route, outcome).Inc()
}

// PuzzleResolved counts a resolved puzzle.
func (m *Metrics) PuzzleResolved(option string, riskTriggered bool) {
	if m == nil {
		return
	}
	m.puzzles.WithLabelValues(option, strconv.FormatBool(riskTriggered)).Inc()
}

// OfferAccepted counts an accepted offer.
func (m *Metrics) OfferAccepted(kind string, triggered bool) {
	if m == nil {
		return
	}
	m.deals.WithLabelValues(kind, strconv.FormatBool(triggered)).Inc()
}

// SubsystemFailure counts a recovered subsystem panic.
func (m *Metrics) SubsystemFailure(subsystem string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(subsystem).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
