package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "athena"

// Metrics groups every collector exported by the engine. Each instance owns
// its registry so tests can build as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	// IdentificationsTotal counts identifications by audit outcome.
	IdentificationsTotal *prometheus.CounterVec

	// AlertsTotal counts alert lifecycle steps.
	// result: created, refreshed, throttled, suppressed, acknowledged, expired
	AlertsTotal *prometheus.CounterVec

	// DeliveryAttemptsTotal counts single delivery attempts.
	// result: success/failed
	DeliveryAttemptsTotal *prometheus.CounterVec

	// DecisionLatency measures Evaluate from validation to dispatch hand-off.
	DecisionLatency prometheus.Histogram

	// Officers reports tracked and available (on duty, fresh) officers.
	Officers *prometheus.GaugeVec

	// DispatchQueueDepth is the number of queued deliveries and events.
	DispatchQueueDepth prometheus.Gauge

	// BrokerConnectivityStatus is 1 while the MQTT client is connected.
	BrokerConnectivityStatus *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		IdentificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identifications_total",
			Help:      "Vehicle identifications processed, by outcome.",
		}, []string{"outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intercept_alerts_total",
			Help:      "Intercept alert lifecycle steps, by result.",
		}, []string{"result", "critical"}),
		DeliveryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Notification delivery attempts, by channel and result.",
		}, []string{"channel", "result"}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_seconds",
			Help:      "Time from identification to alert decision.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		Officers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "officers",
			Help:      "Officers known to the location registry, by state.",
		}, []string{"state"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Deliveries and events waiting for a dispatch worker.",
		}),
		BrokerConnectivityStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connectivity_status",
			Help:      "The connectivity status to the MQTT broker (1=Connected, 0=Disconnected).",
		}, []string{"client"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IdentificationsTotal,
		m.AlertsTotal,
		m.DeliveryAttemptsTotal,
		m.DecisionLatency,
		m.Officers,
		m.DispatchQueueDepth,
		m.BrokerConnectivityStatus,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// BoolLabel renders a bool as a label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
