package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// Send outcomes recorded by RecordSend.
const (
	ResultSent         = "sent"
	ResultTransient    = "transient_failure"
	ResultTerminal     = "terminal_failure"
	ResultShortCircuit = "short_circuit"
)

// Rejection reasons recorded by RecordRejected.
const (
	ReasonValidation = "validation"
	ReasonRateLimit  = "rate_limit"
	ReasonTemplate   = "template"
	ReasonQueue      = "queue"
)

// Collector records notification metrics on its own Prometheus registry.
// All methods are safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	created       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	sends         *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	cost          *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	persistence   *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	breakerMoves  *prometheus.CounterVec
	queueJobs     *prometheus.GaugeVec
	reminders     *prometheus.CounterVec
}

// New creates a Collector. With withRuntime the Go and process collectors
// are registered as well.
func New(namespace string, withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		created: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications accepted and enqueued.",
		}, []string{"channel"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_rejected_total",
			Help:      "Notifications refused before enqueue.",
		}, []string{"channel", "reason"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_sends_total",
			Help:      "Provider send attempts by outcome.",
		}, []string{"channel", "provider", "result"}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_send_duration_seconds",
			Help:      "Latency of provider send calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel", "provider"}),
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_total",
			Help:      "Accumulated provider cost reported on send.",
		}, []string{"channel"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider callbacks by event and result.",
		}, []string{"channel", "event", "result"}),
		persistence: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Repository failures swallowed after enqueue.",
		}, []string{"operation"}),
		statusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_status_changes_total",
			Help:      "Lifecycle transitions by target status.",
		}, []string{"channel", "status"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		breakerMoves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Breaker state transitions.",
		}, []string{"name", "from", "to"}),
		queueJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs per queue and state.",
		}, []string{"queue", "state"}),
		reminders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminder jobs scheduled or cancelled.",
		}, []string{"type", "action"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordCreated(channel string) {
	if c == nil {
		return
	}
	c.created.WithLabelValues(channel).Inc()
}

func (c *Collector) RecordRejected(channel, reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(channel, reason).Inc()
}

// RecordSend counts one provider call and its latency. Short-circuited calls
// are counted without a latency sample.
func (c *Collector) RecordSend(channel, provider, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.sends.WithLabelValues(channel, provider, result).Inc()
	if result != ResultShortCircuit {
		c.sendDuration.WithLabelValues(channel, provider).Observe(d.Seconds())
	}
}

func (c *Collector) RecordCost(channel string, cost float64) {
	if c == nil || cost <= 0 {
		return
	}
	c.cost.WithLabelValues(channel).Add(cost)
}

func (c *Collector) RecordWebhook(channel, event, result string) {
	if c == nil {
		return
	}
	c.webhooks.WithLabelValues(channel, event, result).Inc()
}

func (c *Collector) RecordPersistenceError(operation string) {
	if c == nil {
		return
	}
	c.persistence.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordStatus(channel, status string) {
	if c == nil {
		return
	}
	c.statusChanges.WithLabelValues(channel, status).Inc()
}

func (c *Collector) RecordReminder(reminderType, action string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.reminders.WithLabelValues(reminderType, action).Add(float64(n))
}

// ObserveBreaker is a breaker.Observer.
func (c *Collector) ObserveBreaker(t breaker.Transition) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(t.Name).Set(stateValue(t.To))
	c.breakerMoves.WithLabelValues(t.Name, t.From.String(), t.To.String()).Inc()
}

// SetQueueStats publishes a queue snapshot.
func (c *Collector) SetQueueStats(st queue.Stats) {
	if c == nil {
		return
	}
	c.queueJobs.WithLabelValues(st.Queue, string(queue.StateWaiting)).Set(float64(st.Waiting))
	c.queueJobs.WithLabelValues(st.Queue, string(queue.StateDelayed)).Set(float64(st.Delayed))
	c.queueJobs.WithLabelValues(st.Queue, string(queue.StateActive)).Set(float64(st.Active))
	c.queueJobs.WithLabelValues(st.Queue, string(queue.StateCompleted)).Set(float64(st.Completed))
	c.queueJobs.WithLabelValues(st.Queue, string(queue.StateDead)).Set(float64(st.Dead))
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}
