package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the chatbot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	httpDuration      *prometheus.HistogramVec
	externalDuration  *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	tokensUsed        *prometheus.CounterVec
	messagesTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	matchResultsTotal *prometheus.CounterVec
	ordersCreated     prometheus.Counter
	sweeperResets     prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopbot_http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		externalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopbot_external_call_duration_seconds",
				Help:    "Duration of calls to external collaborators.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_external_call_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_messages_total",
				Help: "Customer messages processed, by outcome.",
			},
			[]string{"outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_state_transitions_total",
				Help: "Conversation state transitions.",
			},
			[]string{"from", "to"},
		),
		matchResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopbot_match_results_total",
				Help: "Product matcher results by type.",
			},
			[]string{"type"},
		),
		ordersCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shopbot_orders_created_total",
				Help: "Orders created from finalized purchases.",
			},
		),
		sweeperResets: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shopbot_sweeper_reactivations_total",
				Help: "Sessions returned to the bot after a handover timeout.",
			},
		),
	}
}

// RecordHTTPRequest observes an HTTP request latency.
func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordExternalCall observes the duration of a call to a collaborator.
func (m *Metrics) RecordExternalCall(service string, d time.Duration) {
	m.externalDuration.WithLabelValues(service).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrMessage counts a processed message by outcome (reply, short_circuit, apology, paused).
func (m *Metrics) IncrMessage(outcome string) {
	m.messagesTotal.WithLabelValues(outcome).Inc()
}

// IncrTransition counts a conversation state change. Empty states are reported as "active".
func (m *Metrics) IncrTransition(from, to string) {
	if from == "" {
		from = "active"
	}
	if to == "" {
		to = "active"
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// IncrMatchResult counts a matcher decision.
func (m *Metrics) IncrMatchResult(matchType string) {
	m.matchResultsTotal.WithLabelValues(matchType).Inc()
}

// IncrOrderCreated counts a created order.
func (m *Metrics) IncrOrderCreated() {
	m.ordersCreated.Inc()
}

// IncrSweeperReset counts a session reactivated by the sweeper.
func (m *Metrics) IncrSweeperReset() {
	m.sweeperResets.Inc()
}

// ChatSnapshot is a point-in-time summary of the chat counters,
// served by GET /v1/metrics/chat.
type ChatSnapshot struct {
	MessagesReplied      int64   `json:"messages_replied"`
	MessagesApologized   int64   `json:"messages_apologized"`
	MessagesShortCircuit int64   `json:"messages_short_circuit"`
	OrdersCreated        int64   `json:"orders_created"`
	SweeperResets        int64   `json:"sweeper_resets"`
	PerfectMatchRate     float64 `json:"perfect_match_rate"`
	BotControlHitRate    float64 `json:"bot_control_cache_hit_rate"`
}

// Snapshot reads the current cumulative counter values.
func (m *Metrics) Snapshot() ChatSnapshot {
	perfect := getCounterValue(m.matchResultsTotal, "PERFECT_MATCH")
	allMatches := perfect +
		getCounterValue(m.matchResultsTotal, "CLOSE_MATCH") +
		getCounterValue(m.matchResultsTotal, "NO_MATCH")
	hits := getCounterValue(m.cacheHits, "bot_control")
	misses := getCounterValue(m.cacheMisses, "bot_control")

	s := ChatSnapshot{
		MessagesReplied:      int64(getCounterValue(m.messagesTotal, "reply")),
		MessagesApologized:   int64(getCounterValue(m.messagesTotal, "apology")),
		MessagesShortCircuit: int64(getCounterValue(m.messagesTotal, "short_circuit")),
		OrdersCreated:        int64(readCounter(m.ordersCreated)),
		SweeperResets:        int64(readCounter(m.sweeperResets)),
	}
	if allMatches > 0 {
		s.PerfectMatchRate = perfect / allMatches
	}
	if hits+misses > 0 {
		s.BotControlHitRate = hits / (hits + misses)
	}
	return s
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
