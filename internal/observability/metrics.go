package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chessmate/chessmate/internal/platform/logger"
)

// Metrics holds the small set of Prometheus-text counters chessmate cares
// about: HTTP request shape, LLM call cost/latency (embedder + agent), and
// worker/queue throughput. It intentionally does not chase feature parity
// with a general-purpose observability stack.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec
	llmCost     *CounterVec

	agentEvalTotal   *CounterVec
	agentCacheHits   *Counter
	agentCacheMisses *Counter

	queueDepth  *GaugeVec
	workerTotal *CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

var (
	llmTelemetryOnce      sync.Once
	llmTelemetryOn        bool
	llmCostInputPer1KUSD  float64
	llmCostOutputPer1KUSD float64
	agentCostInputPer1KUSD  float64
	agentCostOutputPer1KUSD float64
)

func llmTelemetryEnabled() bool {
	llmTelemetryOnce.Do(loadTelemetryConfig)
	return llmTelemetryOn
}

func llmCostRates() (float64, float64) {
	llmTelemetryOnce.Do(loadTelemetryConfig)
	return llmCostInputPer1KUSD, llmCostOutputPer1KUSD
}

func AgentCostRates() (float64, float64) {
	llmTelemetryOnce.Do(loadTelemetryConfig)
	return agentCostInputPer1KUSD, agentCostOutputPer1KUSD
}

func loadTelemetryConfig() {
	llmTelemetryOn = parseBoolEnv("LLM_TELEMETRY_ENABLED", false)
	llmCostInputPer1KUSD = parseFloatEnv("OPENAI_COST_INPUT_PER_1K", 0)
	llmCostOutputPer1KUSD = parseFloatEnv("OPENAI_COST_OUTPUT_PER_1K", 0)
	agentCostInputPer1KUSD = parseFloatEnv("AGENT_COST_INPUT_PER_1K", 0)
	agentCostOutputPer1KUSD = parseFloatEnv("AGENT_COST_OUTPUT_PER_1K", 0)
}

func parseBoolEnv(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return fallback
	}
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseFloatEnv(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Init wires up the singleton Metrics instance when METRICS_ENABLED is set.
// A nil return is fine: every method on *Metrics is a nil-safe no-op, so
// callers never need to branch on whether metrics are on.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = &Metrics{
			apiRequests: NewCounterVec("chessmate_api_requests_total", "Total HTTP requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"chessmate_api_request_duration_seconds",
				"HTTP request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			),
			apiInflight: NewGauge("chessmate_api_inflight_requests", "In-flight HTTP requests."),
			llmRequests: NewCounterVec("chessmate_llm_requests_total", "LLM requests by model/endpoint/status.", []string{"model", "endpoint", "status"}),
			llmLatency: NewHistogramVec(
				"chessmate_llm_request_duration_seconds",
				"LLM request latency in seconds by model/endpoint/status.",
				[]string{"model", "endpoint", "status"},
				[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			),
			llmTokens:        NewCounterVec("chessmate_llm_tokens_total", "LLM tokens by model/direction.", []string{"model", "direction"}),
			llmCost:          NewCounterVec("chessmate_llm_cost_usd_total", "Estimated LLM cost (USD) by model/direction.", []string{"model", "direction"}),
			agentEvalTotal:   NewCounterVec("chessmate_agent_evaluations_total", "Agent re-ranking evaluations by outcome.", []string{"outcome"}),
			agentCacheHits:   NewCounter("chessmate_agent_cache_hits_total", "Agent evaluation cache hits."),
			agentCacheMisses: NewCounter("chessmate_agent_cache_misses_total", "Agent evaluation cache misses."),
			queueDepth:       NewGaugeVec("chessmate_embedding_queue_depth", "Embedding job queue depth by status.", []string{"status"}),
			workerTotal:      NewCounterVec("chessmate_embedding_jobs_total", "Completed embedding jobs by outcome.", []string{"outcome"}),
		}
	})
	return instance
}

// ObserveAPI records one finished HTTP request.
func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "UNKNOWN"
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveLLMRequest records one embedder/generation call against the OpenAI-compatible API.
func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil || !llmTelemetryEnabled() {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.llmRequests.Inc(model, endpoint, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, endpoint, status)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
	inputRate, outputRate := llmCostRates()
	if inputTokens > 0 && inputRate > 0 {
		m.llmCost.Add((float64(inputTokens)/1000.0)*inputRate, model, "input")
	}
	if outputTokens > 0 && outputRate > 0 {
		m.llmCost.Add((float64(outputTokens)/1000.0)*outputRate, model, "output")
	}
}

// ObserveAgentEvaluation records one agent re-ranking call, tagged "agent-telemetry"
// at the call site (internal/agent), outcome is one of "scored"/"malformed"/"error"/"cached".
func (m *Metrics) ObserveAgentEvaluation(outcome string, cacheHit bool, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.agentEvalTotal.Inc(outcome)
	if cacheHit {
		m.agentCacheHits.Inc()
		return
	}
	m.agentCacheMisses.Inc()
	inputRate, outputRate := AgentCostRates()
	if inputTokens > 0 && inputRate > 0 {
		m.llmCost.Add((float64(inputTokens)/1000.0)*inputRate, "agent", "input")
	}
	if outputTokens > 0 && outputRate > 0 {
		m.llmCost.Add((float64(outputTokens)/1000.0)*outputRate, "agent", "output")
	}
}

// SetQueueDepth publishes count_by_status() results as a gauge per status.
func (m *Metrics) SetQueueDepth(status string, depth int64) {
	if m == nil {
		return
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	m.queueDepth.Set(float64(depth), status)
}

// IncWorkerJob records one finished embedding job, outcome is "completed"/"failed"/"retried".
func (m *Metrics) IncWorkerJob(outcome string) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.workerTotal.Inc(outcome)
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.llmRequests, m.llmLatency, m.llmTokens, m.llmCost,
		m.agentEvalTotal, m.agentCacheHits, m.agentCacheMisses,
		m.queueDepth, m.workerTotal,
	}
	for _, w2 := range writers {
		if err := w2.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

