// Package observability carries the engine's tracing and Prometheus metrics.
//
// This provides:
//   - Trace spans for each evaluation pass
//   - Context propagation of trace and span IDs
//   - Prometheus metrics for passes, eligibility decisions and credits
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// Span represents a unit of work within an evaluation trace.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps recent spans in memory for the admin API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span and returns a context carrying its IDs.
// Caller must call EndSpan when done.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	ctx = WithTraceID(ctx, span.TraceID)
	ctx = WithSpanID(ctx, span.SpanID)
	return ctx, span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, optionally filtered by operation.
func (t *Tracer) Spans(operation string, limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []Span
	for i := len(t.spans) - 1; i >= 0; i-- {
		if operation != "" && t.spans[i].Operation != operation {
			continue
		}
		matched = append(matched, t.spans[i])
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	// Restore chronological order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "taskyield-trace-id"
	spanIDKey  contextKey = "taskyield-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceID returns the trace ID carried by ctx, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return uuid.NewString()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Evaluation Metrics ─────────────────────────────────────────────────────

// EvaluationPasses counts evaluation passes by trigger and outcome.
var EvaluationPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "engine",
	Name:      "passes_total",
	Help:      "Total evaluation passes by trigger (cron, api, cli) and outcome.",
}, []string{"trigger", "outcome"})

// EvaluationDuration tracks wall time of a full pass.
var EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "taskyield",
	Subsystem: "engine",
	Name:      "pass_duration_seconds",
	Help:      "Wall time of one evaluation pass.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
})

// UsersEvaluated counts users processed across passes.
var UsersEvaluated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "engine",
	Name:      "users_evaluated_total",
	Help:      "Total users evaluated across all passes.",
})

// EligibilityDecisions counts evaluator outcomes by rule kind.
var EligibilityDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "engine",
	Name:      "eligibility_decisions_total",
	Help:      "Eligibility decisions by rule kind and outcome (eligible, ineligible).",
}, []string{"kind", "outcome"})

// LockWait tracks time spent waiting for a per-user lock.
var LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "taskyield",
	Subsystem: "engine",
	Name:      "lock_wait_seconds",
	Help:      "Time spent acquiring a per-user marker lock.",
	Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// CreditsApplied counts payouts credited by category.
var CreditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Total payouts credited by category.",
}, []string{"category"})

// CreditedAmount sums credited money by category.
var CreditedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "ledger",
	Name:      "credited_amount_total",
	Help:      "Total amount credited by category.",
}, []string{"category"})

// MarkerConflicts counts payouts dropped because the marker moved.
var MarkerConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "ledger",
	Name:      "marker_conflicts_total",
	Help:      "Payouts skipped because another credit advanced the marker first.",
}, []string{"category"})

// FundMovements counts wallet operations by category.
var FundMovements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "wallet",
	Name:      "movements_total",
	Help:      "Wallet movements by category (deposit, commit, task, withdrawal).",
}, []string{"category"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskyield",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})

// ─── Recording Helpers ──────────────────────────────────────────────────────

// RecordCredit updates the ledger metrics for one applied payout.
func RecordCredit(category string, amount decimal.Decimal) {
	CreditsApplied.WithLabelValues(category).Inc()
	f, _ := amount.Float64()
	CreditedAmount.WithLabelValues(category).Add(f)
}

// RecordDecision updates the eligibility metrics for one result.
func RecordDecision(kind string, eligible bool) {
	outcome := "ineligible"
	if eligible {
		outcome = "eligible"
	}
	EligibilityDecisions.WithLabelValues(kind, outcome).Inc()
}
