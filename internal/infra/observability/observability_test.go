package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

// ═══════════════════════════════════════════════════════════════════════════
// Observability Tests
// ═══════════════════════════════════════════════════════════════════════════

// ─── Tracer ─────────────────────────────────────────────────────────────────

func TestTracer_StartEnd_RecordsSpan(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, span := tr.StartSpan(context.Background(), "evaluate", map[string]string{"trigger": "cron"})
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 1 {
		t.Fatalf("SpanCount() = %d, want 1", tr.SpanCount())
	}
	spans := tr.Spans("", 1)
	if len(spans) != 1 {
		t.Fatalf("Spans(1) returned %d, want 1", len(spans))
	}
	if spans[0].Operation != "evaluate" {
		t.Errorf("Operation = %q, want %q", spans[0].Operation, "evaluate")
	}
	if spans[0].Status != SpanOK {
		t.Errorf("Status = %d, want SpanOK", spans[0].Status)
	}
	if spans[0].EndTime.Before(spans[0].StartTime) {
		t.Error("EndTime should not be before StartTime")
	}
	if spans[0].Attrs["trigger"] != "cron" {
		t.Errorf("Attrs[trigger] = %q, want cron", spans[0].Attrs["trigger"])
	}
}

func TestTracer_EndSpan_RecordsError(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	before := counterValue(t, TraceErrors)

	_, span := tr.StartSpan(context.Background(), "credit", nil)
	tr.EndSpan(span, errors.New("boom"))

	spans := tr.Spans("", 1)
	if spans[0].Status != SpanError {
		t.Errorf("Status = %d, want SpanError", spans[0].Status)
	}
	if spans[0].Attrs["error"] != "boom" {
		t.Errorf("error attr = %q, want boom", spans[0].Attrs["error"])
	}
	if got := counterValue(t, TraceErrors) - before; got != 1 {
		t.Errorf("TraceErrors delta = %v, want 1", got)
	}
}

func TestTracer_Disabled(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: false, MaxSpans: 100})
	_, span := tr.StartSpan(context.Background(), "noop", nil)
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 0 {
		t.Errorf("disabled tracer SpanCount() = %d, want 0", tr.SpanCount())
	}
}

func TestTracer_NilSafe(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartSpan(context.Background(), "op", nil)
	tr.EndSpan(span, nil)
	if ctx == nil || span == nil {
		t.Error("nil tracer should still return a usable context and span")
	}
}

func TestTracer_RingBuffer_Overflow(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: true, MaxSpans: 3})
	for i := 0; i < 5; i++ {
		_, span := tr.StartSpan(context.Background(), "op", nil)
		tr.EndSpan(span, nil)
	}
	if tr.SpanCount() != 3 {
		t.Errorf("SpanCount() = %d, want 3 (ring buffer overflow)", tr.SpanCount())
	}
}

func TestTracer_Spans_FilterAndLimit(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		op := "evaluate"
		if i%2 == 1 {
			op = "credit"
		}
		_, span := tr.StartSpan(ctx, op, map[string]string{"i": string(rune('0' + i))})
		tr.EndSpan(span, nil)
	}

	if got := tr.Spans("", 0); len(got) != 6 {
		t.Errorf("Spans(all) returned %d, want 6", len(got))
	}
	got := tr.Spans("evaluate", 2)
	if len(got) != 2 {
		t.Fatalf("Spans(evaluate, 2) returned %d, want 2", len(got))
	}
	if got[0].Attrs["i"] != "2" || got[1].Attrs["i"] != "4" {
		t.Errorf("want the two most recent in order, got %q then %q", got[0].Attrs["i"], got[1].Attrs["i"])
	}
}

func TestTracer_Reset(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	_, span := tr.StartSpan(context.Background(), "op", nil)
	tr.EndSpan(span, nil)

	tr.Reset()
	if tr.SpanCount() != 0 {
		t.Errorf("SpanCount() after Reset = %d, want 0", tr.SpanCount())
	}
}

// ─── Context Propagation ────────────────────────────────────────────────────

func TestTracer_ContextPropagation(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	ctx, parent := tr.StartSpan(context.Background(), "evaluate", nil)
	_, child := tr.StartSpan(ctx, "credit", nil)
	tr.EndSpan(child, nil)
	tr.EndSpan(parent, nil)

	if child.TraceID != parent.TraceID {
		t.Errorf("child TraceID = %q, want parent's %q", child.TraceID, parent.TraceID)
	}
	if child.ParentID != parent.SpanID {
		t.Errorf("ParentID = %q, want %q", child.ParentID, parent.SpanID)
	}
	if TraceID(ctx) != parent.TraceID {
		t.Errorf("TraceID(ctx) = %q, want %q", TraceID(ctx), parent.TraceID)
	}
}

func TestTracer_ExplicitTraceID(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = WithSpanID(ctx, "span-123")

	_, span := tr.StartSpan(ctx, "op", nil)
	if span.TraceID != "trace-abc" || span.ParentID != "span-123" {
		t.Errorf("span = %+v", span)
	}
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func TestRecordCredit(t *testing.T) {
	count := CreditsApplied.WithLabelValues("salary")
	amount := CreditedAmount.WithLabelValues("salary")
	beforeN, beforeA := counterValue(t, count), counterValue(t, amount)

	RecordCredit("salary", decimal.RequireFromString("12.5"))

	if got := counterValue(t, count) - beforeN; got != 1 {
		t.Errorf("credits delta = %v, want 1", got)
	}
	if got := counterValue(t, amount) - beforeA; got != 12.5 {
		t.Errorf("amount delta = %v, want 12.5", got)
	}
}

func TestRecordDecision(t *testing.T) {
	yes := EligibilityDecisions.WithLabelValues("community", "eligible")
	no := EligibilityDecisions.WithLabelValues("community", "ineligible")
	y0, n0 := counterValue(t, yes), counterValue(t, no)

	RecordDecision("community", true)
	RecordDecision("community", false)
	RecordDecision("community", false)

	if counterValue(t, yes)-y0 != 1 || counterValue(t, no)-n0 != 2 {
		t.Errorf("decision deltas = %v / %v, want 1 / 2", counterValue(t, yes)-y0, counterValue(t, no)-n0)
	}
}
