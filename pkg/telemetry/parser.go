package telemetry

import (
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/sessionbridge/daemon/pkg/store"
)

// ParserMode selects how aggressively the ingest path filters events before
// they reach the store and status engine.
type ParserMode string

const (
	ParserModeLifecycleFast ParserMode = "lifecycle-fast"
	ParserModeFull          ParserMode = "full"
)

// lifecycleEventNames is the closed set of event names lifecycle-fast mode
// retains regardless of statusHint.
var lifecycleEventNames = map[string]bool{
	"codex.user_prompt":             true,
	"codex.turn.e2e_duration_ms":    true,
	"codex.conversation_starts":     true,
}

// ParsedEvent is the normalized shape every OTLP/history payload is reduced
// to before the ingest path's retention decision.
type ParsedEvent struct {
	Source           store.TelemetrySource
	ObservedAt       time.Time
	EventName        string
	Severity         string
	Summary          string
	ProviderThreadID string
	StatusHint       string
	Payload          map[string]any
}

// Retain reports whether mode keeps ev under its parser mode.
func (ev ParsedEvent) Retain(mode ParserMode) bool {
	if mode == ParserModeFull {
		return true
	}
	return lifecycleEventNames[ev.EventName] || ev.StatusHint != ""
}

// anyValueToGo converts an OTLP AnyValue into a plain Go value suitable for
// a map[string]any payload.
func anyValueToGo(v *commonpb.AnyValue) any {
	if v == nil {
		return nil
	}
	switch val := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonpb.AnyValue_ArrayValue:
		if val.ArrayValue == nil {
			return nil
		}
		out := make([]any, 0, len(val.ArrayValue.Values))
		for _, elem := range val.ArrayValue.Values {
			out = append(out, anyValueToGo(elem))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		if val.KvlistValue == nil {
			return nil
		}
		return attributesToMap(val.KvlistValue.Values)
	case *commonpb.AnyValue_BytesValue:
		return val.BytesValue
	default:
		return nil
	}
}

func attributesToMap(attrs []*commonpb.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		out[a.Key] = anyValueToGo(a.Value)
	}
	return out
}

func attrString(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// ParseLogRecord reduces a single OTLP LogRecord into a ParsedEvent. The
// event name is read from the `event.name` attribute (OTel semantic
// convention for structured log events); severity/summary/providerThreadId
// and statusHint are read from well-known attribute keys the codex CLI
// emits.
func ParseLogRecord(rec *logspb.LogRecord, resourceAttrs []*commonpb.KeyValue) ParsedEvent {
	attrs := attributesToMap(resourceAttrs)
	for k, v := range attributesToMap(rec.Attributes) {
		attrs[k] = v
	}

	observedAt := time.Unix(0, int64(rec.TimeUnixNano))
	if rec.TimeUnixNano == 0 {
		observedAt = time.Unix(0, int64(rec.ObservedTimeUnixNano))
	}

	summary := attrString(attrs, "codex.summary")
	if summary == "" {
		if s, ok := anyValueToGo(rec.Body).(string); ok {
			summary = s
		}
	}

	return ParsedEvent{
		Source:           store.TelemetrySourceOTLPLog,
		ObservedAt:       observedAt,
		EventName:        attrString(attrs, "event.name"),
		Severity:         rec.SeverityText,
		Summary:          summary,
		ProviderThreadID: attrString(attrs, "codex.thread_id"),
		StatusHint:       attrString(attrs, "codex.status_hint"),
		Payload:          attrs,
	}
}

// ParseLogsRequest walks every ResourceLogs/ScopeLogs/LogRecord in req.
func ParseLogsRequest(resourceLogs []*logspb.ResourceLogs) []ParsedEvent {
	var out []ParsedEvent
	for _, rl := range resourceLogs {
		var resourceAttrs []*commonpb.KeyValue
		if rl.Resource != nil {
			resourceAttrs = rl.Resource.Attributes
		}
		for _, sl := range rl.ScopeLogs {
			for _, rec := range sl.LogRecords {
				out = append(out, ParseLogRecord(rec, resourceAttrs))
			}
		}
	}
	return out
}

// ParseMetricsRequest reduces every data point in req to a ParsedEvent with
// source otlp-metric, using the metric name as the event name. Metrics
// carry no statusHint, so lifecycle-fast mode retains only a metric whose
// name is in the lifecycle set (e.g. codex.turn.e2e_duration_ms); full
// mode retains them all for diagnostics.
func ParseMetricsRequest(resourceMetrics []*metricspb.ResourceMetrics) []ParsedEvent {
	var out []ParsedEvent
	now := time.Now()
	for _, rm := range resourceMetrics {
		var resourceAttrs []*commonpb.KeyValue
		if rm.Resource != nil {
			resourceAttrs = rm.Resource.Attributes
		}
		attrs := attributesToMap(resourceAttrs)
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				out = append(out, ParsedEvent{
					Source:     store.TelemetrySourceOTLPMetric,
					ObservedAt: now,
					EventName:  m.Name,
					Payload:    map[string]any{"metric": m.Name, "unit": m.Unit, "resource": attrs},
				})
			}
		}
	}
	return out
}

// ParseTracesRequest reduces every span in req to a ParsedEvent with source
// otlp-trace, applying the same lifecycle-fast treatment as metrics.
func ParseTracesRequest(resourceSpans []*tracepb.ResourceSpans) []ParsedEvent {
	var out []ParsedEvent
	for _, rs := range resourceSpans {
		var resourceAttrs []*commonpb.KeyValue
		if rs.Resource != nil {
			resourceAttrs = rs.Resource.Attributes
		}
		attrs := attributesToMap(resourceAttrs)
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				out = append(out, ParsedEvent{
					Source:     store.TelemetrySourceOTLPTrace,
					ObservedAt: time.Unix(0, int64(span.StartTimeUnixNano)),
					EventName:  span.Name,
					Payload:    map[string]any{"span": span.Name, "resource": attrs},
				})
			}
		}
	}
	return out
}

// ParseHistoryLine reduces one line of a replayed history file to a
// ParsedEvent with source history. History replay never carries a
// statusHint: it must not drive the status engine.
func ParseHistoryLine(line string, eventName string, payload map[string]any) ParsedEvent {
	return ParsedEvent{
		Source:     store.TelemetrySourceHistory,
		ObservedAt: time.Now(),
		EventName:  eventName,
		Summary:    line,
		Payload:    payload,
	}
}
