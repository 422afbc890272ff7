package logging

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/blagoySimandov/ampleadmin/internal/logger"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	contextKeyWideEvent contextKey = "wide_event"
	contextKeyTraceID   contextKey = "trace_id"
)

// WideEvent is a single structured log entry covering the whole lifecycle of
// a request. It is populated as the request flows through the transport and
// the CRUD engine, and emitted once at the end.
type WideEvent struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	HTTPMethod     string `json:"http_method,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	HTTPDurationMs int64  `json:"http_duration_ms,omitempty"`

	// CRUD context
	Entity   string `json:"entity,omitempty"`
	Action   string `json:"action,omitempty"`
	Status   string `json:"status,omitempty"`
	Affected int64  `json:"affected,omitempty"`

	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	ErrorPhase     string `json:"error_phase,omitempty"`
	PanicRecovered bool   `json:"panic_recovered,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewWideEvent creates a new WideEvent with a fresh trace ID.
func NewWideEvent(eventType string) *WideEvent {
	return &WideEvent{
		TraceID:   ulid.Make().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// WithContext attaches a WideEvent to a context
func WithContext(ctx context.Context, event *WideEvent) context.Context {
	ctx = context.WithValue(ctx, contextKeyWideEvent, event)
	ctx = context.WithValue(ctx, contextKeyTraceID, event.TraceID)
	return ctx
}

// FromContext retrieves the WideEvent from a context
func FromContext(ctx context.Context) *WideEvent {
	if event, ok := ctx.Value(contextKeyWideEvent).(*WideEvent); ok {
		return event
	}
	return nil
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

func EnrichHTTP(ctx context.Context, method, path string) {
	if event := FromContext(ctx); event != nil {
		event.HTTPMethod = method
		event.HTTPPath = path
	}
}

func EnrichHTTPStatus(ctx context.Context, statusCode int) {
	if event := FromContext(ctx); event != nil {
		event.HTTPStatusCode = statusCode
	}
}

func EnrichHTTPDuration(ctx context.Context, duration time.Duration) {
	if event := FromContext(ctx); event != nil {
		event.HTTPDurationMs = duration.Milliseconds()
	}
}

func EnrichOperation(ctx context.Context, entity, action string) {
	if event := FromContext(ctx); event != nil {
		event.Entity = entity
		event.Action = action
	}
}

func EnrichOutcome(ctx context.Context, status string, affected int64) {
	if event := FromContext(ctx); event != nil {
		event.Status = status
		event.Affected = affected
	}
}

func EnrichError(ctx context.Context, err error, kind, phase string) {
	if event := FromContext(ctx); event != nil && err != nil {
		event.Error = err.Error()
		event.ErrorKind = kind
		event.ErrorPhase = phase
	}
}

func EnrichPanic(ctx context.Context) {
	if event := FromContext(ctx); event != nil {
		event.PanicRecovered = true
	}
}

func EnrichMetadata(ctx context.Context, key string, value interface{}) {
	if event := FromContext(ctx); event != nil {
		event.Metadata[key] = value
	}
}

// Emit writes the WideEvent through logger.Log, at error level when the
// request failed or panicked.
func Emit(ctx context.Context) {
	event := FromContext(ctx)
	if event == nil {
		return
	}

	var e *zerolog.Event
	if event.Error != "" || event.PanicRecovered {
		e = logger.Log.Error()
	} else {
		e = logger.Log.Info()
	}

	e = e.Str("trace_id", event.TraceID).
		Str("event_type", event.EventType).
		Time("started_at", event.Timestamp)

	if event.HTTPMethod != "" {
		e = e.Str("http_method", event.HTTPMethod)
	}
	if event.HTTPPath != "" {
		e = e.Str("http_path", event.HTTPPath)
	}
	if event.HTTPStatusCode != 0 {
		e = e.Int("http_status_code", event.HTTPStatusCode)
	}
	if event.HTTPDurationMs != 0 {
		e = e.Int64("http_duration_ms", event.HTTPDurationMs)
	}

	if event.Entity != "" {
		e = e.Str("entity", event.Entity)
	}
	if event.Action != "" {
		e = e.Str("action", event.Action)
	}
	if event.Status != "" {
		e = e.Str("status", event.Status)
	}
	if event.Affected != 0 {
		e = e.Int64("affected", event.Affected)
	}

	if event.Error != "" {
		e = e.Str("error", event.Error)
	}
	if event.ErrorKind != "" {
		e = e.Str("error_kind", event.ErrorKind)
	}
	if event.ErrorPhase != "" {
		e = e.Str("error_phase", event.ErrorPhase)
	}
	if event.PanicRecovered {
		e = e.Bool("panic_recovered", true)
	}

	if len(event.Metadata) > 0 {
		e = e.Interface("metadata", event.Metadata)
	}

	e.Msg("wide_event")
}
