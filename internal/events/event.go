// Package events publishes change events for committed CRUD operations.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventCreated  EventType = "entity.created"
	EventUpdated  EventType = "entity.updated"
	EventDeleted  EventType = "entity.deleted"
	EventTagged   EventType = "entity.tagged"
	EventArchived EventType = "entity.archived"
)

type Event struct {
	Type      EventType              `json:"event_type"`
	Entity    string                 `json:"entity"`
	Action    string                 `json:"action"`
	IDs       []any                  `json:"ids,omitempty"`
	Affected  int64                  `json:"affected"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func New(typ EventType, entity, action string) Event {
	return Event{
		Type:      typ,
		Entity:    entity,
		Action:    action,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	Log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{Log: log}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, ev := range events {
		e := p.Log.Info().
			Str("event_type", string(ev.Type)).
			Str("entity", ev.Entity).
			Str("action", ev.Action).
			Int64("affected", ev.Affected).
			Time("timestamp", ev.Timestamp)
		if len(ev.IDs) > 0 {
			e = e.Interface("ids", ev.IDs)
		}
		if len(ev.Metadata) > 0 {
			e = e.Interface("metadata", ev.Metadata)
		}
		e.Msg("change_event")
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Multi fans events out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events ...Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil && first == nil {
			first = err
		}
	}
	return first
}
