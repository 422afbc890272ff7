// Package crud runs declarative read/create/update/delete requests as one
// transaction each, around optional per-entity lifecycle hooks.
package crud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/events"
	"github.com/blagoySimandov/ampleadmin/internal/logger"
	"github.com/blagoySimandov/ampleadmin/internal/logging"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

type Engine struct {
	DB        *bun.DB
	Registry  *metadata.Registry
	Builder   *record.Builder
	Debug     bool
	Publisher events.Publisher
	Metrics   *Metrics

	mu    sync.RWMutex
	hooks map[string]any
}

type Option func(*Engine)

// WithDebug exposes operation error messages in failed envelopes.
func WithDebug(debug bool) Option {
	return func(e *Engine) { e.Debug = debug }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.Publisher = p }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.Metrics = m }
}

func NewEngine(db *bun.DB, registry *metadata.Registry, builder *record.Builder, opts ...Option) *Engine {
	e := &Engine{
		DB:       db,
		Registry: registry,
		Builder:  builder,
		hooks:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a hook implementation to a registered entity. hooks may
// implement any subset of the capability interfaces in this package.
func (e *Engine) Register(entity string, hooks any) error {
	if _, err := e.Registry.Get(entity); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[entity] = hooks
	return nil
}

func (e *Engine) hooksFor(entity string) any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hooks[entity]
}

// Reject builds the envelope for a request that never reached a
// transaction, e.g. a malformed body.
func (e *Engine) Reject(ctx context.Context, entity string, action Action, err error) Envelope {
	logger.Log.Warn().
		Err(err).
		Str("entity", entity).
		Str("action", string(action)).
		Msg("crud request rejected")
	logging.EnrichError(ctx, err, string(apperr.KindOf(err)), "decode")
	env := failedEnvelope(action, StatusError, err, e.Debug)
	logging.EnrichOutcome(ctx, string(env.Status), 0)
	return env
}

// run carries the state of one transactional pass.
type run struct {
	engine  *Engine
	entity  *metadata.Entity
	hooks   any
	atts    record.Attachments
	hc      *HookContext
	phase   string
	written []string
}

// Execute runs req against entity in a single transaction and never
// returns an error: failures are reported through the envelope.
func (e *Engine) Execute(ctx context.Context, entity string, req Request, atts record.Attachments) Envelope {
	start := time.Now()
	action := req.Action()
	logging.EnrichOperation(ctx, entity, string(action))

	ent, err := e.Registry.Get(entity)
	if err != nil {
		env := e.Reject(ctx, entity, action, err)
		e.Metrics.observe("unknown", action, env.Status, time.Since(start))
		return env
	}

	r := &run{
		engine: e,
		entity: ent,
		hooks:  e.hooksFor(entity),
		atts:   atts,
		hc:     &HookContext{Entity: ent, Dialect: e.DB.Dialect().Name()},
		phase:  "connect",
	}
	res, err := r.execute(ctx, req)

	var env Envelope
	if err != nil {
		err = apperr.Store(err, "operation failed")
		logger.Log.Error().
			Err(err).
			Str("entity", entity).
			Str("action", string(action)).
			Str("phase", r.phase).
			Str("kind", string(apperr.KindOf(err))).
			Str("trace_id", logging.GetTraceID(ctx)).
			Msg("crud operation failed")
		if len(r.written) > 0 {
			logger.Log.Warn().
				Strs("paths", r.written).
				Str("entity", entity).
				Str("action", string(action)).
				Msg("orphaned uploads after rollback")
			logging.EnrichMetadata(ctx, "orphaned_uploads", r.written)
		}
		logging.EnrichError(ctx, err, string(apperr.KindOf(err)), r.phase)
		env = failedEnvelope(action, StatusFailed, err, e.Debug)
	} else {
		e.publish(ctx, r.changeEvents(action, res))
		env = successEnvelope(action, res)
	}

	var affected int64
	if res != nil {
		affected = res.Affected
	}
	logging.EnrichOutcome(ctx, string(env.Status), affected)
	e.Metrics.observe(entity, action, env.Status, time.Since(start))
	return env
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (r *run) execute(ctx context.Context, req Request) (res *Result, err error) {
	conn, err := r.engine.DB.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}
	defer conn.Close()

	// once begun, the transaction runs to commit or rollback regardless of
	// the caller
	txCtx := context.WithoutCancel(ctx)
	r.phase = "begin"
	err = conn.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) (err error) {
		defer func() {
			if p := recover(); p != nil {
				logging.EnrichPanic(ctx)
				err = &panicError{value: p}
			}
		}()
		r.hc.Tx = tx
		switch req := req.(type) {
		case *ReadRequest:
			res, err = r.read(ctx, req)
		case *CreateRequest:
			res, err = r.create(ctx, req)
		case *UpdateRequest:
			res, err = r.update(ctx, req)
		case *DeleteRequest:
			res, err = r.delete(ctx, req)
		default:
			err = apperr.InvalidFormat("action", "unsupported request %T", req)
		}
		if err == nil {
			r.phase = "commit"
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// override maps an override outcome onto the requested action, logging
// outcomes of a different kind before neutralizing them.
func (r *run) override(ctx context.Context, action Action, o Outcome) *Result {
	res, ok := o.result(action)
	if !ok {
		logging.EnrichMetadata(ctx, "override_outcome_mismatch", string(o.Operation))
		logger.Log.Warn().
			Str("entity", r.entity.Name).
			Str("action", string(action)).
			Str("outcome", string(o.Operation)).
			Msg("override outcome does not match the requested action")
	}
	return res
}

func (r *run) changeEvents(action Action, res *Result) []events.Event {
	evs := r.hc.events
	if action == ActionRead || res == nil {
		return evs
	}
	var typ events.EventType
	switch action {
	case ActionCreate:
		typ = events.EventCreated
	case ActionUpdate:
		typ = events.EventUpdated
	default:
		typ = events.EventDeleted
	}
	ev := events.New(typ, r.entity.Name, string(action))
	ev.IDs = res.Identifiers
	ev.Affected = res.Affected
	return append([]events.Event{ev}, evs...)
}

func (e *Engine) publish(ctx context.Context, evs []events.Event) {
	if e.Publisher == nil || len(evs) == 0 {
		return
	}
	if err := e.Publisher.Publish(ctx, evs...); err != nil {
		logger.Log.Warn().Err(err).Int("events", len(evs)).Msg("failed to publish change events")
	}
}
