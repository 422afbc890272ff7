package crud_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/events"
	"github.com/blagoySimandov/ampleadmin/internal/logging"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/record"
	"github.com/blagoySimandov/ampleadmin/internal/testutil"
	"github.com/blagoySimandov/ampleadmin/internal/uploads"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfBytes = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

type note struct {
	bun.BaseModel `bun:"table:notes"`

	ID     int64          `bun:"id,pk,autoincrement"`
	Title  string         `bun:"title,notnull"`
	Body   string         `bun:"body"`
	Done   bool           `bun:"done"`
	Meta   map[string]any `bun:"meta,type:json"`
	Photo  string         `bun:"photo"`
	Secret string         `bun:"secret"`
}

var noteDefinition = metadata.Definition{
	Name:    "notes",
	Model:   (*note)(nil),
	Visible: []string{"id", "title", "body", "done", "meta", "photo"},
	Uploads: map[string]metadata.UploadRule{
		"photo": {AllowedMime: []string{"image/*"}, StoragePath: "notes"},
	},
}

type harness struct {
	db        *bun.DB
	engine    *crud.Engine
	published *events.Recorder
	registry  *prometheus.Registry
}

func newHarness(t *testing.T, hooks any) *harness {
	t.Helper()
	db := testutil.SQLite(t)
	testutil.CreateTables(t, db, (*note)(nil))

	reg := metadata.NewRegistry(db)
	reg.MustRegister(noteDefinition)
	store, err := uploads.NewFS(t.TempDir())
	require.NoError(t, err)

	h := &harness{db: db, published: &events.Recorder{}, registry: prometheus.NewRegistry()}
	h.engine = crud.NewEngine(db, reg, record.NewBuilder(store),
		crud.WithDebug(true),
		crud.WithPublisher(h.published),
		crud.WithMetrics(crud.NewMetrics(h.registry)),
	)
	if hooks != nil {
		require.NoError(t, h.engine.Register("notes", hooks))
	}
	return h
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.db.NewSelect().TableExpr("notes").Count(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) create(t *testing.T, values ...record.ValueAssignment) crud.Envelope {
	t.Helper()
	return h.engine.Execute(context.Background(), "notes", &crud.CreateRequest{Values: values}, nil)
}

func set(column string, value any) record.ValueAssignment {
	return record.ValueAssignment{Column: column, Value: value}
}

func file(name string, data []byte) record.Attachment {
	return record.Attachment{Filename: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func intp(v int) *int { return &v }

func TestCreateThenRead(t *testing.T) {
	h := newHarness(t, nil)

	env := h.create(t,
		set("title", "groceries"),
		set("done", true),
		set("meta", map[string]any{"color": "red"}),
		set("secret", "s3cr3t"),
		set("$ignored", 1),
	)
	require.Equal(t, crud.StatusSuccess, env.Status, env.Error)
	assert.EqualValues(t, 1, env.CreatedID)

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{
		Fields: []string{"title", "secret", "meta", "done"},
	}, nil)
	require.Equal(t, crud.StatusSuccess, env.Status, env.Error)
	require.Len(t, env.Results, 1)
	assert.Equal(t, map[string]any{
		"title": "groceries",
		"meta":  map[string]any{"color": "red"},
		"done":  true,
	}, env.Results[0])
	assert.Equal(t, 1, *env.ResultTotal)
}

func TestReadWindowSortAndFilters(t *testing.T) {
	h := newHarness(t, nil)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, h.create(t, set("title", title)).OK())
	}

	env := h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{
		From:   intp(1),
		To:     intp(3),
		Fields: []string{"title"},
		Sort:   []query.SortOption{{Column: "title", Direction: "desc"}},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.Equal(t, []map[string]any{{"title": "d"}, {"title": "c"}}, env.Results)
	assert.Equal(t, 5, *env.ResultTotal)

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{
		Fields: []string{"title"},
		Filters: query.FilterGroup{
			{{Column: "title", Operator: query.OpIn, Operand: []any{"a", "e"}}},
			{{Column: "secret", Operator: query.OpEq, Operand: "never compiled"}},
		},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.Len(t, env.Results, 2)

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{From: intp(3), To: intp(3)}, nil)
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Contains(t, env.Error, "to")
}

func TestReadOmitsInvisibleFields(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.create(t, set("title", "x"), set("secret", "hidden")).OK())

	env := h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{Fields: []string{"secret"}}, nil)
	require.True(t, env.OK(), env.Error)
	require.Len(t, env.Results, 1)
	assert.NotContains(t, env.Results[0], "secret")
	assert.Contains(t, env.Results[0], "title")

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{}, nil)
	require.True(t, env.OK(), env.Error)
	assert.NotContains(t, env.Results[0], "secret")
	assert.Len(t, env.Results[0], 6)
}

type failingAfterCreate struct{}

func (failingAfterCreate) AfterCreate(context.Context, *crud.HookContext, *crud.CreateOperation, *crud.Result) error {
	return apperr.Validation("title", "rejected after insert")
}

func TestAfterCreateErrorRollsBack(t *testing.T) {
	h := newHarness(t, failingAfterCreate{})

	env := h.create(t, set("title", "doomed"))
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Contains(t, env.Error, "rejected after insert")
	assert.Nil(t, env.CreatedID)
	assert.Zero(t, h.count(t))
	assert.Empty(t, h.published.Events(), "nothing is published for a rolled back operation")
}

func TestRolledBackUploadsAreRecorded(t *testing.T) {
	h := newHarness(t, failingAfterCreate{})
	ctx := logging.WithContext(context.Background(), logging.NewWideEvent("test"))

	env := h.engine.Execute(ctx, "notes", &crud.CreateRequest{Values: []record.ValueAssignment{
		set("title", "doomed"),
		set("photo", record.MarkerPrefix+"f"),
	}}, record.AttachmentMap{"f": file("cat.png", pngBytes)})
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Zero(t, h.count(t))

	orphaned, ok := logging.FromContext(ctx).Metadata["orphaned_uploads"].([]string)
	require.True(t, ok)
	require.Len(t, orphaned, 1)
	assert.Regexp(t, `^notes/[0-9a-f-]{36}\.png$`, orphaned[0])
}

func TestUploadsAreCheckedBeforeInsert(t *testing.T) {
	h := newHarness(t, nil)
	ctx := logging.WithContext(context.Background(), logging.NewWideEvent("test"))

	env := h.engine.Execute(ctx, "notes", &crud.CreateRequest{Values: []record.ValueAssignment{
		set("title", "x"),
		set("body", record.MarkerPrefix+"f"),
	}}, record.AttachmentMap{"f": file("a.png", pngBytes)})
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Equal(t, string(apperr.KindFileNotAllowed), logging.FromContext(ctx).ErrorKind)
	assert.Zero(t, h.count(t))

	env = h.engine.Execute(ctx, "notes", &crud.CreateRequest{Values: []record.ValueAssignment{
		set("title", "x"),
		set("photo", record.MarkerPrefix+"f"),
	}}, record.AttachmentMap{"f": file("looks-like.png", pdfBytes)})
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Equal(t, string(apperr.KindInvalidFormat), logging.FromContext(ctx).ErrorKind)
	assert.Zero(t, h.count(t))

	env = h.engine.Execute(context.Background(), "notes", &crud.CreateRequest{Values: []record.ValueAssignment{
		set("title", "x"),
		set("photo", record.MarkerPrefix+"f"),
	}}, record.AttachmentMap{"f": file("cat.png", pngBytes)})
	require.True(t, env.OK(), env.Error)

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{Fields: []string{"photo"}}, nil)
	require.True(t, env.OK(), env.Error)
	require.Len(t, env.Results, 1)
	assert.Regexp(t, `^notes/[0-9a-f-]{36}\.png$`, env.Results[0]["photo"])
}

type archiver struct{}

func (archiver) OverrideDelete(context.Context, *crud.HookContext, *crud.DeleteOperation) (crud.Outcome, error) {
	return crud.Outcome{Operation: crud.OutcomeUpdated, Affected: 3}, nil
}

func TestArchivingDeleteReportsAffected(t *testing.T) {
	h := newHarness(t, archiver{})
	require.True(t, h.create(t, set("title", "kept")).OK())

	ctx := logging.WithContext(context.Background(), logging.NewWideEvent("test"))
	env := h.engine.Execute(ctx, "notes", &crud.DeleteRequest{}, nil)
	assert.NotContains(t, logging.FromContext(ctx).Metadata, "override_outcome_mismatch")
	require.True(t, env.OK(), env.Error)
	require.NotNil(t, env.Affected)
	assert.EqualValues(t, 3, *env.Affected)
	assert.Nil(t, env.Results)
	assert.Nil(t, env.ResultTotal)
	assert.Equal(t, 1, h.count(t), "the override replaced the delete")

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"great-success","affected":3}`, string(raw))
}

type readOutcomeOnDelete struct{}

func (readOutcomeOnDelete) OverrideDelete(context.Context, *crud.HookContext, *crud.DeleteOperation) (crud.Outcome, error) {
	return crud.Outcome{Operation: crud.OutcomeRead, Affected: 3, Results: []map[string]any{{"id": 1}}}, nil
}

func TestMismatchedDeleteOutcomeIsNeutral(t *testing.T) {
	h := newHarness(t, readOutcomeOnDelete{})
	ctx := logging.WithContext(context.Background(), logging.NewWideEvent("test"))
	env := h.engine.Execute(ctx, "notes", &crud.DeleteRequest{}, nil)
	require.True(t, env.OK(), env.Error)
	assert.EqualValues(t, 0, *env.Affected)
	assert.Nil(t, env.Results)
	assert.Equal(t, string(crud.OutcomeRead), logging.FromContext(ctx).Metadata["override_outcome_mismatch"])
}

type readOutcomeOnCreate struct{}

func (readOutcomeOnCreate) OverrideCreate(context.Context, *crud.HookContext, *crud.CreateOperation) (crud.Outcome, error) {
	return crud.Outcome{Operation: crud.OutcomeRead, Results: []map[string]any{{"id": 1}}}, nil
}

func TestMismatchedCreateOutcomeHasNoCreatedID(t *testing.T) {
	h := newHarness(t, readOutcomeOnCreate{})
	env := h.create(t, set("title", "x"))
	require.True(t, env.OK(), env.Error)
	assert.Nil(t, env.CreatedID)
	assert.Nil(t, env.Results)
	assert.Zero(t, h.count(t))
}

type panicking struct{}

func (panicking) BeforeCreate(ctx context.Context, hc *crud.HookContext, op *crud.CreateOperation) error {
	if _, err := hc.Tx.NewInsert().Model(&map[string]any{"title": "sneaky"}).TableExpr("notes").Exec(ctx); err != nil {
		return err
	}
	panic("boom")
}

func TestPanicInHookRollsBack(t *testing.T) {
	h := newHarness(t, panicking{})
	ctx := logging.WithContext(context.Background(), logging.NewWideEvent("test"))

	env := h.engine.Execute(ctx, "notes", &crud.CreateRequest{Values: []record.ValueAssignment{set("title", "x")}}, nil)
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Contains(t, env.Error, "boom")
	assert.True(t, logging.FromContext(ctx).PanicRecovered)
	assert.Equal(t, "before", logging.FromContext(ctx).ErrorPhase)
	assert.Zero(t, h.count(t))
}

func TestUpdateAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	for _, title := range []string{"a", "b", "c"} {
		require.True(t, h.create(t, set("title", title)).OK())
	}

	env := h.engine.Execute(context.Background(), "notes", &crud.UpdateRequest{
		Filters: query.FilterGroup{{{Column: "title", Operator: query.OpIn, Operand: []any{"a", "b"}}}},
		Values:  []record.ValueAssignment{set("done", true), set("secret", "rotated")},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.EqualValues(t, 2, *env.Affected)

	env = h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{
		Fields:  []string{"title"},
		Filters: query.FilterGroup{{{Column: "done", Operator: query.OpEq, Operand: true}}},
		Sort:    []query.SortOption{{Column: "title"}},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.Equal(t, []map[string]any{{"title": "a"}, {"title": "b"}}, env.Results)

	env = h.engine.Execute(context.Background(), "notes", &crud.UpdateRequest{
		Values: []record.ValueAssignment{set("done", false)},
	}, nil)
	assert.Equal(t, crud.StatusFailed, env.Status, "updates need a filter")

	env = h.engine.Execute(context.Background(), "notes", &crud.DeleteRequest{
		Filters: query.FilterGroup{{{Column: "title", Operator: query.OpEq, Operand: "c"}}},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.EqualValues(t, 1, *env.Affected)

	env = h.engine.Execute(context.Background(), "notes", &crud.DeleteRequest{}, nil)
	require.True(t, env.OK(), env.Error)
	assert.EqualValues(t, 2, *env.Affected)
	assert.Zero(t, h.count(t))
}

type publishing struct{}

func (publishing) AfterCreate(_ context.Context, hc *crud.HookContext, _ *crud.CreateOperation, res *crud.Result) error {
	ev := events.New(events.EventTagged, hc.Entity.Name, "create")
	ev.IDs = res.Identifiers
	hc.Publish(ev)
	return nil
}

func TestEventsArePublishedAfterCommit(t *testing.T) {
	h := newHarness(t, publishing{})
	require.True(t, h.create(t, set("title", "x")).OK())

	evs := h.published.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.EventCreated, evs[0].Type)
	assert.Equal(t, []any{int64(1)}, evs[0].IDs)
	assert.Equal(t, events.EventTagged, evs[1].Type)

	// NOT NULL title violation
	env := h.create(t, set("body", "untitled"))
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Len(t, h.published.Events(), 2)
}

func TestUnknownEntityAndDebugFlag(t *testing.T) {
	h := newHarness(t, nil)

	env := h.engine.Execute(context.Background(), "ghosts", &crud.ReadRequest{}, nil)
	assert.Equal(t, crud.StatusError, env.Status)

	h.engine.Debug = false
	env = h.create(t, set("body", "untitled"))
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Empty(t, env.Error)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"failed"}`, string(raw))
}

func TestRegisterRequiresKnownEntity(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.Register("ghosts", struct{}{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMetricsCountEnvelopes(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.create(t, set("title", "x")).OK())
	h.create(t, set("body", "no title"))

	n, err := promtest.GatherAndCount(h.registry, "crud_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per status")

	h.engine.Execute(context.Background(), "ghosts", &crud.ReadRequest{}, nil)
	n, err = promtest.GatherAndCount(h.registry, "crud_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReadEnvelopeAlwaysHasResults(t *testing.T) {
	h := newHarness(t, nil)
	env := h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{}, nil)
	require.True(t, env.OK(), env.Error)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"great-success","results":[],"resultTotal":0}`, string(raw))
}

type shaping struct{}

func (shaping) BeforeRead(_ context.Context, hc *crud.HookContext, op *crud.ReadOperation) error {
	if v, ok := hc.VirtualFilter("starts"); ok {
		op.Query = op.Query.Where("title LIKE ?", v.Operand.(string)+"%")
	}
	return nil
}

func (shaping) AfterRead(_ context.Context, _ *crud.HookContext, _ *crud.ReadOperation, res *crud.Result) ([]map[string]any, error) {
	out := make([]map[string]any, len(res.Results))
	for i, row := range res.Results {
		out[i] = map[string]any{"label": row["title"]}
	}
	return out, nil
}

func TestReadHooksShapeResults(t *testing.T) {
	h := newHarness(t, shaping{})
	for _, title := range []string{"apple", "avocado", "banana"} {
		require.True(t, h.create(t, set("title", title)).OK())
	}

	env := h.engine.Execute(context.Background(), "notes", &crud.ReadRequest{
		Fields:  []string{"title"},
		Filters: query.FilterGroup{{{Column: "$starts", Operator: query.OpEq, Operand: "a"}}},
		Sort:    []query.SortOption{{Column: "title"}},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.Equal(t, []map[string]any{{"label": "apple"}, {"label": "avocado"}}, env.Results)
	assert.Equal(t, 2, *env.ResultTotal)
}
