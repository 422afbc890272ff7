// Package record turns column/value assignments into persistable records,
// resolving embedded upload markers against the request's attachments.
package record

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/uploads"
)

type ValueAssignment struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// Record maps persisted column names to values.
type Record map[string]any

type Attachment struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// Attachments resolves upload handles to the files of the in-flight request.
type Attachments interface {
	Attachment(handle string) (Attachment, bool)
}

type AttachmentMap map[string]Attachment

func (m AttachmentMap) Attachment(handle string) (Attachment, bool) {
	a, ok := m[handle]
	return a, ok
}

type Builder struct {
	Store uploads.Store
}

func NewBuilder(store uploads.Store) *Builder {
	return &Builder{Store: store}
}

// Draft folds the assignments for persisted, non-virtual columns into a
// record. Later assignments to the same column win.
func Draft(ent *metadata.Entity, values []ValueAssignment) Record {
	rec := make(Record, len(values))
	for _, v := range values {
		if metadata.IsVirtual(v.Column) || !ent.Persists(v.Column) {
			continue
		}
		rec[v.Column] = v.Value
	}
	return rec
}

type pendingField struct {
	column string
	rule   metadata.UploadRule
	field  field
}

// Build returns the record for values together with the public paths of
// every file it stored. Paths are returned on failure too, so the caller
// can report them as orphans.
//
// All markers are validated before the first file is written.
func (b *Builder) Build(ctx context.Context, ent *metadata.Entity, values []ValueAssignment, atts Attachments) (Record, []string, error) {
	rec := Draft(ent, values)

	columns := make([]string, 0, len(rec))
	for col := range rec {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var pending []pendingField
	for _, col := range columns {
		f := parse(rec[col])
		if !f.pending() {
			continue
		}
		rule, ok := ent.Upload(col)
		if !ok {
			return nil, nil, apperr.FileNotAllowed(col)
		}
		if !rule.Multiple && f.shape != shapeScalar {
			return nil, nil, apperr.InvalidFormat(col, "accepts a single file")
		}
		for _, l := range f.leaves {
			if p, ok := l.(PendingUpload); ok {
				if _, err := b.check(col, rule, p, atts); err != nil {
					return nil, nil, err
				}
			}
		}
		pending = append(pending, pendingField{column: col, rule: rule, field: f})
	}
	if len(pending) == 0 {
		return rec, nil, nil
	}
	if b.Store == nil {
		return nil, nil, errors.New("no upload store configured")
	}

	var written []string
	for _, pf := range pending {
		for i, l := range pf.field.leaves {
			p, ok := l.(PendingUpload)
			if !ok {
				continue
			}
			stored, err := b.store(ctx, pf.column, pf.rule, p, atts)
			if err != nil {
				return nil, written, err
			}
			written = append(written, stored)
			pf.field.leaves[i] = StoredPath{Value: stored}
		}
		rec[pf.column] = pf.field.value()
	}
	return rec, written, nil
}

// check resolves and sniffs the attachment behind p without storing it.
func (b *Builder) check(col string, rule metadata.UploadRule, p PendingUpload, atts Attachments) (Attachment, error) {
	if atts == nil {
		return Attachment{}, apperr.NotFound("attachment %q", p.Handle)
	}
	att, ok := atts.Attachment(p.Handle)
	if !ok || att.Open == nil {
		return Attachment{}, apperr.NotFound("attachment %q", p.Handle)
	}
	m, err := sniff(att)
	if err != nil {
		return Attachment{}, err
	}
	if !uploads.Allowed(m, rule.AllowedMime) {
		return Attachment{}, apperr.InvalidFormat(col, "content type %s is not allowed", uploads.BaseType(m.String()))
	}
	return att, nil
}

func sniff(att Attachment) (*mimetype.MIME, error) {
	rc, err := att.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open attachment %s", att.Filename)
	}
	defer rc.Close()
	m, _, err := uploads.Sniff(rc)
	return m, err
}

func (b *Builder) store(ctx context.Context, col string, rule metadata.UploadRule, p PendingUpload, atts Attachments) (string, error) {
	att, err := b.check(col, rule, p, atts)
	if err != nil {
		return "", err
	}
	rc, err := att.Open()
	if err != nil {
		return "", errors.Wrapf(err, "open attachment %s", att.Filename)
	}
	defer rc.Close()

	m, body, err := uploads.Sniff(rc)
	if err != nil {
		return "", err
	}
	stored, err := b.Store.Put(ctx, Filename(rule, att.Filename), body, uploads.BaseType(m.String()))
	if err != nil {
		return "", errors.Wrapf(err, "store %s", col)
	}
	return stored, nil
}

// Filename generates a collision-free key under rule.StoragePath that keeps
// the original extension.
func Filename(rule metadata.UploadRule, original string) string {
	ext := path.Ext(strings.ReplaceAll(original, "\\", "/"))
	return path.Join(rule.StoragePath, rule.FilenamePrefix+uuid.NewString()+ext)
}

// Encode converts rec into values bun can bind for the given dialect.
// Postgres array columns become pgdialect arrays; elsewhere they are stored
// as JSON text.
func Encode(ent *metadata.Entity, rec Record, d dialect.Name) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for name, v := range rec {
		col, _ := ent.Column(name)
		if col.Kind != metadata.KindArray || v == nil {
			out[name] = v
			continue
		}
		if d == dialect.PG {
			if values, ok := v.([]any); ok {
				out[name] = query.PGArray(values)
			} else {
				out[name] = pgdialect.Array(v)
			}
			continue
		}
		doc, err := json.Marshal(v)
		if err != nil {
			return nil, apperr.InvalidFormat(name, "not an array")
		}
		out[name] = string(doc)
	}
	return out, nil
}
