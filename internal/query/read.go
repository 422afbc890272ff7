package query

import (
	"strings"

	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
)

type SortOption struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

// Fields intersects the requested fields with ent's visible set, keeping the
// request order. An empty request selects every visible field.
func Fields(ent *metadata.Entity, requested []string) []string {
	if len(requested) == 0 {
		return ent.VisibleFields()
	}
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, f := range requested {
		if seen[f] || !ent.Visible(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func ApplyColumns(q *bun.SelectQuery, fields []string) *bun.SelectQuery {
	for _, f := range fields {
		q = q.ColumnExpr("?", bun.Ident(f))
	}
	return q
}

// ApplySort orders q by the visible columns in sorts. Invisible columns and
// unknown directions are ignored.
func ApplySort(q *bun.SelectQuery, ent *metadata.Entity, sorts []SortOption) *bun.SelectQuery {
	for _, s := range sorts {
		if !ent.Visible(s.Column) {
			continue
		}
		switch strings.ToLower(s.Direction) {
		case "", "asc":
			q = q.OrderExpr("? ASC", bun.Ident(s.Column))
		case "desc":
			q = q.OrderExpr("? DESC", bun.Ident(s.Column))
		}
	}
	return q
}

// Window converts a zero-based half-open [from, to) row range into an
// offset and a limit; limit 0 means unbounded.
func Window(from, to *int) (offset, limit int, err error) {
	if from != nil {
		if *from < 0 {
			return 0, 0, apperr.Validation("from", "must not be negative")
		}
		offset = *from
	}
	if to != nil {
		limit = *to - offset
		if limit <= 0 {
			return 0, 0, apperr.Validation("to", "must be greater than from")
		}
	}
	return offset, limit, nil
}

func ApplyWindow(q *bun.SelectQuery, offset, limit int) *bun.SelectQuery {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
