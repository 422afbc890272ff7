package crud

type OutcomeOp string

const (
	OutcomeCreated OutcomeOp = "created"
	OutcomeRead    OutcomeOp = "read"
	OutcomeUpdated OutcomeOp = "updated"
	OutcomeDeleted OutcomeOp = "deleted"
)

// Outcome is returned by an override hook. Operation may name a different
// physical action than the one requested, e.g. a delete performed as an
// archiving update.
type Outcome struct {
	Operation   OutcomeOp
	Affected    int64
	Identifiers []any
	Results     []map[string]any
	// Total defaults to len(Results) for read outcomes.
	Total *int
}

func outcomeFor(a Action) OutcomeOp {
	switch a {
	case ActionCreate:
		return OutcomeCreated
	case ActionRead:
		return OutcomeRead
	case ActionUpdate:
		return OutcomeUpdated
	}
	return OutcomeDeleted
}

// countShaped reports whether op answers with an affected count.
func countShaped(op OutcomeOp) bool {
	return op == OutcomeUpdated || op == OutcomeDeleted
}

// result shapes o as the result of the requested action. Updates and
// deletes share the affected-count shape, so either outcome answers either
// request. Any other mismatch yields an empty result of the requested
// shape; ok reports whether the outcome fit.
func (o Outcome) result(requested Action) (res *Result, ok bool) {
	res = &Result{}
	want := outcomeFor(requested)
	if o.Operation != want && !(countShaped(o.Operation) && countShaped(want)) {
		if requested == ActionRead {
			res.Results = []map[string]any{}
		}
		return res, false
	}
	res.Identifiers = o.Identifiers
	switch requested {
	case ActionCreate:
		if len(o.Identifiers) > 0 {
			res.CreatedID = o.Identifiers[0]
		}
		res.Affected = int64(len(o.Identifiers))
		if o.Affected > 0 {
			res.Affected = o.Affected
		}
	case ActionRead:
		res.Results = o.Results
		if res.Results == nil {
			res.Results = []map[string]any{}
		}
		res.Total = len(res.Results)
		if o.Total != nil {
			res.Total = *o.Total
		}
	default:
		res.Affected = o.Affected
	}
	return res, true
}
