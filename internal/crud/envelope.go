package crud

import (
	"encoding/json"
)

type Status string

const (
	StatusSuccess Status = "great-success"
	StatusFailed  Status = "failed"
	// StatusError means the request never reached a transaction.
	StatusError Status = "error"
)

// Envelope is the single response shape of all four operations. Fields
// that do not belong to the requested operation are omitted.
type Envelope struct {
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedID   any              `json:"createdId,omitempty"`
	Affected    *int64           `json:"affected,omitempty"`
	Results     []map[string]any `json:"results,omitempty"`
	ResultTotal *int             `json:"resultTotal,omitempty"`

	action Action
}

func (e Envelope) Action() Action { return e.action }

func (e Envelope) OK() bool { return e.Status == StatusSuccess }

// MarshalJSON always writes results for a successful read, even when empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Status != StatusSuccess || e.action != ActionRead {
		return json.Marshal(plain(e))
	}
	results := e.Results
	if results == nil {
		results = []map[string]any{}
	}
	return json.Marshal(struct {
		plain
		Results []map[string]any `json:"results"`
	}{plain(e), results})
}

func successEnvelope(action Action, res *Result) Envelope {
	env := Envelope{Status: StatusSuccess, action: action}
	if res == nil {
		res = &Result{}
	}
	switch action {
	case ActionCreate:
		env.CreatedID = res.CreatedID
	case ActionRead:
		env.Results = res.Results
		total := res.Total
		env.ResultTotal = &total
	default:
		affected := res.Affected
		env.Affected = &affected
	}
	return env
}

func failedEnvelope(action Action, status Status, err error, debug bool) Envelope {
	env := Envelope{Status: status, action: action}
	if debug && err != nil {
		env.Error = err.Error()
	}
	return env
}
