package crud

import (
	"bytes"
	"encoding/json"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return a, true
	}
	return "", false
}

// Request is one of *ReadRequest, *CreateRequest, *UpdateRequest or
// *DeleteRequest.
type Request interface {
	Action() Action
}

type ReadRequest struct {
	// From and To select the zero-based half-open row window [From, To).
	From    *int               `json:"from,omitempty"`
	To      *int               `json:"to,omitempty"`
	Fields  []string           `json:"fields,omitempty"`
	Filters query.FilterGroup  `json:"filters,omitempty"`
	Sort    []query.SortOption `json:"sort,omitempty"`
}

type CreateRequest struct {
	Values []record.ValueAssignment `json:"values"`
}

type UpdateRequest struct {
	Filters query.FilterGroup        `json:"filters"`
	Values  []record.ValueAssignment `json:"values"`
}

type DeleteRequest struct {
	Filters query.FilterGroup `json:"filters,omitempty"`
}

func (*ReadRequest) Action() Action   { return ActionRead }
func (*CreateRequest) Action() Action { return ActionCreate }
func (*UpdateRequest) Action() Action { return ActionUpdate }
func (*DeleteRequest) Action() Action { return ActionDelete }

// DecodeRequest parses a JSON body into the request shape of action. An
// empty body is an empty request.
func DecodeRequest(action Action, body []byte) (Request, error) {
	var req Request
	switch action {
	case ActionRead:
		req = &ReadRequest{}
	case ActionCreate:
		req = &CreateRequest{}
	case ActionUpdate:
		req = &UpdateRequest{}
	case ActionDelete:
		req = &DeleteRequest{}
	default:
		return nil, apperr.InvalidFormat("action", "unknown action %q", action)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInvalidFormat, Message: "malformed request body", Err: err}
	}
	return req, nil
}
