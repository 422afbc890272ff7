package api

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/logger"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

// payloadField is the multipart field carrying the JSON request; every other
// file part is an attachment keyed by its form name.
const payloadField = "payload"

type CRUDHandler struct {
	engine    *crud.Engine
	maxMemory int64
}

func NewCRUDHandler(engine *crud.Engine, maxMemory int64) *CRUDHandler {
	if maxMemory <= 0 {
		maxMemory = 32 << 20
	}
	return &CRUDHandler{
		engine:    engine,
		maxMemory: maxMemory,
	}
}

func (h *CRUDHandler) Execute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entity := vars["entity"]
	action, ok := crud.ParseAction(vars["action"])
	if !ok {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	ctx := r.Context()

	if _, err := h.engine.Registry.Get(entity); err != nil {
		writeEnvelope(w, http.StatusNotFound, h.engine.Reject(ctx, entity, action, err))
		return
	}

	body, atts, cleanup, err := h.readBody(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, h.engine.Reject(ctx, entity, action, err))
		return
	}
	req, err := crud.DecodeRequest(action, body)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, h.engine.Reject(ctx, entity, action, err))
		return
	}

	env := h.engine.Execute(ctx, entity, req, atts)
	status := http.StatusOK
	if env.Status == crud.StatusError {
		status = http.StatusBadRequest
	}
	writeEnvelope(w, status, env)
}

// readBody returns the JSON request body and, for multipart requests, the
// uploaded files.
func (h *CRUDHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, record.Attachments, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxMemory))
		if err != nil {
			return nil, nil, nil, &apperr.Error{Kind: apperr.KindInvalidFormat, Message: "unreadable request body", Err: err}
		}
		return body, nil, nil, nil
	}

	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		return nil, nil, nil, &apperr.Error{Kind: apperr.KindInvalidFormat, Message: "malformed multipart body", Err: err}
	}
	cleanup := func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.Log.Warn().Err(err).Msg("failed to remove multipart temp files")
		}
	}
	atts := make(record.AttachmentMap, len(r.MultipartForm.File))
	for handle, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		atts[handle] = attachment(headers[0])
	}
	return []byte(r.FormValue(payloadField)), atts, cleanup, nil
}

func attachment(fh *multipart.FileHeader) record.Attachment {
	return record.Attachment{
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "open %s", fh.Filename)
			}
			return f, nil
		},
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env crud.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode envelope")
	}
}

// Health reports whether the database answers pings.
func Health(db *bun.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			logger.Log.Warn().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
