// Package httpapi exposes the user data manager over HTTP. Handlers decode
// requests, coerce wire values and render envelopes; every rule lives in
// the manager.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/rs/zerolog"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/contentstate/pkg/errmodel"
	"github.com/wilhg/contentstate/pkg/userdata"
)

const maxBodyBytes = 16 << 20

// Server routes HTTP requests to a userdata.Manager.
type Server struct {
	mgr      *userdata.Manager
	log      zerolog.Logger
	save     *jsonschema.Schema
	finished *jsonschema.Schema
}

// New builds the server and compiles its body schemas.
func New(mgr *userdata.Manager, log zerolog.Logger) (*Server, error) {
	save, err := compileSchema("save", saveBodySchema)
	if err != nil {
		return nil, fmt.Errorf("httpapi: save schema: %w", err)
	}
	finished, err := compileSchema("finished", finishedBodySchema)
	if err != nil {
		return nil, fmt.Errorf("httpapi: finished schema: %w", err)
	}
	return &Server{
		mgr:      mgr,
		log:      log.With().Str("component", "httpapi").Logger(),
		save:     save,
		finished: finished,
	}, nil
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /content-user-data/{contentId}/preload", requireUser(s.preload))
	mux.HandleFunc("GET /content-user-data/{contentId}/{dataType}/{subContentId}", requireUser(s.loadUserData))
	mux.HandleFunc("POST /content-user-data/{contentId}/{dataType}/{subContentId}", requireUser(s.saveUserData))
	mux.HandleFunc("DELETE /content-user-data/{contentId}/users/{userId}", requireUser(s.deleteByUser))
	mux.HandleFunc("DELETE /content-user-data/{contentId}", requireUser(s.deleteForContent))
	mux.HandleFunc("POST /finished-data/{contentId}", requireUser(s.recordCompletion))
	mux.HandleFunc("GET /finished-data/{contentId}", requireUser(s.listCompletions))

	var h http.Handler = mux
	h = accessLog(s.log, h)
	h = requestID(h)
	return otelhttp.NewHandler(h, "contentstate")
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError renders manager errors. Context expiry is reported as a system
// error; any other non-compact error came from the storage backend.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *errmodel.Error
	switch {
	case errors.As(err, &ce):
	case errors.Is(err, context.DeadlineExceeded):
		ce = errmodel.System("timeout", "request timed out", nil, err)
	case errors.Is(err, context.Canceled):
		ce = errmodel.System("canceled", "request canceled", nil, err)
	default:
		ce = errmodel.Backend(err)
	}
	errmodel.WriteHTTP(w, r, ce)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "storage": s.mgr.Enabled()})
}

func (s *Server) loadUserData(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	rec, ok, err := s.mgr.LoadUserData(r.Context(), r.PathValue("contentId"), r.PathValue("dataType"), r.PathValue("subContentId"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok || rec.UserState == "" {
		s.writeOK(w, false)
		return
	}
	s.writeOK(w, rec.UserState)
}

func (s *Server) saveUserData(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	fields, err := s.decodeSave(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, _ := fields["data"].(string)
	in := userdata.SaveInput{
		ContentID:    r.PathValue("contentId"),
		DataType:     r.PathValue("dataType"),
		SubContentID: r.PathValue("subContentId"),
		UserState:    state,
		Invalidate:   coerceFlag(fields["invalidate"]),
		Preload:      coerceFlag(fields["preload"]),
		User:         user,
	}
	if err := s.mgr.SaveUserData(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeSave reads either a JSON object or a urlencoded form. Form fields
// that are absent stay nil so the manager can reject them.
func (s *Server) decodeSave(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if isJSON(r) {
		doc, err := s.decodeJSON(w, r, s.save)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, errmodel.Validation("invalid_body", "could not parse form body", map[string]any{"error": err.Error()})
	}
	fields := map[string]any{}
	for _, k := range []string{"data", "invalidate", "preload"} {
		if vs, ok := r.PostForm[k]; ok && len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields, nil
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, sch *jsonschema.Schema) (map[string]any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errmodel.Validation("invalid_body", "could not read body", map[string]any{"error": err.Error()})
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errmodel.Validation("invalid_body", "body is not valid JSON", map[string]any{"error": err.Error()})
	}
	if err := sch.Validate(doc); err != nil {
		return nil, errmodel.Validation("invalid_body", "body does not match schema", map[string]any{"error": err.Error()})
	}
	obj, _ := doc.(map[string]any)
	return obj, nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// coerceFlag maps the boolean-like wire values 1, "1", 0 and "0" onto Go
// bools. Any other value is returned unchanged.
func coerceFlag(v any) any {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "1":
			return true
		case "0":
			return false
		}
	case float64:
		switch t {
		case 1:
			return true
		case 0:
			return false
		}
	}
	return v
}

func (s *Server) preload(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	entries, ok, err := s.mgr.AggregateForDelivery(r.Context(), r.PathValue("contentId"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeOK(w, nil)
		return
	}
	s.writeOK(w, entries)
}

func (s *Server) deleteByUser(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	if err := s.mgr.DeleteUserDataByUser(r.Context(), r.PathValue("contentId"), r.PathValue("userId"), user); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) deleteForContent(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	if err := s.mgr.DeleteAllUserDataForContent(r.Context(), r.PathValue("contentId"), user); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type finishedBody struct {
	Score    int   `json:"score"`
	MaxScore int   `json:"maxScore"`
	Opened   int64 `json:"opened"`
	Finished int64 `json:"finished"`
	Time     int64 `json:"time"`
}

func (s *Server) recordCompletion(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	doc, err := s.decodeJSON(w, r, s.finished)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Re-decode the validated document into its typed form.
	raw, _ := json.Marshal(doc)
	var body finishedBody
	if err := json.Unmarshal(raw, &body); err != nil {
		s.writeError(w, r, errmodel.Validation("invalid_body", "body does not match schema", map[string]any{"error": err.Error()}))
		return
	}
	in := userdata.FinishedInput{
		ContentID:         r.PathValue("contentId"),
		Score:             body.Score,
		MaxScore:          body.MaxScore,
		OpenedTimestamp:   body.Opened,
		FinishedTimestamp: body.Finished,
		CompletionTime:    body.Time,
		User:              user,
	}
	if err := s.mgr.RecordCompletion(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listCompletions(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	recs, ok, err := s.mgr.ListCompletions(r.Context(), r.PathValue("contentId"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeOK(w, nil)
		return
	}
	s.writeOK(w, recs)
}
