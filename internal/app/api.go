package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/store"
	"github.com/MrWong99/murmur/internal/summarize"
)

// registerAPI adds the recording and engine endpoints to mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /engines", a.handleEngines)
	mux.HandleFunc("PUT /engines/current", a.handleSelectEngine)
	mux.HandleFunc("GET /recordings", a.handleRecordings)
	mux.HandleFunc("GET /recordings/{id}/summary", a.handleSummary)
	mux.HandleFunc("POST /recordings/{id}/recover", a.handleRecover)
	mux.HandleFunc("POST /recordings/{id}/rename", a.handleRename)
	mux.HandleFunc("POST /recordings/{id}/cancel", a.handleCancel)
}

type enginesResponse struct {
	Current string              `json:"current"`
	Engines []engine.Descriptor `json:"engines"`
}

func (a *App) handleEngines(w http.ResponseWriter, r *http.Request) {
	descs := a.engines.Descriptors()
	if r.URL.Query().Has("refresh") {
		descs = a.engines.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, enginesResponse{Current: a.engines.CurrentName(), Engines: descs})
}

func (a *App) handleSelectEngine(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"name\": \"<engine>\"}"))
		return
	}
	if v := a.engines.Validate(body.Name); !v.Known {
		writeError(w, http.StatusNotFound, errors.New(v.Message))
		return
	}
	if err := a.engines.SetCurrent(r.Context(), body.Name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, enginesResponse{Current: a.engines.CurrentName(), Engines: a.engines.Descriptors()})
}

type recordingsResponse struct {
	Running   []string           `json:"running"`
	Summaries []summarize.Record `json:"summaries"`
}

func (a *App) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := a.orchestrator.Summaries().All(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recordingsResponse{Running: a.pipeline.Running(), Summaries: recs})
}

type summaryResponse struct {
	summarize.Record
	NeedsRegeneration bool `json:"needs_regeneration"`
}

func (a *App) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := a.orchestrator.Summaries().Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	stale, err := a.orchestrator.NeedsRegeneration(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Record: rec, NeedsRegeneration: stale})
}

type recoverRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Manual string `json:"manual"`
	From   string `json:"from"`
}

type outcomeResponse struct {
	RecordingID  string          `json:"recording_id"`
	Status       string          `json:"status"`
	Summary      *engine.Summary `json:"summary,omitempty"`
	Fallback     bool            `json:"fallback"`
	FailedEngine string          `json:"failed_engine,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Actions      []string        `json:"actions,omitempty"`
}

func (a *App) handleRecover(w http.ResponseWriter, r *http.Request) {
	var body recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := summarize.ParseRecoveryAction(body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case action == summarize.ActionManualSummary && body.Manual == "":
		writeError(w, http.StatusBadRequest, errors.New("manual_summary needs a manual text"))
		return
	case action != summarize.ActionManualSummary && body.Text == "":
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	id := r.PathValue("id")
	observe.Logger(r.Context()).Info("recovery requested", "recording", id, "action", action)
	out, err := a.orchestrator.Recover(r.Context(), summarize.RecoveryRequest{
		RecordingID: id,
		Text:        body.Text,
		Action:      action,
		Manual:      body.Manual,
		From:        body.From,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := outcomeResponse{
		RecordingID: out.RecordingID,
		Status:      out.Status.String(),
		Summary:     out.Summary,
		Fallback:    out.Fallback,
		Reason:      out.Reason,
	}
	if out.Failure != nil {
		resp.FailedEngine = out.Failure.Engine
	}
	for _, act := range out.Actions {
		resp.Actions = append(resp.Actions, act.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewID string `json:"new_id"`
	}
	id := r.PathValue("id")
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewID == "" || body.NewID == id {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"new_id\": \"<id>\"} with a different id"))
		return
	}
	if err := a.pipeline.Rename(r.Context(), id, body.NewID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !a.pipeline.Cancel(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, errors.New("recording is not being processed"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeerr.ErrConflictingOperation):
		return http.StatusConflict
	case errors.Is(err, pipeerr.ErrInsufficientContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeerr.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeerr.ErrProcessingTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
