package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/clinicalengine"
	"clinical-scribe-service/internal/events"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/panel"
	"clinical-scribe-service/internal/service/session"
	"clinical-scribe-service/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type handlers struct {
	panels *panel.Registry
	hub    *events.Hub
	log    zerolog.Logger
}

func newHandlers(panels *panel.Registry, hub *events.Hub) *handlers {
	return &handlers{
		panels: panels,
		hub:    hub,
		log:    log.With().Str("component", "http").Logger(),
	}
}

func (h *handlers) routes(r chi.Router) {
	r.Post("/panels", h.openPanel)
	r.Get("/panels", h.listPanels)

	r.Route("/panels/{panelID}", func(r chi.Router) {
		r.Get("/", h.withPanel(h.getPanel))
		r.Get("/stream", h.withPanel(h.stream))

		r.Post("/recording/start", h.withPanel(h.startRecording))
		r.Post("/recording/pause", h.withPanel(h.pauseRecording))
		r.Post("/recording/resume", h.withPanel(h.resumeRecording))
		r.Post("/recording/stop", h.withPanel(h.stopRecording))
		r.Post("/visibility", h.withPanel(h.setVisibility))

		r.Put("/transcript", h.withPanel(h.editTranscript))
		r.Put("/diagnosis", h.withPanel(h.setDiagnosis))
		r.Put("/treatments", h.withPanel(h.setTreatments))

		r.Post("/diagnosis/generate", h.withPanel(h.generateDiagnosis))
		r.Post("/differential-diagnoses", h.withPanel(h.differentialDiagnoses))
		r.Post("/treatments/suggest", h.withPanel(h.suggestTreatments))

		r.Delete("/alerts/{alertID}", h.withPanel(h.dismissAlert))

		r.Post("/close", h.withPanel(h.requestClose))
		r.Post("/close/resolve", h.withPanel(h.resolveClose))
		r.Post("/save", h.withPanel(h.save))
		r.Post("/discard", h.withPanel(h.discard))
		r.Post("/unmount", h.withPanel(h.unmount))
	})
}

type panelHandler func(w http.ResponseWriter, r *http.Request, c *panel.Controller)

func (h *handlers) withPanel(next panelHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := h.panels.Get(chi.URLParam(r, "panelID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "panel not found"})
			return
		}
		next(w, r, c)
	}
}

type errorBody struct {
	Error  string   `json:"error"`
	Failed []string `json:"failed,omitempty"`
}

type textBody struct {
	Text string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var saveErr *panel.SaveError
	switch {
	case errors.As(err, &saveErr):
		return http.StatusBadGateway
	case errors.Is(err, panel.ErrUnknownChoice):
		return http.StatusBadRequest
	case errors.Is(err, panel.ErrNotActive),
		errors.Is(err, panel.ErrAlreadyOpen),
		errors.Is(err, panel.ErrNoPendingClose),
		errors.Is(err, panel.ErrEditWhileRecording),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPermissionDenied), errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, clinicalengine.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, clinicalengine.ErrEngineRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var saveErr *panel.SaveError
	if errors.As(err, &saveErr) {
		body.Failed = saveErr.Failed
	}
	ev := h.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).
		Str("requestId", middleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")
	writeJSON(w, status, body)
}

func (h *handlers) openPanel(w http.ResponseWriter, r *http.Request) {
	var req panel.OpenRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	if req.PatientID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "patientId is required"})
		return
	}

	// Audio arrives over the panel's stream socket.
	c, err := h.panels.Open(r.Context(), req, capture.NewRelay())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *handlers) listPanels(w http.ResponseWriter, r *http.Request) {
	views := []panel.View{}
	for _, c := range h.panels.List() {
		views = append(views, c.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getPanel(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	writeJSON(w, http.StatusOK, c.View())
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request, c *panel.Controller, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *handlers) startRecording(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.StartRecording(r.Context()))
}

func (h *handlers) pauseRecording(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.PauseRecording())
}

func (h *handlers) resumeRecording(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.ResumeRecording(r.Context()))
}

func (h *handlers) stopRecording(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.StopRecording())
}

func (h *handlers) setVisibility(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	var body struct {
		Hidden bool `json:"hidden"`
	}
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	c.SetHidden(body.Hidden)
	writeJSON(w, http.StatusOK, c.View())
}

func (h *handlers) editText(w http.ResponseWriter, r *http.Request, c *panel.Controller, apply func(string) error) {
	var body textBody
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	h.respond(w, r, c, apply(body.Text))
}

func (h *handlers) editTranscript(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.editText(w, r, c, c.EditTranscript)
}

func (h *handlers) setDiagnosis(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.editText(w, r, c, c.SetDiagnosis)
}

func (h *handlers) setTreatments(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.editText(w, r, c, c.SetTreatments)
}

func (h *handlers) generateDiagnosis(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	resp, err := c.GenerateDiagnosis(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) differentialDiagnoses(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	resp, err := c.DifferentialDiagnoses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) suggestTreatments(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	resp, err := c.SuggestTreatments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) dismissAlert(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	if !c.DismissAlert(chi.URLParam(r, "alertID")) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "alert not visible"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) requestClose(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	decision, err := c.RequestClose(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body := map[string]any{"decision": decision}
	if decision == panel.DecisionConfirm {
		body["choices"] = []string{panel.ChoiceSave, panel.ChoiceDiscard, panel.ChoiceCancel}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) resolveClose(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	var body struct {
		Choice string `json:"choice"`
	}
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	h.respond(w, r, c, c.ResolveClose(r.Context(), body.Choice))
}

func (h *handlers) save(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.Save(r.Context()))
}

func (h *handlers) discard(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.Discard(r.Context()))
}

func (h *handlers) unmount(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	h.respond(w, r, c, c.Unmount(r.Context()))
}
