package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

const (
	maxBodyBytes         = 1 << 20
	defaultEventLogLimit = 100
	maxEventLogLimit     = 500
)

// SessionHandler exposes booking sessions to the operator console and the
// voice session bridge.
type SessionHandler struct {
	manager *session.Manager
	logger  *logging.Logger
	buffer  int
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager, logger *logging.Logger) *SessionHandler {
	if manager == nil {
		panic("handlers: session manager required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{manager: manager, logger: logger, buffer: 64}
}

// Routes mounts the session endpoints on r. createMiddleware wraps only
// session creation.
func (h *SessionHandler) Routes(r chi.Router, createMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/booking-options", h.Options)
	r.With(createMiddleware...).Post("/sessions", h.Create)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/calls", h.StartCall)
		r.Post("/calls/end", h.EndCall)
		r.Post("/debug", h.Debug)
		r.Post("/transcript", h.Transcript)
		r.Post("/selections", h.Select)
		r.Post("/flow/override", h.Override)
		r.Post("/flow/popup", h.Popup)
		r.Get("/events", h.Stream)
		r.Get("/events/log", h.EventLog)
	})
}

type createRequest struct {
	MobileNumber string `json:"mobileNumber"`
}

type debugRequest struct {
	Message string `json:"message"`
}

type transcriptRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type selectionRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type overrideRequest struct {
	State string `json:"state"`
}

type popupRequest struct {
	Action string `json:"action"`
}

type optionsResponse struct {
	Cities  []string            `json:"cities"`
	Centers map[string][]string `json:"centers"`
	Weeks   []string            `json:"weeks"`
	Days    []string            `json:"days"`
}

// Options lists the popup choices.
func (h *SessionHandler) Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, optionsResponse{
		Cities:  bookingflow.Cities(),
		Centers: bookingflow.Centers,
		Weeks:   bookingflow.Weeks,
		Days:    bookingflow.Days,
	})
}

// Create opens a session for a mobile number.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.manager.Create(r.Context(), strings.TrimSpace(req.MobileNumber))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventLog returns the persisted events of a session, oldest first.
func (h *SessionHandler) EventLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultEventLogLimit, maxEventLogLimit)
	if !ok {
		return
	}
	events, err := h.manager.EventLog(r.Context(), chi.URLParam(r, "id"), int64(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// StartCall starts a new call epoch.
func (h *SessionHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.StartCall(r.Context()))
}

func (h *SessionHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.EndCall(r.Context()))
}

// Debug accepts one raw debug-channel message from the voice session.
func (h *SessionHandler) Debug(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req debugRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.HandleDebug(r.Context(), req.Message))
}

// Transcript appends a display-only transcript line.
func (h *SessionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req transcriptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Speaker) == "" {
		http.Error(w, "speaker is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.AddTranscript(r.Context(), req.Speaker, req.Text))
}

// Select applies a popup selection.
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.Select(r.Context(), bookingflow.Kind(strings.ToLower(strings.TrimSpace(req.Kind))), req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Override forces the booking flow forward.
func (h *SessionHandler) Override(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.Override(r.Context(), bookingflow.State(strings.TrimSpace(req.State)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Popup shows or closes the current step's popup.
func (h *SessionHandler) Popup(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req popupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "show":
		writeJSON(w, http.StatusOK, s.ShowPopup(r.Context()))
	case "close":
		writeJSON(w, http.StatusOK, s.ClosePopup(r.Context()))
	default:
		http.Error(w, `action must be "show" or "close"`, http.StatusUnprocessableEntity)
	}
}

// StreamMessage is one frame on the events socket.
type StreamMessage struct {
	Type  string         `json:"type"`
	View  *session.View  `json:"view,omitempty"`
	Event *session.Event `json:"event,omitempty"`
}

// Stream upgrades to a WebSocket that sends the current view and then every
// bus event of the session.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.manager.Get(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	server := websocket.Server{Handler: func(conn *websocket.Conn) {
		h.serveStream(r.Context(), conn, s)
	}}
	server.ServeHTTP(w, r)
}

func (h *SessionHandler) serveStream(ctx context.Context, conn *websocket.Conn, s *session.Session) {
	events, cancel := h.manager.Bus().Subscribe("websocket:"+s.ID(), h.buffer, session.ForSession(s.ID()))
	defer cancel()

	view := s.View()
	if err := websocket.JSON.Send(conn, StreamMessage{Type: "snapshot", View: &view}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				_ = websocket.JSON.Send(conn, StreamMessage{Type: "pong"})
			}
		}
	}()

	h.logger.Info("session stream opened", "session_id", s.ID())
	defer h.logger.Debug("session stream closed", "session_id", s.ID())
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, StreamMessage{Type: "event", Event: &evt}); err != nil {
				return
			}
		}
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *SessionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("session request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookingflow.ErrInvalidMobile),
		errors.Is(err, bookingflow.ErrOutOfOrder),
		errors.Is(err, bookingflow.ErrUnknownOption):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryLimit reads ?limit, falling back to def and capping at ceiling.
func queryLimit(w http.ResponseWriter, r *http.Request, def, ceiling int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	if n > ceiling {
		n = ceiling
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
