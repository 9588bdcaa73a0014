package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reflection"
)

// Replayer reads back the recorded events of a session.
type Replayer interface {
	Tail(ctx context.Context, sessionID, fromID string) <-chan broadcast.Event
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch     *reflection.Orchestrator
	store    reflection.Store
	hub      *broadcast.Hub
	replayer Replayer
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *reflection.Orchestrator, store reflection.Store, hub *broadcast.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		orch:   orch,
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

// SetReplayer enables ?from= on the event stream.
func (h *Handler) SetReplayer(r Replayer) { h.replayer = r }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.startSession)
		r.Get("/sessions/{id}", h.getSession)
		r.Post("/sessions/{id}/stop", h.stopSession)
		r.Get("/sessions/{id}/reflections", h.listReflections)

		r.Get("/events", h.streamEvents)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"active": len(h.orch.Active()),
	})
}

type startRequest struct {
	SessionID  string  `json:"session_id,omitempty"`
	Name       string  `json:"name"`
	Objective  string  `json:"objective"`
	Input      string  `json:"input"`
	Cycles     *int    `json:"cycles,omitempty"`
	NoiseLevel float64 `json:"noise_level"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cycles := h.orch.Options().DefaultCycles
	if req.Cycles != nil {
		cycles = *req.Cycles
	}

	run, err := h.orch.Start(r.Context(), reflection.StartRequest{
		SessionID:  req.SessionID,
		Name:       req.Name,
		Objective:  req.Objective,
		Input:      req.Input,
		Cycles:     cycles,
		NoiseLevel: req.NoiseLevel,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": run.SessionID(),
		"cycles":     cycles,
		"state":      run.State(),
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type sessionView struct {
	Session *reflection.Session          `json:"session"`
	Running bool                         `json:"running"`
	Content *reflection.GeneratedContent `json:"content,omitempty"`
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := sessionView{Session: sess}
	for _, active := range h.orch.Active() {
		if active == id {
			view.Running = true
		}
	}
	content, err := h.store.GetContent(r.Context(), id)
	switch {
	case err == nil:
		view.Content = content
	case !errors.Is(err, reflection.ErrNotFound):
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "session_id": id})
}

func (h *Handler) listReflections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refs, err := h.store.ListReflections(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

// streamEvents writes events as server-sent events until the client goes
// away. ?session= filters to one session; ?from= replays the recorded
// stream of that session when a replayer is configured.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	session := r.URL.Query().Get("session")
	from := r.URL.Query().Get("from")

	var events <-chan broadcast.Event
	switch {
	case from != "" && session != "" && h.replayer != nil:
		events = h.replayer.Tail(r.Context(), session, from)
	case from != "":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "replay needs a session and a configured event relay"})
		return
	default:
		id, ch := h.hub.Subscribe(session, 256)
		defer h.hub.Unsubscribe(id)
		events = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := broadcast.Marshal(ev)
			if err != nil {
				h.logger.Warn("encode event failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), data)
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reflection.ErrMalformedConfig):
		status = http.StatusBadRequest
	case errors.Is(err, reflection.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reflection.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, reflection.ErrPersistence):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
