package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/middleware"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/internal/service"
	"github.com/proxylens/chat/pkg/logger"
)

// SessionHandler serves the session listing and per-session history.
type SessionHandler struct {
	archive *service.Archive
	shape   service.HistoryShape
	legacy  bool
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler. shape is the default history
// layout; legacy switches to the older response keys (chat_sessions,
// session_id, chat_history).
func NewSessionHandler(archive *service.Archive, shape service.HistoryShape, legacy bool, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		archive: archive,
		shape:   shape,
		legacy:  legacy,
		logger:  logger.OrGlobal(log),
	}
}

type sessionJSON struct {
	ID    model.SessionID `json:"id"`
	Title string          `json:"title"`
}

type legacySessionJSON struct {
	SessionID model.SessionID `json:"session_id"`
	Title     string          `json:"title"`
}

// List handles GET /chat-history
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.archive.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	if h.legacy {
		out := make([]legacySessionJSON, len(records))
		for i, rec := range records {
			out[i] = legacySessionJSON{SessionID: rec.ID, Title: rec.Title}
		}
		writeJSON(w, http.StatusOK, map[string]any{"chat_sessions": out})
		return
	}

	out := make([]sessionJSON, len(records))
	for i, rec := range records {
		out[i] = sessionJSON{ID: rec.ID, Title: rec.Title}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// History handles GET /chat-history/{id}. An unknown session has an empty
// history. The shape query parameter overrides the default layout.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	shape := h.shape
	if s := r.URL.Query().Get("shape"); s != "" {
		parsed, err := service.ParseHistoryShape(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		shape = parsed
	}

	var turns []service.Turn
	sess, err := h.archive.Get(r.Context(), model.SessionID(id))
	switch {
	case err == nil:
		turns = sess.Turns
	case errors.Is(err, service.ErrSessionNotFound):
	default:
		h.logger.Error("failed to load session",
			zap.String("session_id", id),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	key := "messages"
	if h.legacy {
		key = "chat_history"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		key:          service.RenderHistory(turns, shape),
	})
}
