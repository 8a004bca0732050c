package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/middleware"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/internal/service"
	"github.com/proxylens/chat/pkg/logger"
)

// GenerateHandler answers queries.
type GenerateHandler struct {
	answers *service.AnswerService
	logger  *logger.Logger
}

// NewGenerateHandler creates a new generate handler.
func NewGenerateHandler(answers *service.AnswerService, log *logger.Logger) *GenerateHandler {
	return &GenerateHandler{
		answers: answers,
		logger:  logger.OrGlobal(log),
	}
}

// Generate handles GET /generate?query=...&session_id=...
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query().Get("query")
	sessionID := r.URL.Query().Get("session_id")

	if err := middleware.ValidateQuery(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := h.answers.Answer(ctx, model.SessionID(sessionID), query)
	if err != nil {
		h.logger.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx)).Error("failed to generate answer",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to generate answer")
		return
	}

	writeJSON(w, http.StatusOK, answer)
}
