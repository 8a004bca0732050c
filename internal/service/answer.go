package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/llm"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
	"github.com/proxylens/chat/pkg/metrics"
)

// DefaultContextTurns is how many earlier turns accompany a query.
const DefaultContextTurns = 10

// Answer is a generated answer.
type Answer struct {
	Response  string `json:"response"`
	Model     string `json:"model,omitempty"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	LatencyMs int64  `json:"latency_ms"`
}

// AnswerService answers queries within a session and archives the turn.
type AnswerService struct {
	archive      *Archive
	llmClient    llm.Client
	contextTurns int
	logger       *logger.Logger
}

// NewAnswerService creates a new answer service.
func NewAnswerService(archive *Archive, llmClient llm.Client, contextTurns int, log *logger.Logger) *AnswerService {
	if contextTurns < 0 {
		contextTurns = 0
	}
	return &AnswerService{
		archive:      archive,
		llmClient:    llmClient,
		contextTurns: contextTurns,
		logger:       logger.OrGlobal(log).Named("answer"),
	}
}

// Answer generates an answer to query, using the session's recent turns as
// context, and archives the exchange.
func (s *AnswerService) Answer(ctx context.Context, sessionID model.SessionID, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	var prior []Turn
	sess, err := s.archive.Get(ctx, sessionID)
	switch {
	case err == nil:
		prior = sess.Turns
	case !errors.Is(err, ErrSessionNotFound):
		return nil, err
	}
	if len(prior) > s.contextTurns {
		prior = prior[len(prior)-s.contextTurns:]
	}

	messages := make([]llm.ChatMessage, 0, 2*len(prior)+1)
	for _, t := range prior {
		messages = append(messages,
			llm.ChatMessage{Role: llm.RoleUser, Content: t.Query},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: query})

	provider := s.llmClient.Name()
	start := time.Now()
	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{Messages: messages})
	if err != nil {
		metrics.RecordAnswer(provider, "error", time.Since(start).Seconds(), 0, 0)
		s.logger.Error("answer generation failed",
			zap.String("session_id", sessionID.String()),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	metrics.RecordAnswer(provider, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	_, created, err := s.archive.Append(ctx, sessionID, Turn{
		Query:  query,
		Answer: resp.Content,
		Model:  resp.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive turn: %w", err)
	}
	if created {
		metrics.SessionsTotal.Inc()
	}

	return &Answer{
		Response:  resp.Content,
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		LatencyMs: resp.LatencyMs,
	}, nil
}
