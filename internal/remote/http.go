package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
	"github.com/proxylens/chat/pkg/metrics"
)

const (
	// DefaultBaseURL is where the answer service listens in development.
	DefaultBaseURL = "http://localhost:8000/api/v1/query"

	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 50 * time.Second

	maxBodyBytes = 8 << 20
)

var tracer = otel.Tracer("github.com/proxylens/chat/internal/remote")

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// Token is sent as a bearer token when set.
	Token string

	// HTTPClient overrides the underlying client, mostly for tests.
	HTTPClient *http.Client
}

// HTTPClient implements Client over HTTP+JSON.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewHTTPClient creates a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, log *logger.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		baseURL: base,
		token:   cfg.Token,
		http:    hc,
		logger:  logger.OrGlobal(log).Named("remote"),
	}, nil
}

// ListSessions fetches the session listing. Both the current
// {"sessions":[{"id","title"}]} layout and the older
// {"chat_sessions":[{"session_id","title"}]} layout are accepted.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]model.SessionRecord, error) {
	const op = "list sessions"

	body, err := c.get(ctx, op, PathSessions, nil)
	if err != nil {
		return nil, err
	}

	items, err := listField(body, "sessions", "chat_sessions")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	records := make([]model.SessionRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			ID        string `json:"id"`
			SessionID string `json:"session_id"`
			Title     string `json:"title"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			c.logger.Warn("skipping unreadable session record", zap.Error(err))
			continue
		}
		id := item.ID
		if id == "" {
			id = item.SessionID
		}
		if strings.TrimSpace(id) == "" {
			c.logger.Warn("skipping session record without id")
			continue
		}
		records = append(records, model.SessionRecord{ID: model.SessionID(id), Title: item.Title})
	}
	return records, nil
}

// History fetches the raw message payload of one session. A body without a
// messages field yields JSON null, which normalizes to an empty conversation.
func (c *HTTPClient) History(ctx context.Context, sessionID model.SessionID) (json.RawMessage, error) {
	const op = "fetch history"

	if sessionID.IsZero() {
		return nil, fmt.Errorf("%s: %w", op, model.ErrPreconditionSkipped)
	}

	body, err := c.get(ctx, op, PathHistory+url.PathEscape(sessionID.String()), nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.RawMessage(trimmed), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, model.ErrMalformedResponse, err)
	}
	for _, key := range []string{"messages", "chat_history"} {
		if raw, ok := obj[key]; ok {
			return raw, nil
		}
	}
	return json.RawMessage("null"), nil
}

// Answer asks the service for an answer. A body whose "response" field is
// missing or not a string is malformed.
func (c *HTTPClient) Answer(ctx context.Context, query string, sessionID model.SessionID) (*model.Answer, error) {
	const op = "generate answer"

	params := url.Values{}
	params.Set("query", query)
	params.Set("session_id", sessionID.String())

	body, err := c.get(ctx, op, PathAnswer, params)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, model.ErrMalformedResponse, err)
	}
	text, ok := obj["response"].(string)
	if !ok {
		return nil, fmt.Errorf("%s: %w: missing response field", op, model.ErrMalformedResponse)
	}
	delete(obj, "response")

	return &model.Answer{Response: text, Metadata: obj}, nil
}

func (c *HTTPClient) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	start := time.Now()
	body, status, err := c.do(ctx, path, params)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("http.path", path), attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRemoteCall(op, "error", elapsed.Seconds())
		c.logger.Warn("remote call failed",
			zap.String("op", op),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, &model.TransportError{Op: op, StatusCode: status, Err: err}
	}

	metrics.RecordRemoteCall(op, "ok", elapsed.Seconds())
	c.logger.Debug("remote call completed", zap.String("op", op), zap.Duration("duration", elapsed))
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, errors.New(errorMessage(body, resp.Status))
	}
	return body, resp.StatusCode, nil
}

// listField extracts the first present list field, or the body itself when
// it is a bare list.
func listField(body []byte, keys ...string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)

	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return nil, nil
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %s is not a list", model.ErrMalformedResponse, key)
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: missing %s field", model.ErrMalformedResponse, keys[0])
}

func errorMessage(body []byte, status string) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return status
}

var _ Client = (*HTTPClient)(nil)
