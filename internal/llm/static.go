package llm

import (
	"context"
	"strings"
	"time"
)

// StaticClient answers without calling out. It returns a fixed reply, or
// echoes the last user message when none is set.
type StaticClient struct {
	reply string
}

// NewStaticClient creates a static client.
func NewStaticClient(reply string) *StaticClient {
	return &StaticClient{reply: reply}
}

// Name returns the provider name.
func (c *StaticClient) Name() string {
	return string(ProviderStatic)
}

// Models returns available models.
func (c *StaticClient) Models() []string {
	return []string{"echo"}
}

// Complete answers req.
func (c *StaticClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	content := c.reply
	if content == "" {
		content = "You said: " + lastUserMessage(req.Messages)
	}

	tokensIn := 0
	for _, m := range req.Messages {
		tokensIn += len(strings.Fields(m.Content))
	}

	return &CompletionResponse{
		Content:    content,
		Model:      "echo",
		TokensIn:   tokensIn,
		TokensOut:  len(strings.Fields(content)),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
