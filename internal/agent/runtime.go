// Package agent forwards admitted messages to the agent runtime and
// carries its replies back onto the bus.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
)

// Runtime produces a reply for one inbound message.
type Runtime interface {
	Respond(ctx context.Context, msg bus.InboundMessage) (string, error)
}

// bridgeRequest is the JSON body posted to the agent bridge.
type bridgeRequest struct {
	SessionKey   string            `json:"session_key"`
	Account      string            `json:"account"`
	SenderID     string            `json:"sender_id"`
	SenderName   string            `json:"sender_name,omitempty"`
	ChatID       string            `json:"chat_id"`
	ChatType     string            `json:"chat_type"`
	Content      string            `json:"content"`
	WasMentioned bool              `json:"was_mentioned,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Timestamp    int64             `json:"timestamp,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type bridgeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// HTTPRuntime talks to an agent bridge over plain HTTP: one POST per
// inbound message, the reply text in the response body.
type HTTPRuntime struct {
	url    string
	client *http.Client
}

var _ Runtime = (*HTTPRuntime)(nil)

// NewHTTPRuntime creates a runtime pointed at bridgeURL. timeout bounds a
// single request end to end; agent turns can be slow, so callers typically
// pass minutes rather than seconds.
func NewHTTPRuntime(bridgeURL string, timeout time.Duration) (*HTTPRuntime, error) {
	if bridgeURL == "" {
		return nil, fmt.Errorf("agent bridge_url is required")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPRuntime{
		url:    bridgeURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (r *HTTPRuntime) Respond(ctx context.Context, msg bus.InboundMessage) (string, error) {
	reqBody := bridgeRequest{
		SessionKey:   msg.SessionKey,
		Account:      msg.Account,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		ChatID:       msg.ChatID,
		ChatType:     msg.ChatType,
		Content:      msg.Content,
		WasMentioned: msg.WasMentioned,
		SystemPrompt: msg.GroupSystemPrompt,
		Timestamp:    msg.Timestamp,
		Metadata:     msg.Metadata,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call agent bridge: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent bridge returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed bridgeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Some bridges reply with plain text.
		return string(body), nil
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("agent bridge error: %s", parsed.Error)
	}
	return parsed.Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
