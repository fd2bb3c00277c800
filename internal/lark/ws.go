package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsEndpointPath = "/callback/ws/endpoint"
	wsReadLimit    = 1 << 20 // 1MB
)

// EventHandler receives raw event payloads from the long connection. The
// handler must return quickly; message processing runs on its own goroutine.
type EventHandler func(ctx context.Context, payload []byte)

// wsFrame is the long-connection frame envelope. The broker sends periodic
// pings; everything else of interest is an event push.
type wsFrame struct {
	Type    string          `json:"type"` // "ping", "pong", "event"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSTransport is one long-connection session. It satisfies the supervisor's
// transport contract: Start dials and spawns the read loop, session-ending
// errors surface on Done, Close tears the session down.
type WSTransport struct {
	client  *Client
	handler EventHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	done      chan error
	closeOnce sync.Once
}

// NewWSTransport creates a transport over the client's credentials.
func NewWSTransport(client *Client, handler EventHandler) *WSTransport {
	return &WSTransport{
		client:  client,
		handler: handler,
		done:    make(chan error, 1),
	}
}

// Start discovers the broker endpoint, dials it, and spawns the read loop.
// Returns once the connection is established.
func (t *WSTransport) Start(ctx context.Context) error {
	wsURL, err := t.client.wsEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("ws endpoint: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.Dial(runCtx, wsURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(runCtx, conn)

	slog.Debug("lark long connection established")
	return nil
}

// Done signals session termination: a nil error means clean close.
func (t *WSTransport) Done() <-chan error { return t.done }

// Close shuts the session down. Best effort and idempotent.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.finish(nil)
			} else {
				t.finish(fmt.Errorf("ws read: %w", err))
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("lark ws: unparseable frame", "error", err)
			continue
		}

		switch frame.Type {
		case "ping":
			t.writePong(ctx, conn)
		case "event":
			t.handler(ctx, frame.Payload)
		}
	}
}

func (t *WSTransport) writePong(ctx context.Context, conn *websocket.Conn) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	data, _ := json.Marshal(wsFrame{Type: "pong"})
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Debug("lark ws: pong failed", "error", err)
	}
}

func (t *WSTransport) finish(err error) {
	select {
	case t.done <- err:
	default:
	}
}

// wsEndpoint requests a broker-issued WebSocket URL for this app. The URL is
// single-use and short-lived; every reconnect fetches a fresh one.
func (c *Client) wsEndpoint(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, "POST", wsEndpointPath, map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("ws endpoint: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		URL string `json:"url"`
	}
	json.Unmarshal(resp.Data, &result)
	if result.URL == "" {
		return "", fmt.Errorf("ws endpoint: empty url")
	}
	return result.URL, nil
}
