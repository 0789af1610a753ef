// Package cdp sends one-shot DevTools protocol commands to a running browser.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	pkgerrors "chromefleet/pkg/errors"
)

// DefaultTimeout bounds each debugger request.
const DefaultTimeout = 5 * time.Second

// Command is a single protocol message.
type Command struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type reply struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the debug port on 127.0.0.1.
type Client struct {
	Host    string
	Timeout time.Duration

	http   *http.Client
	dialer websocket.Dialer
}

// NewClient creates a client for the local debug port.
func NewClient() *Client {
	return &Client{
		Host:    "127.0.0.1",
		Timeout: DefaultTimeout,
		http:    &http.Client{Timeout: DefaultTimeout},
		dialer:  websocket.Dialer{HandshakeTimeout: DefaultTimeout},
	}
}

// DebuggerURL resolves the browser-level websocket URL for port.
func (c *Client) DebuggerURL(ctx context.Context, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/json/version", c.Host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pkgerrors.ErrDebuggerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", pkgerrors.ErrDebuggerUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %w", pkgerrors.ErrDebuggerUnavailable, err)
	}
	var payload struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: webSocketDebuggerUrl missing", pkgerrors.ErrDebuggerUnavailable)
	}
	return payload.WebSocketDebuggerURL, nil
}

// Send opens a connection to wsURL, sends cmd and waits for its reply.
// Events and replies to other ids are skipped.
func (c *Client) Send(ctx context.Context, wsURL string, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("cdp dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("cdp %s: write failed: %w", cmd.Method, err)
	}

	for {
		var r reply
		if err := conn.ReadJSON(&r); err != nil {
			return fmt.Errorf("cdp %s: read failed: %w", cmd.Method, err)
		}
		if r.ID != cmd.ID {
			continue
		}
		if r.Error != nil {
			return &pkgerrors.CDPError{Method: cmd.Method, Code: r.Error.Code, Message: r.Error.Message}
		}
		return nil
	}
}
