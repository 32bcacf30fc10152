// Package client implements the connection side of the posture protocol:
// a reconnecting websocket client that streams captured frames and hands
// feedback envelopes and overlay frames back to the caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// ReconnectDelay is the fixed wait before a reconnect attempt after an
// abnormal closure.
const ReconnectDelay = 1500 * time.Millisecond

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
)

// FrameSource produces frames to stream. Next blocks until a frame is ready
// and returns an error when the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Options configures a Client. OnEnvelope is required; the rest are
// optional.
type Options struct {
	URL      string
	Token    string
	Exercise string

	// OnEnvelope receives every feedback envelope.
	OnEnvelope func(types.FeedbackEnvelope)
	// OnOverlay receives binary overlay frames when negotiated.
	OnOverlay func([]byte)
	// OnStateChange observes connection state transitions.
	OnStateChange func(types.ConnState)

	// ReconnectDelay overrides the fixed reconnect wait. Zero means
	// ReconnectDelay.
	ReconnectDelay time.Duration
}

// Client is a reconnecting websocket client. After an abnormal closure it
// schedules exactly one reconnect attempt with a fixed delay; a later
// abnormal closure replaces any pending attempt. Normal closure and explicit
// Disconnect never reconnect.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu             sync.Mutex
	writeMu        sync.Mutex
	state          types.ConnState
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	frameCancel    context.CancelFunc
	closed         bool
}

// New creates a client in the disconnected state.
func New(opts Options) *Client {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = ReconnectDelay
	}
	return &Client{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		state:  types.StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s types.ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// Connect opens exactly one socket. A pending reconnect attempt is cancelled
// first, so an explicit Connect never races a scheduled one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.cancelReconnectLocked()
	c.mu.Unlock()

	c.setState(types.StateConnecting)

	var header http.Header
	if c.opts.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + c.opts.Token}}
	}
	url := c.opts.URL
	if c.opts.Exercise != "" {
		url += "?exercise=" + c.opts.Exercise
	}
	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		c.setState(types.StateError)
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(types.StateConnected)
	logger.Info("Client", "connected to %s", c.opts.URL)

	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection with a normal close frame. No reconnect
// is scheduled and any pending frame work is cancelled. The client can not
// be reused afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelReconnectLocked()
	c.cancelFrameWorkLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setState(types.StateDisconnected)
	return nil
}

// SendFrame streams one inline-encoded frame.
func (c *Client) SendFrame(frame []byte) error {
	msg := struct {
		Exercise string `json:"exercise,omitempty"`
		Frame    []byte `json:"frame"`
	}{Exercise: c.opts.Exercise, Frame: frame}
	return c.writeJSON(msg)
}

// SendMeta sends a control message updating server-side session settings.
func (c *Client) SendMeta(meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["type"] = "meta"
	return c.writeJSON(meta)
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// StreamFrames pulls frames from src and sends them, spacing sends by
// interval. It returns when src is exhausted, the context is cancelled, or
// the connection drops. The loop is registered as the client's pending frame
// work, so Disconnect cancels it.
func (c *Client) StreamFrames(ctx context.Context, src FrameSource, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancelFrameWorkLocked()
	c.frameCancel = cancel
	c.mu.Unlock()

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if err := c.SendFrame(frame); err != nil {
			return err
		}
		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosure(conn, err)
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var env types.FeedbackEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				logger.Warn("Client", "bad envelope dropped: %v", err)
				continue
			}
			if c.opts.OnEnvelope != nil {
				c.opts.OnEnvelope(env)
			}
		case websocket.BinaryMessage:
			if c.opts.OnOverlay != nil {
				c.opts.OnOverlay(data)
			}
		}
	}
}

// handleClosure classifies a read failure. Normal closure tears the client
// down; anything else schedules the single reconnect attempt.
func (c *Client) handleClosure(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || c.conn != conn {
		// Disconnect already ran, or a newer connection took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.cancelFrameWorkLocked()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.mu.Unlock()
		logger.Info("Client", "server closed the connection")
		c.setState(types.StateDisconnected)
		return
	}

	c.scheduleReconnectLocked()
	c.mu.Unlock()
	logger.Warn("Client", "connection lost: %v, reconnecting in %s", err, c.opts.ReconnectDelay)
	c.setState(types.StateError)
}

// scheduleReconnectLocked arms the reconnect timer, replacing any pending
// one. Caller holds mu.
func (c *Client) scheduleReconnectLocked() {
	c.cancelReconnectLocked()
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			logger.Warn("Client", "reconnect failed: %v", err)
		}
	})
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) cancelFrameWorkLocked() {
	if c.frameCancel != nil {
		c.frameCancel()
		c.frameCancel = nil
	}
}
