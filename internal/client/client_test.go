package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer counts connections and hands each to behave.
type wsServer struct {
	srv   *httptest.Server
	dials atomic.Int32
}

func newWSServer(t *testing.T, behave func(*websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.dials.Add(1)
		behave(conn)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// holdOpen keeps the connection alive until the test server shuts down.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnectTransitionsState(t *testing.T) {
	s := newWSServer(t, holdOpen)

	var states []types.ConnState
	c := New(Options{
		URL:           s.url(),
		OnStateChange: func(st types.ConnState) { states = append(states, st) },
	})
	if c.State() != types.StateDisconnected {
		t.Fatalf("initial state = %v", c.State())
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if c.State() != types.StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}
	if len(states) != 2 || states[0] != types.StateConnecting || states[1] != types.StateConnected {
		t.Fatalf("transitions = %v, want connecting then connected", states)
	}
}

func TestConnectOpensExactlyOneSocket(t *testing.T) {
	s := newWSServer(t, holdOpen)
	c := New(Options{URL: s.url()})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("second connect on a live client must fail")
	}
	if got := s.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	var killed atomic.Bool
	s := newWSServer(t, func(conn *websocket.Conn) {
		if killed.CompareAndSwap(false, true) {
			conn.Close() // abrupt, no close handshake
			return
		}
		holdOpen(conn)
	})

	c := New(Options{URL: s.url(), ReconnectDelay: 50 * time.Millisecond})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, "error state", func() bool { return c.State() == types.StateError })
	waitFor(t, "reconnect", func() bool { return c.State() == types.StateConnected })
	if got := s.dials.Load(); got != 2 {
		t.Fatalf("dials = %d, want 2 (original plus one reconnect)", got)
	}
}

func TestNormalCloseNeverReconnects(t *testing.T) {
	s := newWSServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Drain until the client's close response arrives.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	})

	c := New(Options{URL: s.url(), ReconnectDelay: 30 * time.Millisecond})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "disconnect", func() bool { return c.State() == types.StateDisconnected })
	time.Sleep(150 * time.Millisecond) // several reconnect delays
	if got := s.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 (no reconnect after normal close)", got)
	}
}

func TestReplacedReconnectLeavesOnePendingTimer(t *testing.T) {
	s := newWSServer(t, holdOpen)
	c := New(Options{URL: s.url(), ReconnectDelay: 60 * time.Millisecond})

	// Arm twice in a row, as two back-to-back abnormal closures would.
	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	time.Sleep(250 * time.Millisecond)
	if got := s.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want exactly 1 pending attempt", got)
	}
	c.Disconnect()
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	s := newWSServer(t, holdOpen)
	c := New(Options{URL: s.url(), ReconnectDelay: 80 * time.Millisecond})

	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := s.dials.Load(); got != 0 {
		t.Fatalf("dials = %d, want 0 after explicit disconnect", got)
	}
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDisconnectCancelsFrameWork(t *testing.T) {
	s := newWSServer(t, holdOpen)
	c := New(Options{URL: s.url()})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.StreamFrames(context.Background(), blockingSource{}, 0) }()
	time.Sleep(20 * time.Millisecond) // let StreamFrames register its cancel

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame work survived disconnect")
	}
}

func TestEnvelopeDelivery(t *testing.T) {
	s := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(types.FeedbackEnvelope{
			Status: types.StatusOK, Feedback: []string{"Excellent squat! Keep that form."},
			Exercise: "squat", Timestamp: 12.5,
		})
		holdOpen(conn)
	})

	envCh := make(chan types.FeedbackEnvelope, 1)
	c := New(Options{URL: s.url(), OnEnvelope: func(e types.FeedbackEnvelope) { envCh <- e }})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	select {
	case env := <-envCh:
		if env.Status != types.StatusOK || env.Exercise != "squat" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope delivered")
	}
}
