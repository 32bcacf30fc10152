package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/config"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/metrics"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/pose"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/rules"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// visibleEstimator always reports a full, well-spread landmark set.
type visibleEstimator struct{}

func (visibleEstimator) Detect(context.Context, image.Image, pose.Mode) (types.LandmarkSet, error) {
	ls := make(types.LandmarkSet, types.NumLandmarks)
	for i := range ls {
		ls[i] = types.Landmark{
			X:          0.1 + 0.8*float64(i)/float64(types.NumLandmarks),
			Y:          0.1 + 0.8*float64(i%13)/13,
			Visibility: 0.95,
		}
	}
	return ls, nil
}

func (visibleEstimator) Close() error { return nil }

type testHarness struct {
	srv    *httptest.Server
	server *Server
	m      *metrics.Metrics
	conn   *websocket.Conn
}

func newHarness(t *testing.T, mutate func(*config.Config), est pose.Estimator, dialQuery string) *testHarness {
	t.Helper()
	cfg := config.Default()
	cfg.IdleTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	if est == nil {
		est = pose.NewNoopEstimator()
	}
	reg, err := rules.Embedded()
	if err != nil {
		t.Fatalf("embedded rules: %v", err)
	}
	pool, err := pose.NewPool(1, func() (pose.Estimator, error) { return est, nil })
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	m := metrics.New()

	var validator TokenValidator
	if cfg.AuthToken != "" {
		validator = StaticToken(cfg.AuthToken)
	}
	server := NewServer(&cfg, reg, pool, m, validator)
	mux := http.NewServeMux()
	server.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + PosturePath + dialQuery
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testHarness{srv: srv, server: server, m: m, conn: conn}
}

func jpegB64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func readEnvelope(t *testing.T, conn *websocket.Conn) types.FeedbackEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", msgType)
	}
	var env types.FeedbackEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestRejectsBadToken(t *testing.T) {
	cfg := config.Default()
	cfg.AuthToken = "secret"
	reg, _ := rules.Embedded()
	pool, _ := pose.NewPool(1, func() (pose.Estimator, error) { return pose.NewNoopEstimator(), nil })
	server := NewServer(&cfg, reg, pool, metrics.New(), StaticToken(cfg.AuthToken))
	mux := http.NewServeMux()
	server.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + PosturePath

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token must fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()

	header := http.Header{"Authorization": {"Bearer secret"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with bearer header: %v", err)
	}
	conn.Close()
}

func TestInlineFrameRoundTrip(t *testing.T) {
	h := newHarness(t, nil, nil, "")

	msg := map[string]string{"exercise": "squat", "frame": jpegB64(t)}
	if err := h.conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, h.conn)
	if env.Status != types.StatusNoPose {
		t.Fatalf("status = %q, want no_pose from the noop estimator", env.Status)
	}
	if env.Exercise != "squat" {
		t.Fatalf("exercise = %q", env.Exercise)
	}
	if env.Feedback == nil {
		t.Fatal("feedback must be an array")
	}
	if env.Timestamp == 0 {
		t.Fatal("timestamp missing")
	}
}

func TestMalformedMessageDoesNotKillConnection(t *testing.T) {
	h := newHarness(t, nil, nil, "")

	if err := h.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := h.conn.WriteJSON(map[string]string{"exercise": "squat", "frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	env := readEnvelope(t, h.conn)
	if env.Status != types.StatusNoPose {
		t.Fatalf("status = %q", env.Status)
	}
	if got := h.m.MalformedInbound.Load(); got != 1 {
		t.Fatalf("malformed counter = %d, want 1", got)
	}
}

func TestUnannouncedBinaryDropped(t *testing.T) {
	h := newHarness(t, nil, nil, "")

	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), nil)

	// Without the meta announcement the binary payload is not a frame.
	if err := h.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Announced, the same payload is processed.
	if err := h.conn.WriteJSON(map[string]any{"type": "meta", "binary_frame": true}); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := h.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	env := readEnvelope(t, h.conn)
	if env.Status != types.StatusNoPose {
		t.Fatalf("status = %q", env.Status)
	}
	if got := h.m.MalformedInbound.Load(); got != 1 {
		t.Fatalf("malformed counter = %d, want 1 for the unannounced binary", got)
	}
	if got := h.m.FramesReceived.Load(); got != 1 {
		t.Fatalf("frames received = %d, want 1", got)
	}
}

func TestMetaProducesNoResponse(t *testing.T) {
	h := newHarness(t, nil, nil, "")

	if err := h.conn.WriteJSON(map[string]any{"type": "meta", "exercise": "lunge"}); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := h.conn.WriteJSON(map[string]string{"frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// The first and only reply must be the frame envelope, now tagged with
	// the switched exercise.
	env := readEnvelope(t, h.conn)
	if env.Exercise != "lunge" {
		t.Fatalf("exercise = %q, want lunge after meta switch", env.Exercise)
	}
}

func TestBinaryOverlayNegotiation(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.SkeletonEnabled = true
	}, visibleEstimator{}, "")

	if err := h.conn.WriteJSON(map[string]any{"type": "meta", "binary": true}); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := h.conn.WriteJSON(map[string]string{"exercise": "squat", "frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	env := readEnvelope(t, h.conn)
	if env.SkeletonFrame != nil {
		t.Fatal("envelope must not inline the overlay when binary was negotiated")
	}

	_ = h.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := h.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read overlay: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("overlay message type = %d, want binary", msgType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("overlay is not a valid jpeg: %v", err)
	}
}

func TestInlineOverlayByDefault(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.SkeletonEnabled = true
	}, visibleEstimator{}, "")

	if err := h.conn.WriteJSON(map[string]string{"exercise": "squat", "frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	env := readEnvelope(t, h.conn)
	if env.SkeletonFrame == nil {
		t.Fatal("envelope must carry the overlay inline by default")
	}
	if _, err := jpeg.Decode(bytes.NewReader(env.SkeletonFrame)); err != nil {
		t.Fatalf("inline overlay is not a valid jpeg: %v", err)
	}
}

func TestUnknownExerciseQueryFallsBack(t *testing.T) {
	h := newHarness(t, nil, nil, "?exercise=deadlift")

	if err := h.conn.WriteJSON(map[string]string{"frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	env := readEnvelope(t, h.conn)
	if env.Exercise != "squat" {
		t.Fatalf("exercise = %q, want fallback to squat", env.Exercise)
	}
}

// stallingEstimator blocks inside Detect until its context is cancelled,
// signalling entry so tests can close the connection mid-estimation.
type stallingEstimator struct {
	entered chan struct{}
}

func (s *stallingEstimator) Detect(ctx context.Context, _ image.Image, _ pose.Mode) (types.LandmarkSet, error) {
	s.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stallingEstimator) Close() error { return nil }

func TestConnectionCloseCancelsInflightProcessing(t *testing.T) {
	est := &stallingEstimator{entered: make(chan struct{}, 1)}
	h := newHarness(t, nil, est, "")

	if err := h.conn.WriteJSON(map[string]string{"exercise": "squat", "frame": jpegB64(t)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	select {
	case <-est.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("estimator never saw the frame")
	}

	// Drop the socket with the frame still in flight. The handler must
	// cancel the worker's context and return; Wait must not hang.
	h.conn.Close()

	waited := make(chan struct{})
	go func() {
		h.server.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never returned: in-flight estimation was not cancelled on close")
	}
}

func TestIdleTimeoutSendsNormalClose(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.IdleTimeout = 100 * time.Millisecond
	}, nil, "")

	_ = h.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := h.conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the server to close the idle connection")
	}
	// A normal closure tells well-behaved clients not to reconnect.
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("close error = %v, want code %d", err, websocket.CloseNormalClosure)
	}
}
