// Package transport exposes the websocket endpoint clients stream frames to
// and carries feedback envelopes back. One session controller per connection;
// the read loop stays thin and hands everything to the session.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/config"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/feedback"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/metrics"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/pose"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/rules"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/session"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/visual"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

const (
	// PosturePath is the websocket endpoint clients connect to.
	PosturePath = "/ws/posture"

	defaultExercise = "squat"
	writeWait       = 10 * time.Second
	maxMessageSize  = 8 * 1024 * 1024
)

// Server upgrades websocket connections and runs one session per client.
type Server struct {
	cfg       *config.Config
	registry  *rules.Registry
	pool      *pose.Pool
	metrics   *metrics.Metrics
	validator TokenValidator
	upgrader  websocket.Upgrader

	wg sync.WaitGroup
}

// NewServer wires the shared pieces. validator may be nil, which allows all
// connections.
func NewServer(cfg *config.Config, registry *rules.Registry, pool *pose.Pool, m *metrics.Metrics, validator TokenValidator) *Server {
	if validator == nil {
		validator = AllowAll{}
	}
	return &Server{
		cfg:       cfg,
		registry:  registry,
		pool:      pool,
		metrics:   m,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser capture clients connect cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(PosturePath, s.HandlePosture)
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// HandlePosture authenticates, upgrades, and runs the connection until the
// client goes away or the session idles out.
func (s *Server) HandlePosture(w http.ResponseWriter, r *http.Request) {
	if !s.validator.Validate(bearerToken(r)) {
		logger.Warn("Transport", "rejected connection from %s: bad token", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn("Transport", "upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	exercise := r.URL.Query().Get("exercise")
	if exercise == "" {
		exercise = defaultExercise
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(context.Background(), conn, exercise, r.RemoteAddr)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, exercise string, remote string) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	sender := newWSSender(conn)
	ctrl, err := s.newController(exercise, sender)
	if err != nil {
		logger.Warn("Transport", "%s requested unknown exercise %q, using %s", remote, exercise, defaultExercise)
		ctrl, err = s.newController(defaultExercise, sender)
		if err != nil {
			logger.Error("Transport", "default exercise missing from registry: %v", err)
			return
		}
	}

	// Teardown order matters: cancel the worker's context first so an
	// in-flight frame blocked in estimation unblocks, then wait for the
	// worker to drain. Waiting before cancelling would deadlock serve on
	// a hung estimator.
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ctrl.Run(runCtx)
		close(done)
	}()
	defer func() { <-done }()
	defer ctrl.Close()
	defer cancel()

	logger.Info("Transport", "[%s] %s connected (exercise=%s)", ctrl.ID(), remote, ctrl.Exercise())
	s.readLoop(conn, ctrl, sender)
	logger.Info("Transport", "[%s] %s disconnected", ctrl.ID(), remote)
}

func (s *Server) newController(exercise string, sender session.Sender) (*session.Controller, error) {
	return session.NewController(session.Options{
		Registry:         s.registry,
		Adapter:          pose.NewAdapter(s.pool, s.cfg.MinDetectionConfidence, s.cfg.MinTrackingConfidence),
		Renderer:         visual.NewRenderer(s.cfg.MaxFrameWidth, s.cfg.MinDetectionConfidence),
		Composer:         feedback.NewComposer(s.cfg.Verbose),
		Metrics:          s.metrics,
		Sender:           sender,
		DefaultExercise:  exercise,
		MinFrameInterval: s.cfg.MinFrameInterval(),
		SkeletonEnabled:  s.cfg.SkeletonEnabled,
	})
}

// readLoop consumes inbound messages until the connection dies. Malformed
// messages are logged and dropped; the loop keeps going.
func (s *Server) readLoop(conn *websocket.Conn, ctrl *session.Controller, sender *wsSender) {
	var seq uint64
	expectBinary := false

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Info("Transport", "[%s] idle for %s, closing", ctrl.ID(), s.cfg.IdleTimeout)
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout")
				_ = sender.writeControl(websocket.CloseMessage, closeMsg)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.metrics.TransportErrors.Add(1)
			logger.Warn("Transport", "[%s] read error: %v", ctrl.ID(), err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !expectBinary {
				s.metrics.MalformedInbound.Add(1)
				logger.Warn("Transport", "[%s] unannounced binary message dropped", ctrl.ID())
				continue
			}
			expectBinary = false
			seq++
			ctrl.Submit(&types.Frame{
				Data:      data,
				Exercise:  ctrl.Exercise(),
				Timestamp: time.Now(),
				Seq:       seq,
			})

		case websocket.TextMessage:
			msg, err := parseInbound(data)
			if err != nil {
				s.metrics.MalformedInbound.Add(1)
				logger.Warn("Transport", "[%s] malformed message dropped: %v", ctrl.ID(), err)
				continue
			}
			if msg.isMeta() {
				expectBinary = s.applyMeta(ctrl, sender, msg) || expectBinary
				continue
			}
			payload, err := decodeFrame(msg.Frame)
			if err != nil {
				s.metrics.MalformedInbound.Add(1)
				logger.Warn("Transport", "[%s] malformed frame dropped: %v", ctrl.ID(), err)
				continue
			}
			if msg.Exercise != "" {
				_ = ctrl.SwitchExercise(msg.Exercise) // unknown ids keep the current exercise
			}
			seq++
			ctrl.Submit(&types.Frame{
				Data:      payload,
				Exercise:  ctrl.Exercise(),
				Timestamp: time.Now(),
				Seq:       seq,
			})
		}
	}
}

// applyMeta updates session settings from a control message. No response is
// produced. Returns whether the next binary message carries a frame.
func (s *Server) applyMeta(ctrl *session.Controller, sender *wsSender, msg *inboundMessage) bool {
	if msg.Exercise != "" {
		_ = ctrl.SwitchExercise(msg.Exercise)
	}
	if msg.Skeleton != nil {
		ctrl.SetSkeleton(*msg.Skeleton)
	}
	if msg.Verbose != nil {
		ctrl.SetVerbose(*msg.Verbose)
	}
	if msg.Binary != nil {
		sender.setBinaryOverlay(*msg.Binary)
	}
	return msg.BinaryFrame
}

// wsSender serializes writes to one websocket connection. gorilla/websocket
// allows at most one concurrent writer.
type wsSender struct {
	conn          *websocket.Conn
	writeMu       sync.Mutex
	binaryOverlay atomic.Bool
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) setBinaryOverlay(enabled bool) {
	s.binaryOverlay.Store(enabled)
}

// SendEnvelope writes the JSON envelope. When the client negotiated binary
// overlays the skeleton frame is stripped from the JSON and follows as a raw
// binary message.
func (s *wsSender) SendEnvelope(env types.FeedbackEnvelope) error {
	var overlay []byte
	if s.binaryOverlay.Load() && env.SkeletonFrame != nil {
		overlay = env.SkeletonFrame
		env.SkeletonFrame = nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if overlay != nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, overlay); err != nil {
			return fmt.Errorf("write overlay: %w", err)
		}
	}
	return nil
}

func (s *wsSender) writeControl(msgType int, data []byte) error {
	return s.conn.WriteControl(msgType, data, time.Now().Add(writeWait))
}
