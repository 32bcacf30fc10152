package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/config"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/metrics"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/pose"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/rules"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/transport"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/webdemo"
)

var (
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor = flag.Bool("log-color", true, "Enable colored log output")
)

// Server bundles the posture service components.
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	registry   *rules.Registry
	pool       *pose.Pool
	transport  *transport.Server
	httpServer *http.Server
}

func main() {
	// Environment provides defaults; flags win.
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid environment configuration: %v", err)
	}
	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP/websocket server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address")
	flag.StringVar(&cfg.PprofAddr, "pprof", cfg.PprofAddr, "pprof server address")
	flag.Float64Var(&cfg.MinDetectionConfidence, "min-detection-confidence", cfg.MinDetectionConfidence, "Cold-detection landmark confidence floor")
	flag.Float64Var(&cfg.MinTrackingConfidence, "min-tracking-confidence", cfg.MinTrackingConfidence, "Tracking-mode landmark confidence floor")
	flag.IntVar(&cfg.TargetFPS, "target-fps", cfg.TargetFPS, "Target processing rate, 0 disables pacing")
	flag.IntVar(&cfg.MaxFrameWidth, "max-frame-width", cfg.MaxFrameWidth, "Downscale frames wider than this")
	flag.BoolVar(&cfg.SkeletonEnabled, "skeleton", cfg.SkeletonEnabled, "Render skeleton overlays by default")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Verbose per-session feedback by default")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close connections idle this long")
	flag.IntVar(&cfg.EstimatorPool, "estimator-pool", cfg.EstimatorPool, "Shared pose estimator instances")
	flag.StringVar(&cfg.SidecarCmd, "sidecar", cfg.SidecarCmd, "External pose estimator command")
	flag.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "Static bearer token required at upgrade")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for JWT bearer tokens")
	flag.StringVar(&cfg.RuleSetPath, "rules", cfg.RuleSetPath, "Rule table YAML override, empty uses embedded tables")
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	if cfg.Verbose && level > logger.DEBUG {
		level = logger.DEBUG
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Posture server starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if err := srv.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// NewServer wires the rule registry, estimator pool, and transport together.
func NewServer(cfg config.Config) (*Server, error) {
	m := metrics.New()

	registry, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Main", "Loaded exercises: %s", strings.Join(registry.IDs(), ", "))

	pool, err := pose.NewPool(cfg.EstimatorPool, estimatorFactory(cfg))
	if err != nil {
		return nil, err
	}

	var validator transport.TokenValidator
	switch {
	case cfg.JWTSecret != "":
		validator = transport.NewJWTValidator(cfg.JWTSecret)
		logger.Info("Main", "JWT bearer authentication enabled")
	case cfg.AuthToken != "":
		validator = transport.StaticToken(cfg.AuthToken)
		logger.Info("Main", "Static bearer token authentication enabled")
	}

	ws := transport.NewServer(&cfg, registry, pool, m, validator)
	mux := http.NewServeMux()
	ws.Register(mux)
	webdemo.NewHandler(registry.IDs()).Register(mux)

	srv := &Server{
		cfg:        cfg,
		metrics:    m,
		registry:   registry,
		pool:       pool,
		transport:  ws,
		httpServer: &http.Server{Addr: cfg.Addr, Handler: mux},
	}
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/exercises", srv.handleExercises)
	return srv, nil
}

func loadRules(cfg config.Config) (*rules.Registry, error) {
	if cfg.RuleSetPath != "" {
		logger.Info("Main", "Loading rule tables from %s", cfg.RuleSetPath)
		return rules.LoadFile(cfg.RuleSetPath)
	}
	return rules.Embedded()
}

// estimatorFactory builds the sidecar estimator when one is configured and
// falls back to the noop estimator otherwise. The noop estimator answers
// every frame with no pose, which keeps the protocol exercisable without an
// inference backend.
func estimatorFactory(cfg config.Config) func() (pose.Estimator, error) {
	if cfg.SidecarCmd == "" {
		logger.Warn("Main", "No estimator sidecar configured, every frame will report no pose")
		return func() (pose.Estimator, error) {
			return pose.NewNoopEstimator(), nil
		}
	}
	parts := strings.Fields(cfg.SidecarCmd)
	if len(parts) == 0 {
		return func() (pose.Estimator, error) {
			return nil, fmt.Errorf("sidecar command %q contains no executable", cfg.SidecarCmd)
		}
	}
	command, args := parts[0], parts[1:]
	return func() (pose.Estimator, error) {
		return pose.StartSidecar(command, args, cfg.MinDetectionConfidence, cfg.MinTrackingConfidence)
	}
}

// Start brings up the pprof, metrics, and main HTTP servers.
func (s *Server) Start() {
	log.Printf("Starting posture server...")
	log.Printf("  HTTP server: %s", s.cfg.Addr)
	log.Printf("  Metrics server: %s", s.cfg.MetricsAddr)
	log.Printf("  pprof server: %s", s.cfg.PprofAddr)
	log.Printf("  Estimator pool: %d", s.pool.Size())

	go func() {
		log.Printf("Starting pprof server on %s", s.cfg.PprofAddr)
		if err := http.ListenAndServe(s.cfg.PprofAddr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Starting metrics server on %s", s.cfg.MetricsAddr)
		if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Starting HTTP server on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Println("Server started successfully")
}

// handleHealth reports liveness and the headline counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "ok",
		"active_sessions":  s.metrics.ActiveSessions.Load(),
		"frames_processed": s.metrics.FramesProcessed.Load(),
		"exercises":        s.registry.IDs(),
	})
}

// handleExercises lists the loaded exercise ids.
func (s *Server) handleExercises(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"exercises": s.registry.IDs(),
	})
}

// Shutdown stops accepting connections, waits for running sessions, and
// releases the estimator pool.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.transport.Wait()
	if cerr := s.pool.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
