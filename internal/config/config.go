// Package config holds the runtime configuration surface for the posture
// server. Values come from environment variables; cmd/server flags override
// them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines the runtime configuration for the posture pipeline.
type Config struct {
	Addr        string // websocket + API listen address
	MetricsAddr string // prometheus listen address
	PprofAddr   string // pprof listen address

	MinDetectionConfidence float64 // cold-detection landmark confidence floor
	MinTrackingConfidence  float64 // tracking-mode landmark confidence floor
	TargetFPS              int     // 0 disables inter-frame pacing
	MaxFrameWidth          int     // downscale frames wider than this before processing
	SkeletonEnabled        bool    // default per-session skeleton overlay setting
	Verbose                bool    // default per-session verbose setting

	IdleTimeout   time.Duration // server closes connections idle this long
	EstimatorPool int           // shared estimator instances
	SidecarCmd    string        // external estimator command, empty = none
	AuthToken     string        // static bearer token accepted at upgrade
	JWTSecret     string        // HS256 secret for JWT bearer tokens
	RuleSetPath   string        // optional rule table override, empty = embedded tables
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:                   ":8000",
		MetricsAddr:            ":9090",
		PprofAddr:              ":6060",
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
		TargetFPS:              0,
		MaxFrameWidth:          640,
		SkeletonEnabled:        true,
		Verbose:                false,
		IdleTimeout:            60 * time.Second,
		EstimatorPool:          2,
	}
}

// FromEnv returns Default overlaid with any POSTURE_* environment variables.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.Addr, err = envString("POSTURE_ADDR", cfg.Addr); err != nil {
		return cfg, err
	}
	if cfg.MetricsAddr, err = envString("POSTURE_METRICS_ADDR", cfg.MetricsAddr); err != nil {
		return cfg, err
	}
	if cfg.PprofAddr, err = envString("POSTURE_PPROF_ADDR", cfg.PprofAddr); err != nil {
		return cfg, err
	}
	if cfg.MinDetectionConfidence, err = envUnitFloat("POSTURE_MIN_DETECTION_CONFIDENCE", cfg.MinDetectionConfidence); err != nil {
		return cfg, err
	}
	if cfg.MinTrackingConfidence, err = envUnitFloat("POSTURE_MIN_TRACKING_CONFIDENCE", cfg.MinTrackingConfidence); err != nil {
		return cfg, err
	}
	if cfg.TargetFPS, err = envInt("POSTURE_TARGET_FPS", cfg.TargetFPS); err != nil {
		return cfg, err
	}
	if cfg.MaxFrameWidth, err = envInt("POSTURE_MAX_FRAME_WIDTH", cfg.MaxFrameWidth); err != nil {
		return cfg, err
	}
	if cfg.SkeletonEnabled, err = envBool("POSTURE_SKELETON", cfg.SkeletonEnabled); err != nil {
		return cfg, err
	}
	if cfg.Verbose, err = envBool("POSTURE_VERBOSE", cfg.Verbose); err != nil {
		return cfg, err
	}
	if cfg.IdleTimeout, err = envDuration("POSTURE_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return cfg, err
	}
	if cfg.EstimatorPool, err = envInt("POSTURE_ESTIMATOR_POOL", cfg.EstimatorPool); err != nil {
		return cfg, err
	}
	if cfg.SidecarCmd, err = envString("POSTURE_SIDECAR_CMD", cfg.SidecarCmd); err != nil {
		return cfg, err
	}
	if cfg.AuthToken, err = envString("POSTURE_AUTH_TOKEN", cfg.AuthToken); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = envString("POSTURE_JWT_SECRET", cfg.JWTSecret); err != nil {
		return cfg, err
	}
	if cfg.RuleSetPath, err = envString("POSTURE_RULESET_PATH", cfg.RuleSetPath); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects values outside the documented ranges.
func (c Config) Validate() error {
	if c.MinDetectionConfidence < 0 || c.MinDetectionConfidence > 1 {
		return fmt.Errorf("min detection confidence %v out of [0,1]", c.MinDetectionConfidence)
	}
	if c.MinTrackingConfidence < 0 || c.MinTrackingConfidence > 1 {
		return fmt.Errorf("min tracking confidence %v out of [0,1]", c.MinTrackingConfidence)
	}
	if c.TargetFPS < 0 {
		return fmt.Errorf("target fps %d must not be negative", c.TargetFPS)
	}
	if c.MaxFrameWidth < 0 {
		return fmt.Errorf("max frame width %d must not be negative", c.MaxFrameWidth)
	}
	if c.EstimatorPool < 1 {
		return fmt.Errorf("estimator pool size %d must be at least 1", c.EstimatorPool)
	}
	if c.SidecarCmd != "" && len(strings.Fields(c.SidecarCmd)) == 0 {
		return fmt.Errorf("sidecar command %q contains no executable", c.SidecarCmd)
	}
	return nil
}

// MinFrameInterval converts TargetFPS into the minimum spacing between
// accepted frames. Zero means pacing is disabled.
func (c Config) MinFrameInterval() time.Duration {
	if c.TargetFPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.TargetFPS)
}

func envString(key, fallback string) (string, error) {
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return fallback, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envUnitFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
