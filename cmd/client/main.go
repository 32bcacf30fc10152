// Command client is a reference client for the posture service: it streams
// JPEG frames from a directory to the server and prints the feedback it gets
// back. Overlay frames can be written out for inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/client"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

var (
	serverURL  = flag.String("url", "ws://localhost:8000/ws/posture", "Server websocket URL")
	token      = flag.String("token", "", "Bearer token")
	exercise   = flag.String("exercise", "squat", "Exercise to evaluate")
	frameDir   = flag.String("frames", "", "Directory of JPEG frames to stream (required)")
	fps        = flag.Int("fps", 10, "Frames per second to send")
	loop       = flag.Bool("loop", false, "Loop over the frame directory forever")
	overlayDir = flag.String("overlay-dir", "", "Write received overlay frames here")
	binary     = flag.Bool("binary", false, "Negotiate binary overlay frames")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
)

// dirSource feeds JPEG files from a directory in name order.
type dirSource struct {
	files []string
	next  int
	loop  bool
}

func newDirSource(dir string, loop bool) (*dirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)
	return &dirSource{files: files, loop: loop}, nil
}

func (s *dirSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		if !s.loop {
			return nil, fmt.Errorf("frame source exhausted")
		}
		s.next = 0
	}
	data, err := os.ReadFile(s.files[s.next])
	s.next++
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	if *frameDir == "" {
		log.Fatal("-frames is required")
	}
	source, err := newDirSource(*frameDir, *loop)
	if err != nil {
		log.Fatalf("Frame source: %v", err)
	}

	overlayCount := 0
	c := client.New(client.Options{
		URL:      *serverURL,
		Token:    *token,
		Exercise: *exercise,
		OnEnvelope: func(env types.FeedbackEnvelope) {
			printEnvelope(env)
			if *overlayDir != "" && env.SkeletonFrame != nil {
				overlayCount++
				writeOverlay(*overlayDir, overlayCount, env.SkeletonFrame)
			}
		},
		OnOverlay: func(frame []byte) {
			if *overlayDir != "" {
				overlayCount++
				writeOverlay(*overlayDir, overlayCount, frame)
			}
		},
		OnStateChange: func(s types.ConnState) {
			logger.Info("Main", "connection state: %s", s)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if *binary {
		if err := c.SendMeta(map[string]any{"binary": true}); err != nil {
			log.Fatalf("Negotiate binary overlays: %v", err)
		}
	}

	interval := time.Duration(0)
	if *fps > 0 {
		interval = time.Second / time.Duration(*fps)
	}
	if err := c.StreamFrames(ctx, source, interval); err != nil && ctx.Err() == nil {
		logger.Warn("Main", "streaming stopped: %v", err)
	}

	// Let the last envelopes drain before tearing down.
	time.Sleep(500 * time.Millisecond)
}

func printEnvelope(env types.FeedbackEnvelope) {
	conf := "-"
	if env.Confidence != nil {
		conf = fmt.Sprintf("%.2f", *env.Confidence)
	}
	fmt.Printf("[%s] status=%s confidence=%s\n", env.Exercise, env.Status, conf)
	for _, line := range env.Feedback {
		fmt.Printf("  - %s\n", line)
	}
}

func writeOverlay(dir string, n int, frame []byte) {
	path := filepath.Join(dir, fmt.Sprintf("overlay_%04d.jpg", n))
	if err := os.WriteFile(path, frame, 0644); err != nil {
		logger.Warn("Main", "write overlay: %v", err)
	}
}
