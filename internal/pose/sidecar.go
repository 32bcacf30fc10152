package pose

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

const (
	// sidecarMaxLine bounds one response line (33 landmarks is small; the
	// margin covers error payloads).
	sidecarMaxLine = 1 << 20
	// sidecarStopGrace is how long Close waits before killing the process.
	sidecarStopGrace = 2 * time.Second
)

// sidecarRequest is one frame sent to the inference process. Image bytes
// are JPEG, base64-encoded by the JSON marshaller.
type sidecarRequest struct {
	ID    uint64 `json:"id"`
	Mode  string `json:"mode"`
	Image []byte `json:"image"`
}

// sidecarResponse is one inference result line.
type sidecarResponse struct {
	ID        uint64           `json:"id"`
	NoPose    bool             `json:"no_pose"`
	Landmarks []types.Landmark `json:"landmarks"`
	Error     string           `json:"error"`
}

// Sidecar runs the opaque pose model in an external process and exchanges
// newline-delimited JSON over stdin/stdout. One request is in flight at a
// time; the pool provides concurrency by holding several sidecars.
type Sidecar struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	exited chan struct{}

	mu     sync.Mutex // serializes Detect calls
	nextID uint64
	closed bool
}

// StartSidecar launches the estimator process. minDetect/minTrack are
// forwarded so the model applies the same confidence configuration.
func StartSidecar(command string, args []string, minDetect, minTrack float64) (*Sidecar, error) {
	full := append(append([]string(nil), args...),
		fmt.Sprintf("--min-detection-confidence=%g", minDetect),
		fmt.Sprintf("--min-tracking-confidence=%g", minTrack),
	)
	cmd := exec.Command(command, full...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sidecar %q: %w", command, err)
	}
	logger.Info("Sidecar", "estimator process started (pid=%d, cmd=%s)", cmd.Process.Pid, command)

	s := &Sidecar{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, 4),
		exited: make(chan struct{}),
	}
	go s.readResults(stdout)
	go s.logStderr(stderr)
	go s.waitProcess()

	return s, nil
}

// readResults forwards stdout lines to the response channel.
func (s *Sidecar) readResults(stdout io.Reader) {
	defer close(s.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), sidecarMaxLine)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		s.lines <- line
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Sidecar", "stdout read error: %v", err)
	}
}

// logStderr relays the process's stderr into the server log.
func (s *Sidecar) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("Sidecar", "stderr: %s", scanner.Text())
	}
}

// waitProcess reaps the child so it never zombies.
func (s *Sidecar) waitProcess() {
	err := s.cmd.Wait()
	close(s.exited)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if err != nil && !closed {
		logger.Error("Sidecar", "estimator process exited unexpectedly: %v", err)
	} else {
		logger.Debug("Sidecar", "estimator process exited")
	}
}

// Detect implements Estimator.
func (s *Sidecar) Detect(ctx context.Context, img image.Image, mode Mode) (types.LandmarkSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrEstimatorClosed
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame for sidecar: %w", err)
	}

	s.nextID++
	req := sidecarRequest{ID: s.nextID, Mode: mode.String(), Image: buf.Bytes()}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sidecar request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := s.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write to sidecar: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return nil, fmt.Errorf("sidecar closed its output")
			}
			var resp sidecarResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				logger.Warn("Sidecar", "unparseable response line: %v", err)
				continue
			}
			if resp.ID != req.ID {
				// Stale answer for a request a previous caller
				// abandoned on cancellation.
				continue
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("sidecar inference: %s", resp.Error)
			}
			if resp.NoPose {
				return nil, nil
			}
			return types.LandmarkSet(resp.Landmarks), nil
		}
	}
}

// Close implements Estimator. It closes stdin to let the process drain,
// then kills it after a grace period.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()

	select {
	case <-s.exited:
	case <-time.After(sidecarStopGrace):
		logger.Warn("Sidecar", "estimator process did not exit, killing")
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	return nil
}
