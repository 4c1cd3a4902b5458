package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// startupGrace is how long a freshly spawned ffmpeg gets to fail fast (bad
// device, missing backend) before the session is handed to the caller.
const startupGrace = 250 * time.Millisecond

// FFmpeg captures microphone audio by spawning an ffmpeg process that writes
// f32le PCM to stdout. It requires an ffmpeg binary on the host but works
// against every capture backend ffmpeg supports.
type FFmpeg struct {
	command string
}

var _ Source = (*FFmpeg)(nil)

// NewFFmpeg creates a source using the given ffmpeg binary; empty selects
// "ffmpeg" from PATH.
func NewFFmpeg(command string) *FFmpeg {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpeg{command: command}
}

// Start implements Source.
func (f *FFmpeg) Start(ctx context.Context, cfg Config) (Session, error) {
	cfg.applyDefaults()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.Format,
		"-i", cfg.Device,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, f.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Device errors surface within the grace period rather than as a
	// confusing EOF on the first read.
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("capture: ffmpeg exited before capture started: %w: %s",
				err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("capture: ffmpeg exited before capture started")
	case <-time.After(startupGrace):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// Read implements Session.
func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop implements Session: interrupt ffmpeg, escalate to kill after a grace
// period, and fold captured stderr into any failure.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeStopErr drops the non-zero exit status ffmpeg reports when it is
// interrupted on purpose.
func normalizeStopErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
