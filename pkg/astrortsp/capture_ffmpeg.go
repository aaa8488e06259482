package astrortsp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegBackend captures a frame by running ffmpeg against the source and
// reading a single PNG from its stdout.
type FFmpegBackend struct {
	opts Options
}

func NewFFmpegBackend(opts Options) *FFmpegBackend {
	return &FFmpegBackend{opts: opts}
}

// args builds the ffmpeg command line for one capture.
func (b *FFmpegBackend) args(src StreamSource) []string {
	args := []string{"-hide_banner", "-nostdin", "-nostats", "-loglevel", "info"}

	if isRTSP(src.URL) {
		args = append(args, "-rtsp_transport", "tcp")
		if b.opts.Timeout > 0 {
			// microseconds, socket I/O timeout of the rtsp demuxer
			args = append(args, "-timeout", strconv.FormatInt(b.opts.Timeout.Microseconds(), 10))
		}
	}
	if b.opts.InvalidCert && src.Secure() {
		args = append(args, "-tls_verify", "0")
	}

	return append(args,
		"-i", src.URL,
		"-frames:v", "1",
		"-an",
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)
}

// Open starts ffmpeg and returns once it reports the input as opened. If
// ffmpeg exits first, the last stderr line becomes the failure reason.
func (b *FFmpegBackend) Open(ctx context.Context, src StreamSource) (Session, error) {
	cmd := exec.CommandContext(ctx, b.opts.ffmpeg(), b.args(src)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrOpenFailed, err)
	}

	s := &ffmpegSession{
		cmd:     cmd,
		stdout:  stdout,
		tail:    &stderrTail{max: 8},
		opened:  make(chan struct{}),
		scanned: make(chan struct{}),
	}
	go s.scan(stderr)

	select {
	case <-s.opened:
		return s, nil
	case <-s.scanned:
		if s.isOpened() {
			return s, nil
		}
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpenFailed, s.reason(s.waitErr))
	}
}

type ffmpegSession struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	tail   *stderrTail

	opened  chan struct{}
	scanned chan struct{}

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

func (s *ffmpegSession) scan(r io.Reader) {
	defer close(s.scanned)

	sc := bufio.NewScanner(r)
	seen := false
	for sc.Scan() {
		line := sc.Text()
		if !seen && strings.HasPrefix(line, "Input #0") {
			seen = true
			close(s.opened)
		}
		s.tail.add(line)
	}
	// keep the pipe drained even if a line overflowed the scanner
	_, _ = io.Copy(io.Discard, r)
}

func (s *ffmpegSession) isOpened() bool {
	select {
	case <-s.opened:
		return true
	default:
		return false
	}
}

func (s *ffmpegSession) ReadFrame(_ context.Context) (image.Image, error) {
	data, readErr := io.ReadAll(s.stdout)
	<-s.scanned
	waitErr := s.wait()

	if readErr != nil {
		return nil, fmt.Errorf("%w: read ffmpeg output: %v", ErrReadFailed, readErr)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, s.reason(waitErr))
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", ErrReadFailed, err)
	}
	return img, nil
}

// Close stops ffmpeg if it is still running and reaps it.
func (s *ffmpegSession) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_, _ = io.Copy(io.Discard, s.stdout)
		<-s.scanned
		s.wait()
	})
	return nil
}

// wait reaps the process exactly once. Pipes must be drained before.
func (s *ffmpegSession) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *ffmpegSession) reason(waitErr error) string {
	if line := s.tail.last(); line != "" {
		return line
	}
	if waitErr != nil {
		return "ffmpeg error: " + waitErr.Error()
	}
	return "no frame produced"
}

// stderrTail keeps the last lines ffmpeg printed.
type stderrTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *stderrTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *stderrTail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

func isRTSP(url string) bool {
	u := strings.ToLower(url)
	return strings.HasPrefix(u, "rtsp://") || strings.HasPrefix(u, "rtsps://")
}
