package pose

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerDetector runs landmark detection in an external process. Frames go to the worker's
// stdin and answers come back on stdout, both as length-prefixed MessagePack messages.
type WorkerDetector struct {
	cfg    Config
	logger *log.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu sync.Mutex
	results chan frameResponse
	closing chan struct{}
	done    chan struct{} // closed when the stdout reader stops
	exited  chan struct{} // closed once the process is reaped

	closeOnce sync.Once

	framesSent     atomic.Uint64
	framesDetected atomic.Uint64
}

func newWorkerDetector(cfg Config, opts ...Option) *WorkerDetector {
	w := &WorkerDetector{
		cfg:     cfg.withDefaults(),
		logger:  log.New(log.Writer(), "[pose] ", log.LstdFlags|log.Lshortfile),
		results: make(chan frameResponse, 4),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WorkerDetector) start(ctx context.Context, path string) error {
	args := append([]string{
		"--min-detection-confidence", strconv.FormatFloat(w.cfg.MinDetectionConfidence, 'f', 2, 64),
		"--min-tracking-confidence", strconv.FormatFloat(w.cfg.MinTrackingConfidence, 'f', 2, 64),
	}, w.cfg.Args...)

	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	w.cmd = cmd
	w.exited = make(chan struct{})
	w.logger.Printf("worker started (pid=%d, command=%s)", cmd.Process.Pid, path)

	stderrDone := make(chan struct{})
	go w.relayStderr(stderr, stderrDone)
	w.attach(stdin, stdout)
	go w.waitProcess(stderrDone)
	return nil
}

// attach wires the message streams and starts the result reader.
func (w *WorkerDetector) attach(stdin io.WriteCloser, stdout io.Reader) {
	w.stdin = stdin
	w.stdout = stdout
	go w.readResults()
}

// Detect sends img to the worker and waits for its landmarks.
func (w *WorkerDetector) Detect(ctx context.Context, seq int, img image.Image) (Result, error) {
	select {
	case <-w.done:
		return NotDetected, ErrDetectorClosed
	default:
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: w.cfg.JPEGQuality}); err != nil {
		return NotDetected, fmt.Errorf("encode frame %d: %w", seq, err)
	}
	bounds := img.Bounds()
	req := frameRequest{
		Seq:       seq,
		FrameData: buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}

	timer := time.NewTimer(w.cfg.FrameTimeout)
	defer timer.Stop()

	if err := w.send(ctx, req, timer.C); err != nil {
		return NotDetected, err
	}
	w.framesSent.Add(1)

	for {
		select {
		case resp := <-w.results:
			if resp.Seq != seq {
				// Late answer for a frame that already timed out.
				continue
			}
			if resp.Error != "" {
				return NotDetected, fmt.Errorf("worker failed frame %d: %s", seq, resp.Error)
			}
			if !resp.Detected {
				return NotDetected, nil
			}
			result := gate(resp.Landmarks, w.cfg.MinDetectionConfidence)
			if result.Detected {
				w.framesDetected.Add(1)
			}
			return result, nil
		case <-w.done:
			return NotDetected, ErrDetectorClosed
		case <-timer.C:
			return NotDetected, fmt.Errorf("frame %d: no answer within %s", seq, w.cfg.FrameTimeout)
		case <-ctx.Done():
			return NotDetected, ctx.Err()
		}
	}
}

func (w *WorkerDetector) send(ctx context.Context, req frameRequest, timeout <-chan time.Time) error {
	writeErr := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		writeErr <- writeMessage(w.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return ErrDetectorClosed
			}
			return fmt.Errorf("send frame %d: %w", req.Seq, err)
		}
		return nil
	case <-w.done:
		return ErrDetectorClosed
	case <-timeout:
		return fmt.Errorf("send frame %d: write timed out, worker may be hung", req.Seq)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WorkerDetector) readResults() {
	defer close(w.done)

	for {
		var resp frameResponse
		if err := readMessage(w.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			w.logger.Printf("read error: %v", err)
			return
		}

		select {
		case w.results <- resp:
		case <-w.closing:
			return
		}
	}
}

func (w *WorkerDetector) relayStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.logger.Printf("worker: %s", scanner.Text())
	}
}

func (w *WorkerDetector) waitProcess(stderrDone <-chan struct{}) {
	defer close(w.exited)
	<-w.done
	<-stderrDone
	if err := w.cmd.Wait(); err != nil {
		select {
		case <-w.closing:
		default:
			w.logger.Printf("worker exited unexpectedly: %v", err)
		}
	}
}

// Close stops the worker. It is safe to call more than once.
func (w *WorkerDetector) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closing)
		if w.stdin != nil {
			err = w.stdin.Close()
		}
		w.logger.Printf("worker closing (frames_sent=%d, frames_detected=%d)", w.framesSent.Load(), w.framesDetected.Load())

		if w.cmd == nil {
			return
		}
		select {
		case <-w.exited:
		case <-time.After(2 * time.Second):
			w.logger.Printf("worker did not exit in time, killing pid %d", w.cmd.Process.Pid)
			_ = w.cmd.Process.Kill()
			<-w.exited
		}
	})
	return err
}
