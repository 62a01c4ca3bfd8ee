package camnode

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/monitoring"
)

// ErrWriterClosed is returned (or silently ignored on the shutdown path,
// per spec.md §7) when a frame is sent to a RecordingWriter whose
// underlying file has already been finalized.
var ErrWriterClosed = errors.New("camnode: recording writer closed")

// RecordingWriter accepts acquired frames for local recording. Container
// muxing (MP4/FMF/uFMF) is out of scope; implementations here model the
// queueing and backpressure discipline spec.md requires, writing raw
// frame bytes to whatever io.Writer they are given.
type RecordingWriter interface {
	WriteFrame(f Frame) error
	Close() error
}

// NoopRecordingWriter discards every frame, used when a camera node has
// recording disabled.
type NoopRecordingWriter struct{}

func (NoopRecordingWriter) WriteFrame(Frame) error { return nil }
func (NoopRecordingWriter) Close() error            { return nil }

// BoundedRecordingWriter writes frames to out on a background goroutine
// via a bounded channel (default depth 100); a full channel drops the
// frame rather than blocking the acquisition loop, and a configured
// MaxFramerateHz throttles how often frames are actually written.
type BoundedRecordingWriter struct {
	out   io.WriteCloser
	clock interface{ Now() time.Time }

	minInterval time.Duration
	lastWrite   time.Time

	frames chan Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

const recordingQueueDepth = 100

// NewBoundedRecordingWriter starts a writer goroutine over out, throttled
// to maxFramerateHz (0 = unthrottled).
func NewBoundedRecordingWriter(out io.WriteCloser, maxFramerateHz float64, clock interface{ Now() time.Time }) *BoundedRecordingWriter {
	var minInterval time.Duration
	if maxFramerateHz > 0 {
		minInterval = time.Duration(float64(time.Second) / maxFramerateHz)
	}
	w := &BoundedRecordingWriter{
		out:         out,
		clock:       clock,
		minInterval: minInterval,
		frames:      make(chan Frame, recordingQueueDepth),
		done:        make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *BoundedRecordingWriter) run() {
	defer close(w.done)
	for f := range w.frames {
		if _, err := w.out.Write(f.Pixels); err != nil {
			monitoring.Logf("camnode: recording write failed: %v", err)
		}
	}
}

// WriteFrame enqueues f for writing, dropping it (never blocking) if the
// queue is full or the throttle window hasn't elapsed.
func (w *BoundedRecordingWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	now := w.clock.Now()
	if w.minInterval > 0 && !w.lastWrite.IsZero() && now.Sub(w.lastWrite) < w.minInterval {
		w.mu.Unlock()
		return nil
	}
	w.lastWrite = now
	w.mu.Unlock()

	select {
	case w.frames <- f:
	default:
		monitoring.Logf("camnode: recording queue full, dropping frame %d", f.FrameNumber)
	}
	return nil
}

// Close stops accepting frames, drains the queue, and closes out.
func (w *BoundedRecordingWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.frames)
	<-w.done
	return w.out.Close()
}
