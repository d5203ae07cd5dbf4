package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

const DefaultFrameSize = 4096

// ReaderMicrophone captures fixed-size frames from a reader such as a pipe
// from an audio recorder. Only one capture may be open at a time.
type ReaderMicrophone struct {
	r         io.Reader
	frameSize int
	interval  time.Duration

	mu   sync.Mutex
	busy bool
}

// NewReaderMicrophone reads frameSize byte frames from r. A positive
// interval paces delivery to one frame per interval.
func NewReaderMicrophone(r io.Reader, frameSize int, interval time.Duration) *ReaderMicrophone {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &ReaderMicrophone{r: r, frameSize: frameSize, interval: interval}
}

func (m *ReaderMicrophone) Open(ctx context.Context) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.r == nil {
		return nil, ErrMicrophoneUnavailable
	}
	if m.busy {
		return nil, ErrMicrophoneBusy
	}
	m.busy = true

	c := &readerCapture{
		mic:    m,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go c.read(ctx)
	return c, nil
}

func (m *ReaderMicrophone) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

type readerCapture struct {
	mic    *ReaderMicrophone
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *readerCapture) Frames() <-chan []byte {
	return c.frames
}

func (c *readerCapture) read(ctx context.Context) {
	defer close(c.frames)

	var tick <-chan time.Time
	if c.mic.interval > 0 {
		t := time.NewTicker(c.mic.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		buf := make([]byte, c.mic.frameSize)
		n, err := io.ReadFull(c.mic.r, buf)
		if n > 0 {
			if tick != nil {
				select {
				case <-tick:
				case <-c.done:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case c.frames <- buf[:n]:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close ends the capture. A reader that is also an io.Closer is closed so
// a blocked read returns.
func (c *readerCapture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if closer, ok := c.mic.r.(io.Closer); ok {
			err = closer.Close()
			if errors.Is(err, io.ErrClosedPipe) {
				err = nil
			}
		}
		c.mic.release()
	})
	return err
}

// WriterRenderer plays every remote stream into one writer, such as a pipe
// to an audio player, and counts frames per participant.
type WriterRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	frames map[string]int
}

func NewWriterRenderer(w io.Writer) *WriterRenderer {
	if w == nil {
		w = io.Discard
	}
	return &WriterRenderer{w: w, frames: make(map[string]int)}
}

func (r *WriterRenderer) Render(userId string, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[userId]++
	// playback errors only affect local output
	_, _ = r.w.Write(frame)
}

func (r *WriterRenderer) Forget(userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, userId)
}

func (r *WriterRenderer) Frames(userId string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[userId]
}
