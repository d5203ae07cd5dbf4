package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// FakeTransport is an in-memory Transport for tests. Each successful Dial
// creates a FakeConn that records what the manager sends.
type FakeTransport struct {
	mu       sync.Mutex
	conns    []*FakeConn
	dials    int
	failures int
	dialed   chan *FakeConn
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		dialed: make(chan *FakeConn, 64),
	}
}

// FailNext makes the next n dials fail.
func (t *FakeTransport) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *FakeTransport) Dial(ctx context.Context, credential string) (Conn, error) {
	t.mu.Lock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		t.mu.Unlock()
		return nil, errors.New("dial refused")
	}

	c := &FakeConn{
		Credential: credential,
		frames:     make(chan Frame, 64),
	}
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	t.dialed <- c
	return c, nil
}

func (t *FakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *FakeTransport) Conns() []*FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FakeConn, len(t.conns))
	copy(out, t.conns)
	return out
}

// Dialed delivers every connection as it is established.
func (t *FakeTransport) Dialed() <-chan *FakeConn {
	return t.dialed
}

// Sent returns every frame sent over any connection, in order.
func (t *FakeTransport) Sent() []Frame {
	var out []Frame
	for _, c := range t.Conns() {
		out = append(out, c.Sent()...)
	}
	return out
}

type FakeConn struct {
	Credential string

	mu     sync.Mutex
	sent   []Frame
	frames chan Frame
	closed bool
	err    error
}

func (c *FakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *FakeConn) Frames() <-chan Frame {
	return c.frames
}

func (c *FakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FakeConn) Close() error {
	c.end(ErrConnClosed)
	return nil
}

// Drop ends the connection as if the server had closed it.
func (c *FakeConn) Drop() {
	c.end(ErrServerClosed)
}

func (c *FakeConn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
}

// Push delivers an inbound event named event with data encoded as JSON.
func (c *FakeConn) Push(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.frames <- Frame{Event: event, Data: raw}
	return nil
}

func (c *FakeConn) Sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentEvents returns the names of the frames sent, in order.
func (c *FakeConn) SentEvents() []string {
	var out []string
	for _, f := range c.Sent() {
		out = append(out, f.Event)
	}
	return out
}
