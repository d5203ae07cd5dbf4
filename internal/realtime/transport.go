package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrServerClosed = errors.New("server closed the connection")
	ErrSendBuffer   = errors.New("send buffer full")
)

// Frame is the wire envelope for every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// Conn is one established link to the real-time server.
type Conn interface {
	// Send queues f for writing without blocking.
	Send(f Frame) error
	// Frames delivers inbound frames in arrival order and is closed when the
	// link ends.
	Frames() <-chan Frame
	// Err reports why the link ended once Frames is closed.
	Err() error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}
