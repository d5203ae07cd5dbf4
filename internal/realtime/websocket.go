package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// wsConnection is the subset of *websocket.Conn used by the pumps.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type WebsocketTransport struct {
	log    *log.Logger
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketTransport(logger *log.Logger, socketURL string) *WebsocketTransport {
	return &WebsocketTransport{
		log: logger,
		url: socketURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		},
	}
}

// Dial opens the socket, presenting credential as a bearer token on the
// handshake.
func (t *WebsocketTransport) Dial(ctx context.Context, credential string) (Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	ws, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}

	c := newWsConn(t.log, ws)
	go c.write()
	go c.read()
	return c, nil
}

type wsConn struct {
	conn   wsConnection
	log    *log.Logger
	send   chan Frame
	frames chan Frame
	stop   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func newWsConn(logger *log.Logger, conn wsConnection) *wsConn {
	return &wsConn{
		conn:   conn,
		log:    logger,
		send:   make(chan Frame, sendBufferSize),
		frames: make(chan Frame),
		stop:   make(chan struct{}),
	}
}

func (c *wsConn) Send(f Frame) error {
	select {
	case <-c.stop:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.stop:
		return ErrConnClosed
	default:
		c.log.Println("failed to queue frame, send buffer is full")
		return ErrSendBuffer
	}
}

func (c *wsConn) Frames() <-chan Frame {
	return c.frames
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.setErr(ErrConnClosed)
	c.stopConn()
	return nil
}

func (c *wsConn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) stopConn() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *wsConn) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			raw, err := json.Marshal(f)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, raw) {
				c.stopConn()
				return
			}
		case <-c.stop:
			c.writeMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				c.stopConn()
				return
			}
		}
	}
}

func (c *wsConn) read() {
	defer func() {
		c.stopConn()
		c.conn.Close()
		close(c.frames)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(classifyReadError(err))
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Println("error parsing frame:", err)
			continue
		}

		select {
		case c.frames <- f:
		case <-c.stop:
			return
		}
	}
}

func (c *wsConn) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.log.Printf("write message: %v", err)
		}
		c.setErr(fmt.Errorf("write: %w", err))
		return false
	}

	return true
}

// classifyReadError separates a server-initiated close from a lost link.
func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseServiceRestart:
			return ErrServerClosed
		}
	}
	return fmt.Errorf("read: %w", err)
}
