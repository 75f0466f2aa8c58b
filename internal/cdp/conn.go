package cdp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
)

// Socket buffer sizes. Screenshots and outer HTML of large pages arrive as a
// single frame, so the read side is generous.
var (
	DefaultReadBufferSize  = 25 * 1024 * 1024
	DefaultWriteBufferSize = 1 * 1024 * 1024
)

// DefaultConnectTimeout bounds the websocket handshake.
const DefaultConnectTimeout = 10 * time.Second

// Message is a single protocol frame. Requests carry ID, Method and Params;
// responses carry ID and Result or Error; events carry Method and Params.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *MessageError   `json:"error,omitempty"`
}

// MessageError is the error member of a response.
type MessageError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Transport is the duplex message stream the client runs over.
type Transport interface {
	Read() (*Message, error)
	Write(*Message) error
	io.Closer
}

// Conn wraps a gorilla/websocket connection. Writes are serialized since
// gorilla allows at most one concurrent writer.
type Conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

// Read reads the next message.
func (c *Conn) Read() (*Message, error) {
	msg := new(Message)
	if err := c.ws.ReadJSON(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Write writes a message.
func (c *Conn) Write(msg *Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// Dial opens the websocket at wsURL. The handshake races a timer; whichever
// finishes first decides the outcome and a late connection is closed.
func Dial(ctx context.Context, wsURL string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &websocket.Dialer{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
	}

	done := make(chan dialResult, 1)
	go func() {
		conn, _, err := d.DialContext(dialCtx, wsURL, nil)
		done <- dialResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, sderrors.NewNetworkError(wsURL, res.err)
		}
		res.conn.SetReadLimit(int64(DefaultReadBufferSize) * 4)
		return &Conn{ws: res.conn}, nil
	case <-timer.C:
		cancel()
		go discardLate(done)
		return nil, sderrors.NewConnectTimeoutError(wsURL, nil)
	case <-ctx.Done():
		go discardLate(done)
		return nil, sderrors.NewCancelledError("dial", ctx.Err())
	}
}

func discardLate(done <-chan dialResult) {
	if res := <-done; res.conn != nil {
		res.conn.Close()
	}
}
