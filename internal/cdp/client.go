// Package cdp speaks the browser remote-debugging protocol: it launches the
// browser, discovers its endpoint, and correlates commands with replies over
// a single websocket.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
)

// DefaultCommandTimeout is the per-command reply budget.
const DefaultCommandTimeout = 30 * time.Second

type pendingCall struct {
	id          int64
	method      string
	submittedAt time.Time
	done        chan *Message // closed without a value when the connection dies
}

// Client correlates commands with replies and fans events out to listeners.
type Client struct {
	conn    Transport
	timeout time.Duration
	log     *logger.Logger
	metrics *metrics.Collector

	next atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pendingCall
	closed   bool
	closeErr error

	events listeners
	done   chan struct{}
	once   sync.Once
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCommandTimeout overrides the per-command reply budget.
func WithCommandTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l.WithComponent("cdp")
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient takes ownership of conn and starts reading from it.
func NewClient(conn Transport, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultCommandTimeout,
		log:     logger.Nop(),
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c
}

// Call sends method with params and decodes the reply's result into res.
// params may be nil; res may be nil to discard the result.
func (c *Client) Call(ctx context.Context, method string, params, res interface{}) error {
	raw := json.RawMessage("{}")
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		raw = b
	}

	call := &pendingCall{
		id:          c.next.Add(1),
		method:      method,
		submittedAt: time.Now(),
		done:        make(chan *Message, 1),
	}

	c.mu.Lock()
	if c.closed {
		cause := c.closeErr
		c.mu.Unlock()
		return sderrors.NewConnectionClosedError(method, cause)
	}
	c.pending[call.id] = call
	c.mu.Unlock()

	if err := c.conn.Write(&Message{ID: call.id, Method: method, Params: raw}); err != nil {
		c.retire(call.id)
		return sderrors.NewConnectionClosedError(method, err)
	}
	if c.metrics != nil {
		c.metrics.RecordCommand()
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-call.done:
		if !ok {
			c.mu.Lock()
			cause := c.closeErr
			c.mu.Unlock()
			return sderrors.NewConnectionClosedError(method, cause)
		}
		err := c.settle(call, msg, res)
		c.log.CommandEvent(call.id, method, time.Since(call.submittedAt), err)
		return err

	case <-timer.C:
		c.retire(call.id)
		if c.metrics != nil {
			c.metrics.RecordCommandTimeout()
		}
		c.log.WithMethod(method).Warnf("Command %d timed out after %s", call.id, c.timeout)
		return sderrors.NewCommandTimeoutError(method)

	case <-ctx.Done():
		c.retire(call.id)
		return sderrors.NewCancelledError(method, ctx.Err())
	}
}

// Do sends a typed lib/proto request and decodes the reply into res.
func (c *Client) Do(ctx context.Context, req proto.Request, res interface{}) error {
	return c.Call(ctx, req.ProtoReq(), req, res)
}

func (c *Client) settle(call *pendingCall, msg *Message, res interface{}) error {
	if msg.Error != nil {
		if c.metrics != nil {
			c.metrics.RecordProtocolError()
		}
		text := msg.Error.Message
		if msg.Error.Data != "" {
			text += ": " + msg.Error.Data
		}
		return sderrors.NewProtocolError(call.method, msg.Error.Code, text)
	}
	if res == nil || len(msg.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Result, res); err != nil {
		return fmt.Errorf("decode %s result: %w", call.method, err)
	}
	return nil
}

// retire drops a pending entry whose caller has given up.
func (c *Client) retire(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// On subscribes fn to events named method and returns the unsubscribe func.
func (c *Client) On(method string, fn EventHandler) func() {
	return c.events.add(method, fn)
}

// OnAny subscribes fn to every event.
func (c *Client) OnAny(fn EventHandler) func() {
	return c.events.add("", fn)
}

// Pending returns the number of commands awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return sderrors.NewConnectionClosedError("", c.closeErr)
}

// Close closes the socket and rejects every pending command.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(nil)
	return err
}

func (c *Client) readLoop() {
	for {
		msg, err := c.conn.Read()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	if msg.ID != 0 {
		c.mu.Lock()
		call, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
			call.done <- msg
		}
		c.mu.Unlock()
		if ok {
			return
		}
		if msg.Method == "" {
			c.log.Debugf("Dropping reply for unknown id %d", msg.ID)
			return
		}
	}

	if msg.Method == "" {
		c.log.Debug("Dropping message with neither id nor method")
		return
	}

	if c.metrics != nil {
		c.metrics.RecordEvent()
	}
	c.events.emit(&Event{Method: msg.Method, Params: msg.Params})
}

// shutdown marks the client closed and fails everything still pending.
func (c *Client) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		pending := c.pending
		c.pending = make(map[int64]*pendingCall)
		for _, call := range pending {
			close(call.done)
		}
		c.mu.Unlock()

		if cause != nil && len(pending) > 0 {
			c.log.WithError(cause).Warnf("Connection lost with %d commands pending", len(pending))
		}
		close(c.done)
	})
}
