// Package cdptest provides an in-process stand-in for a browser debugging
// endpoint, for use in tests.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PagePath is the websocket path of the single page target.
const PagePath = "/devtools/page/TARGET1"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrorReply is a protocol error returned by a handler.
type ErrorReply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandlerFunc answers one command. Returning a nil result and nil error
// replies with an empty object.
type HandlerFunc func(s *Server, params json.RawMessage) (interface{}, *ErrorReply)

type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  *ErrorReply     `json:"error,omitempty"`
}

// Server fakes /json/list and one page websocket.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	ignored  map[string]bool
	received []string
	conns    []*wsConn

	// NoTargets makes /json/list return an empty array.
	NoTargets bool
}

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *wsConn) write(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(v)
}

// NewServer starts a fake endpoint. Close it with Close.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		ignored:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc(PagePath, s.servePage)
	s.Server = httptest.NewServer(mux)
	return s
}

// WSURL returns the page websocket URL.
func (s *Server) WSURL() string {
	return strings.Replace(s.URL, "http://", "ws://", 1) + PagePath
}

// Handle installs fn for method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// HandleResult replies to method with a fixed result.
func (s *Server) HandleResult(method string, result interface{}) {
	s.Handle(method, func(*Server, json.RawMessage) (interface{}, *ErrorReply) {
		return result, nil
	})
}

// HandleError replies to method with a protocol error.
func (s *Server) HandleError(method string, code int, message string) {
	s.Handle(method, func(*Server, json.RawMessage) (interface{}, *ErrorReply) {
		return nil, &ErrorReply{Code: code, Message: message}
	})
}

// Ignore makes the server swallow method without replying.
func (s *Server) Ignore(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[method] = true
}

// Emit sends an event to every connected client.
func (s *Server) Emit(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	for _, c := range s.liveConns() {
		if err := c.write(frame{Method: method, Params: raw}); err != nil {
			return err
		}
	}
	return nil
}

// Send writes a raw value to every connected client.
func (s *Server) Send(v interface{}) error {
	for _, c := range s.liveConns() {
		if err := c.write(v); err != nil {
			return err
		}
	}
	return nil
}

// liveConns returns the connected clients, giving a just-dialed client a
// moment to be registered by the upgrade handler.
func (s *Server) liveConns() []*wsConn {
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		conns := append([]*wsConn(nil), s.conns...)
		s.mu.Unlock()
		if len(conns) > 0 || time.Now().After(deadline) {
			return conns
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Received returns the command methods seen so far, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// DropConnections closes every client socket abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.NoTargets {
		w.Write([]byte("[]"))
		return
	}
	json.NewEncoder(w).Encode([]map[string]string{
		{"id": "WORKER1", "type": "service_worker", "url": "https://example.com/sw.js"},
		{
			"id":                   "TARGET1",
			"type":                 "page",
			"title":                "about:blank",
			"url":                  "about:blank",
			"webSocketDebuggerUrl": s.WSURL(),
		},
	})
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	defer ws.Close()

	for {
		var req frame
		if err := ws.ReadJSON(&req); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, req.Method)
		fn := s.handlers[req.Method]
		ignored := s.ignored[req.Method]
		s.mu.Unlock()

		if ignored {
			continue
		}

		reply := frame{ID: req.ID, Result: struct{}{}}
		if fn != nil {
			result, errReply := fn(s, req.Params)
			if errReply != nil {
				reply = frame{ID: req.ID, Error: errReply}
			} else if result != nil {
				reply.Result = result
			}
		}
		if err := c.write(reply); err != nil {
			return
		}
	}
}
