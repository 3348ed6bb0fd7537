// Package fakebackend is an in-process stand-in for the remote execution
// backend. It serves the run endpoint and a Socket.IO websocket endpoint
// (Engine.IO v4 framing) so clients can be exercised end to end in tests.
package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SocketPath is where the websocket endpoint is mounted.
const SocketPath = "/ws/socket.io/"

// Reply describes how the run endpoint answers one call.
type Reply struct {
	Status int    // defaults to 200
	Body   string // raw body; used verbatim when non-empty
	UUID   string
	Output string
	Error  string
}

// RunFunc decides the reply for a run call.
type RunFunc func(lang, code string) Reply

// Received is an event emitted by a client.
type Received struct {
	Event string
	Args  []json.RawMessage
}

// String decodes argument i as a JSON string, or returns "".
func (r Received) String(i int) string {
	if i >= len(r.Args) {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Args[i], &s); err != nil {
		return ""
	}
	return s
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Server is a fake backend listening on a local httptest server.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	run      RunFunc
	runs     int
	codes    []string
	conns    map[*wsConn]struct{}
	accepted int

	received  chan Received
	connected chan struct{}
}

// New starts a fake backend. Run calls answer with a fresh uuid by default.
func New() *Server {
	s := &Server{
		conns:     make(map[*wsConn]struct{}),
		received:  make(chan Received, 1024),
		connected: make(chan struct{}, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.handleRun)
	mux.HandleFunc(SocketPath, s.handleSocket)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the http:// base URL of the backend.
func (s *Server) URL() string {
	return s.srv.URL
}

// OnRun replaces the run endpoint behavior.
func (s *Server) OnRun(fn RunFunc) {
	s.mu.Lock()
	s.run = fn
	s.mu.Unlock()
}

// Codes returns every code body received by the run endpoint, in order.
func (s *Server) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/")
	lang, rest, ok := strings.Cut(path, "/")
	if !ok || rest != "run" {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.runs++
	n := s.runs
	s.codes = append(s.codes, req.Code)
	run := s.run
	s.mu.Unlock()

	reply := Reply{UUID: fmt.Sprintf("exec-%d", n)}
	if run != nil {
		reply = run(lang, req.Code)
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}

	body := reply.Body
	if body == "" {
		var data []byte
		if reply.UUID != "" {
			data, _ = json.Marshal(map[string]string{"uuid": reply.UUID})
		} else {
			data, _ = json.Marshal(map[string]string{"output": reply.Output, "error": reply.Error})
		}
		body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}

	s.mu.Lock()
	s.accepted++
	sid := fmt.Sprintf("sid-%d", s.accepted)
	s.mu.Unlock()

	open := fmt.Sprintf(`0{"sid":%q,"upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`, sid)
	if err := c.write(open); err != nil {
		conn.Close()
		return
	}

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame := string(data)

		switch {
		case frame == "3":
		case frame == "1" || strings.HasPrefix(frame, "41"):
			return
		case strings.HasPrefix(frame, "40"):
			// Register before acking so Emit reaches a client that has
			// just seen its connect acknowledged.
			s.mu.Lock()
			s.conns[c] = struct{}{}
			s.mu.Unlock()
			if err := c.write(fmt.Sprintf(`40{"sid":"socket-%s"}`, sid)); err != nil {
				return
			}
			select {
			case s.connected <- struct{}{}:
			default:
			}
		case strings.HasPrefix(frame, "42"):
			if ev, ok := parseEvent(frame[2:]); ok {
				select {
				case s.received <- ev:
				default:
				}
			}
		}
	}
}

func parseEvent(payload string) (Received, bool) {
	if strings.HasPrefix(payload, "/") {
		_, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return Received{}, false
		}
		payload = rest
	}
	payload = strings.TrimLeft(payload, "0123456789")

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil || len(raw) == 0 {
		return Received{}, false
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return Received{}, false
	}
	return Received{Event: name, Args: raw[1:]}, true
}

// Emit sends an event to every connected client.
func (s *Server) Emit(event string, args ...any) error {
	data, err := json.Marshal(append([]any{event}, args...))
	if err != nil {
		return err
	}
	frame := "42" + string(data)

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.write(frame); err != nil {
			return err
		}
	}
	return nil
}

// WaitEvent returns the next event emitted by a client.
func (s *Server) WaitEvent(timeout time.Duration) (Received, bool) {
	select {
	case ev := <-s.received:
		return ev, true
	case <-time.After(timeout):
		return Received{}, false
	}
}

// WaitConnected blocks until a client completes the Socket.IO handshake.
func (s *Server) WaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Connections returns the number of handshaken clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every websocket, simulating transport loss.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
}

// Close shuts down the backend.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}
