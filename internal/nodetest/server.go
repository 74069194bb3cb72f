// Package nodetest runs an in-process stand-in for a discodo node: a gin
// router with the node's websocket endpoint and REST surface, scriptable from
// tests.
package nodetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dkeye/discodo/gateway"
)

const Password = "hellodiscodo"

// RESTCall is one recorded REST request.
type RESTCall struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   json.RawMessage
}

type restResponse struct {
	status int
	body   any
}

// Server is one fake node. On websocket connect it sends HELLO and
// acknowledges heartbeats; everything else the test scripts through OnOp and
// Send.
type Server struct {
	ts       *httptest.Server
	password string

	// HeartbeatInterval goes out in HELLO, in seconds.
	HeartbeatInterval float64
	// DropACKs suppresses HEARTBEAT_ACK replies when set before connect.
	DropACKs bool
	// OnOp, when set, sees every inbound frame after the recorder.
	OnOp func(op string, d json.RawMessage)

	mu      sync.Mutex
	ws      *websocket.Conn
	inbound chan gateway.Payload

	restMu    sync.Mutex
	responses map[string]restResponse
	restCalls chan RESTCall
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		password:          Password,
		HeartbeatInterval: 30,
		inbound:           make(chan gateway.Payload, 64),
		responses:         make(map[string]restResponse),
		restCalls:         make(chan RESTCall, 64),
	}

	r := gin.New()
	r.GET("/ws", s.handleWS)
	r.NoRoute(s.handleREST)

	s.ts = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
	s.ts.Close()
}

func (s *Server) Host() string {
	u, _ := url.Parse(s.ts.URL)
	return u.Hostname()
}

func (s *Server) Port() int {
	u, _ := url.Parse(s.ts.URL)
	p, _ := strconv.Atoi(u.Port())
	return p
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(c *gin.Context) {
	if c.GetHeader("Authorization") != s.password {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	s.send(gateway.OpHello, map[string]any{"heartbeat_interval": s.HeartbeatInterval})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var p gateway.Payload
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		if p.Op == gateway.OpHeartbeat {
			if !s.DropACKs {
				s.send(gateway.OpHeartbeatACK, json.RawMessage(p.D))
			}
			continue
		}
		s.inbound <- p
		if s.OnOp != nil {
			s.OnOp(p.Op, p.D)
		}
	}
}

// Send pushes one frame to the connected client.
func (s *Server) Send(t testing.TB, op string, d any) {
	t.Helper()
	if err := s.send(op, d); err != nil {
		t.Fatalf("send %s: %v", op, err)
	}
}

func (s *Server) send(op string, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return websocket.ErrCloseSent
	}
	return s.ws.WriteJSON(gateway.Payload{Op: op, D: raw})
}

// CloseWS drops the websocket without touching the HTTP server, simulating a
// node falling over mid-session.
func (s *Server) CloseWS() {
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// Expect blocks until a frame with the given op arrives, skipping frames with
// other ops, and fails the test on timeout.
func (s *Server) Expect(t testing.TB, op string, timeout time.Duration) gateway.Payload {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case p := <-s.inbound:
			if p.Op == op {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", op)
			return gateway.Payload{}
		}
	}
}

// ExpectNone asserts no frame with the given op arrives within the window.
func (s *Server) ExpectNone(t testing.TB, op string, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case p := <-s.inbound:
			if p.Op == op {
				t.Fatalf("unexpected %s frame", op)
			}
		case <-deadline:
			return
		}
	}
}

// Respond scripts the REST answer for "METHOD /path".
func (s *Server) Respond(method, path string, status int, body any) {
	s.restMu.Lock()
	defer s.restMu.Unlock()
	s.responses[method+" "+path] = restResponse{status: status, body: body}
}

// LastRESTCall pops the next recorded REST request, failing on timeout.
func (s *Server) LastRESTCall(t testing.TB, timeout time.Duration) RESTCall {
	t.Helper()
	select {
	case call := <-s.restCalls:
		return call
	case <-time.After(timeout):
		t.Fatal("timed out waiting for REST call")
		return RESTCall{}
	}
}

func (s *Server) handleREST(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	s.restCalls <- RESTCall{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.Request.Header.Clone(),
		Query:  c.Request.URL.Query(),
		Body:   body,
	}

	s.restMu.Lock()
	resp, ok := s.responses[c.Request.Method+" "+c.Request.URL.Path]
	s.restMu.Unlock()
	if !ok {
		resp = restResponse{status: http.StatusOK, body: gin.H{}}
	}
	c.JSON(resp.status, resp.body)
}
