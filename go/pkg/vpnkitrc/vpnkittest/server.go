// Package vpnkittest provides an in-memory vpnkit port forwarding API served
// over a real socket, for testing code which uses a vpnkitrc.Client.
package vpnkittest

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/transport"
)

// Request records a request received by the server.
type Request struct {
	Method string
	Path   string
	Rule   *vpnkitrc.Rule
}

type rawResponse struct {
	status int
	body   []byte
}

// Server behaves like the port forwarding API of vpnkit.
type Server struct {
	e    *echo.Echo
	path string

	m        sync.Mutex
	rules    map[string]vpnkitrc.Rule
	order    []string
	dump     []byte
	fail     *vpnkitrc.APIError
	raw      *rawResponse
	requests []Request
}

// NewServer listens on path. Call Start to serve requests.
func NewServer(path string) (*Server, error) {
	t := transport.Choose(path)
	l, err := t.Listen(path)
	if err != nil {
		return nil, err
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = l
	s := &Server{
		e:     e,
		path:  path,
		rules: make(map[string]vpnkitrc.Rule),
	}
	e.Use(s.intercept)

	e.GET(vpnkitrc.ListPath, s.List)
	e.GET(vpnkitrc.DumpStatePath, s.DumpState)
	e.PUT(vpnkitrc.ExposePortPath, s.ExposePort)
	e.DELETE(vpnkitrc.UnexposePortPath, s.UnexposePort)
	e.PUT(vpnkitrc.ExposePipePath, s.ExposePipe)
	e.DELETE(vpnkitrc.UnexposePipePath, s.UnexposePipe)
	return s, nil
}

// NewTestServer starts a server on a fresh socket and stops it when the test
// completes.
func NewTestServer(t testing.TB) *Server {
	t.Helper()
	s, err := NewServer(SocketPath(t))
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	s.Start()
	t.Cleanup(func() {
		s.Stop()
	})
	return s
}

var pipeCounter int64

// SocketPath returns a path for a socket which is removed with the test.
func SocketPath(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		n := atomic.AddInt64(&pipeCounter, 1)
		return fmt.Sprintf(`\\.\pipe\vpnkittest-%d-%d-%d`, os.Getpid(), time.Now().UnixNano(), n)
	}
	dir, err := os.MkdirTemp("", "vpnkittest")
	if err != nil {
		t.Fatalf("unable to create socket directory: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return filepath.Join(dir, "vpnkit.sock")
}

// Path of the socket the server listens on.
func (s *Server) Path() string {
	return s.path
}

func (s *Server) Start() {
	go func() {
		s.e.Start("")
	}()
}

func (s *Server) Stop() error {
	return s.e.Close()
}

// FailWith makes every following request fail with status and a {message} body.
func (s *Server) FailWith(status int, message string) {
	s.m.Lock()
	defer s.m.Unlock()
	s.fail = &vpnkitrc.APIError{Message: message, StatusCode: status}
	s.raw = nil
}

// RespondWith makes every following request return status and the raw body.
func (s *Server) RespondWith(status int, body []byte) {
	s.m.Lock()
	defer s.m.Unlock()
	s.raw = &rawResponse{status: status, body: body}
	s.fail = nil
}

// Recover undoes FailWith and RespondWith.
func (s *Server) Recover() {
	s.m.Lock()
	defer s.m.Unlock()
	s.fail = nil
	s.raw = nil
}

// SetDump sets the body returned by the dump endpoint.
func (s *Server) SetDump(dump []byte) {
	s.m.Lock()
	defer s.m.Unlock()
	s.dump = dump
}

// Rules returns the exposed rules in the order they were exposed.
func (s *Server) Rules() []vpnkitrc.Rule {
	s.m.Lock()
	defer s.m.Unlock()
	rules := make([]vpnkitrc.Rule, 0, len(s.order))
	for _, key := range s.order {
		rules = append(rules, s.rules[key])
	}
	return rules
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) intercept(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.m.Lock()
		fail, raw := s.fail, s.raw
		s.m.Unlock()
		if raw != nil {
			s.record(c, nil)
			return c.Blob(raw.status, echo.MIMEApplicationJSON, raw.body)
		}
		if fail != nil {
			s.record(c, nil)
			return c.JSON(fail.StatusCode, fail)
		}
		return next(c)
	}
}

func (s *Server) record(c echo.Context, rule *vpnkitrc.Rule) {
	s.m.Lock()
	defer s.m.Unlock()
	s.requests = append(s.requests, Request{
		Method: c.Request().Method,
		Path:   c.Request().URL.Path,
		Rule:   rule,
	})
}

// List forwards HTTP handler
func (s *Server) List(c echo.Context) error {
	s.record(c, nil)
	return c.JSON(http.StatusOK, s.Rules())
}

// DumpState HTTP handler
func (s *Server) DumpState(c echo.Context) error {
	s.record(c, nil)
	s.m.Lock()
	dump := s.dump
	s.m.Unlock()
	return c.Blob(http.StatusOK, echo.MIMETextPlain, dump)
}

// Expose port HTTP handler
func (s *Server) ExposePort(c echo.Context) error {
	rule, err := s.bind(c)
	if rule == nil {
		return err
	}
	if !isPort(*rule) {
		return badRequest(c, "exposed ports can only be TCP or UDP")
	}
	s.expose(*rule)
	return c.NoContent(http.StatusOK)
}

// Unexpose port HTTP handler
func (s *Server) UnexposePort(c echo.Context) error {
	rule, err := s.bind(c)
	if rule == nil {
		return err
	}
	if !isPort(*rule) {
		return badRequest(c, "exposed ports can only be TCP or UDP")
	}
	s.unexpose(*rule)
	return c.NoContent(http.StatusOK)
}

// Expose pipe HTTP handler
func (s *Server) ExposePipe(c echo.Context) error {
	rule, err := s.bind(c)
	if rule == nil {
		return err
	}
	if rule.Proto == nil || *rule.Proto != vpnkitrc.Unix {
		return badRequest(c, "exposed pipes can only have proto=Unix")
	}
	s.expose(*rule)
	return c.NoContent(http.StatusOK)
}

// Unexpose pipe HTTP handler
func (s *Server) UnexposePipe(c echo.Context) error {
	rule, err := s.bind(c)
	if rule == nil {
		return err
	}
	if rule.Proto == nil || *rule.Proto != vpnkitrc.Unix {
		return badRequest(c, "exposed pipes can only have proto=Unix")
	}
	s.unexpose(*rule)
	return c.NoContent(http.StatusOK)
}

// bind decodes the rule in the request body. When it returns nil the error
// response has already been written.
func (s *Server) bind(c echo.Context) (*vpnkitrc.Rule, error) {
	var rule vpnkitrc.Rule
	if err := c.Bind(&rule); err != nil {
		s.record(c, nil)
		return nil, badRequest(c, err.Error())
	}
	s.record(c, &rule)
	return &rule, nil
}

// expose is idempotent
func (s *Server) expose(rule vpnkitrc.Rule) {
	key := rule.String()
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.rules[key]; ok {
		return
	}
	s.rules[key] = rule
	s.order = append(s.order, key)
}

// unexpose is idempotent
func (s *Server) unexpose(rule vpnkitrc.Rule) {
	key := rule.String()
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.rules[key]; !ok {
		return
	}
	delete(s.rules, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func isPort(rule vpnkitrc.Rule) bool {
	return rule.Proto != nil && (*rule.Proto == vpnkitrc.TCP || *rule.Proto == vpnkitrc.UDP)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, &vpnkitrc.APIError{Message: message})
}
