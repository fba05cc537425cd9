package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func healthRouter() *Dispatcher {
	return NewRouterBuilder().
		Get("/health", func(c *RequestContext) error { return c.OK() }).
		Get("/panic", func(c *RequestContext) error { panic("handler bug") }).
		Post("/echo", func(c *RequestContext) error {
			return c.WriteText(http.StatusOK, string(c.Body()))
		}).
		Build()
}

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatalf("unable to start server: %s", err)
	}
	t.Cleanup(func() { s.Stop() })
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port())
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("unable to GET %s: %s", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unable to read response: %s", err)
	}
	return resp.StatusCode, string(b)
}

func TestServerServesRoutes(t *testing.T) {
	base := startServer(t, New(nil, nil).WithPort(0).WithRouter(healthRouter()))

	tests := []struct {
		method string
		path   string
		body   string

		wantCode int
		wantBody string
	}{
		{http.MethodGet, "/health", "", http.StatusOK, "OK"},
		{http.MethodGet, "/health?x=1", "", http.StatusOK, "OK"},
		{http.MethodPost, "/health", "", http.StatusNotFound, "Not Found"},
		{http.MethodGet, "/missing", "", http.StatusNotFound, "Not Found"},
		{http.MethodPost, "/echo", "hello", http.StatusOK, "hello"},
		{http.MethodGet, "/panic", "", http.StatusInternalServerError, "Internal Server Error"},
		// a failed request leaves the server healthy
		{http.MethodGet, "/health", "", http.StatusOK, "OK"},
	}

	for _, test := range tests {
		req, err := http.NewRequest(test.method, base+test.path, strings.NewReader(test.body))
		if err != nil {
			t.Fatalf("unable to create request: %s", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %s", test.method, test.path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != test.wantCode {
			t.Errorf("%s %s expected response code %d, got %d", test.method, test.path, test.wantCode, resp.StatusCode)
		}
		if string(b) != test.wantBody {
			t.Errorf("%s %s expected response body %q, got %q", test.method, test.path, test.wantBody, string(b))
		}
		if got := resp.Header.Get("Content-Type"); got != TextContentType {
			t.Errorf("%s %s expected content type %q, got %q", test.method, test.path, TextContentType, got)
		}
	}
}

func TestServerPipelinedKeepAlive(t *testing.T) {
	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())
	startServer(t, s)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("unable to dial: %s", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// both requests go out before any response is read
	_, err = io.WriteString(conn, "GET /missing HTTP/1.1\r\nHost: probe\r\n\r\n"+
		"GET /health HTTP/1.1\r\nHost: probe\r\n\r\n")
	if err != nil {
		t.Fatalf("unable to write requests: %s", err)
	}

	br := bufio.NewReader(conn)
	for _, want := range []int{http.StatusNotFound, http.StatusOK} {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("unable to read response: %s", err)
		}
		io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != want {
			t.Errorf("expected responses in request order, wanted %d got %d", want, resp.StatusCode)
		}
		if got := resp.Header.Get("Connection"); got != "keep-alive" {
			t.Errorf("expected 'Connection: keep-alive', got %q", got)
		}
	}
}

func TestServerClosesNonKeepAlive(t *testing.T) {
	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())
	startServer(t, s)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("unable to dial: %s", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, "GET /health HTTP/1.0\r\n\r\n"); err != nil {
		t.Fatalf("unable to write request: %s", err)
	}

	// ReadAll only returns once the server closes the connection
	b, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("expected the server to close the connection, got %s", err)
	}
	raw := string(b)
	if !strings.HasPrefix(raw, "HTTP/1.0 200 OK") {
		t.Errorf("expected a 200 response, got %q", raw)
	}
	if !strings.Contains(raw, "Connection: close") {
		t.Errorf("expected 'Connection: close', got %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nOK") {
		t.Errorf("expected body OK, got %q", raw)
	}
}

func TestServerRequestTooLarge(t *testing.T) {
	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())
	startServer(t, s)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("unable to dial: %s", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := fmt.Sprintf("POST /echo HTTP/1.1\r\nHost: probe\r\nContent-Length: %d\r\n\r\n", MaxContentLength+1)
	if _, err := io.WriteString(conn, req); err != nil {
		t.Fatalf("unable to write request: %s", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("unable to read response: %s", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 response code, got %d", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("expected the connection to be closed after a 413")
	}
}

func TestServerStop(t *testing.T) {
	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())
	base := startServer(t, s)
	addr := fmt.Sprintf("127.0.0.1:%d", s.Port())

	if code, _ := get(t, base+"/health"); code != http.StatusOK {
		t.Fatalf("expected 200 before stop, got %d", code)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error on stop: %s", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected Done to be closed after Stop")
	}
	s.Wait()

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Error("expected new connections to be refused after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("expected a second Stop to be a no-op, got %s", err)
	}
	if err := s.Start(); err != ErrServerStopped {
		t.Errorf("expected ErrServerStopped on restart, got %v", err)
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())

	if err := s.Stop(); err != nil {
		t.Errorf("expected Stop on an unstarted server to be a no-op, got %s", err)
	}
	s.Wait()
	if s.Addr() != nil {
		t.Errorf("expected no address before Start, got %s", s.Addr())
	}

	base := startServer(t, s)
	if code, _ := get(t, base+"/health"); code != http.StatusOK {
		t.Errorf("expected the server to start after a no-op Stop, got %d", code)
	}
}

func TestServerStartErrors(t *testing.T) {
	if err := New(nil, nil).WithPort(0).Start(); err != ErrNoRouter {
		t.Errorf("expected ErrNoRouter, got %v", err)
	}

	var be *BindError
	err := New(nil, nil).WithPort(70000).WithRouter(healthRouter()).Start()
	if !errors.As(err, &be) || be.Port != 70000 {
		t.Errorf("expected a BindError for port 70000, got %v", err)
	}

	s := New(nil, nil).WithPort(0).WithRouter(healthRouter())
	startServer(t, s)
	if err := s.Start(); err != ErrServerStarted {
		t.Errorf("expected ErrServerStarted, got %v", err)
	}
}

func TestServerPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("unable to listen: %s", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	err = New(nil, nil).WithPort(port).WithRouter(healthRouter()).Start()

	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("expected a BindError, got %v", err)
	}
	if be.Port != port {
		t.Errorf("expected the error to name port %d, got %d", port, be.Port)
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("expected the network error to be wrapped, got %v", be.Err)
	}
}

func TestServersShareSwappedGroups(t *testing.T) {
	boss := NewGroup("boss", 1)
	worker := NewGroup("worker", 2)

	app := New(boss, worker).WithName("app").WithPort(0).WithRouter(healthRouter())
	metrics := New(worker, boss).WithName("metrics").WithPort(0).WithRouter(healthRouter())
	appURL := startServer(t, app)
	metricsURL := startServer(t, metrics)

	for _, url := range []string{appURL, metricsURL} {
		if code, body := get(t, url+"/health"); code != http.StatusOK || body != "OK" {
			t.Errorf("GET %s/health expected 200 OK, got %d %q", url, code, body)
		}
	}

	if err := app.Stop(); err != nil {
		t.Fatalf("unexpected error on stop: %s", err)
	}
	app.Wait()

	select {
	case <-metrics.Done():
		t.Fatal("expected stopping one server to leave the other running")
	default:
	}
	if code, _ := get(t, metricsURL+"/health"); code != http.StatusOK {
		t.Errorf("expected the remaining server to keep serving, got %d", code)
	}
}
