package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer drives the far side of a client's pipes: it decodes the
// client's outgoing frames and lets tests answer them in any order.
type fakeServer struct {
	t      *testing.T
	out    *io.PipeWriter // connected to the client's stdout reader
	frames chan incomingFrame
	format WireFormat
}

func newTestClient(t *testing.T, format WireFormat) (*Client, *fakeServer) {
	t.Helper()
	c, err := NewClient("test", ServerConfig{Command: "node", Format: format})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	c.attach(stdinW, stdoutR)

	s := &fakeServer{t: t, out: stdoutW, frames: make(chan incomingFrame, 16), format: format}
	go func() {
		dec := newFrameDecoder(format)
		buf := make([]byte, 512)
		for {
			n, err := stdinR.Read(buf)
			if n > 0 {
				dec.Feed(buf[:n])
				for {
					raw, ok := dec.Next()
					if !ok {
						break
					}
					s.frames <- classifyFrame(raw)
				}
			}
			if err != nil {
				close(s.frames)
				return
			}
		}
	}()
	t.Cleanup(func() {
		c.Close()
		stdoutW.Close()
	})
	return c, s
}

// next returns the client's next decoded frame or fails the test.
func (s *fakeServer) next() incomingFrame {
	s.t.Helper()
	select {
	case f, ok := <-s.frames:
		if !ok {
			s.t.Fatal("client stdin closed while waiting for a frame")
		}
		return f
	case <-time.After(2 * time.Second):
		s.t.Fatal("timed out waiting for a frame from the client")
	}
	return incomingFrame{}
}

func (s *fakeServer) respond(id int64, result any) {
	s.t.Helper()
	data, err := encodeFrame(s.format, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	if err != nil {
		s.t.Fatalf("encode response: %v", err)
	}
	if _, err := s.out.Write(data); err != nil {
		s.t.Fatalf("write response: %v", err)
	}
}

func (s *fakeServer) respondError(id int64, code int, message string) {
	s.t.Helper()
	data, err := encodeFrame(s.format, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
	if err != nil {
		s.t.Fatalf("encode error response: %v", err)
	}
	if _, err := s.out.Write(data); err != nil {
		s.t.Fatalf("write error response: %v", err)
	}
}

func TestCorrelationOutOfOrder(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)

	const n = 3
	type outcome struct {
		i   int
		got int
		err error
	}
	results := make(chan outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := c.call(context.Background(), "echo", map[string]any{"n": i})
			if err != nil {
				results <- outcome{i: i, err: err}
				return
			}
			var body struct {
				N int `json:"n"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				results <- outcome{i: i, err: err}
				return
			}
			results <- outcome{i: i, got: body.N}
		}(i)
	}

	// Collect the requests, then answer them in reverse arrival order,
	// echoing each request's own params back as its result. Every caller
	// must still receive the result for its own payload.
	reqs := make([]incomingFrame, 0, n)
	for len(reqs) < n {
		f := s.next()
		if f.kind != frameRequest || f.method != "echo" {
			t.Fatalf("unexpected frame: %+v", f)
		}
		reqs = append(reqs, f)
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		s.respond(reqs[i].id, json.RawMessage(reqs[i].params))
	}

	wg.Wait()
	close(results)
	for out := range results {
		if out.err != nil {
			t.Fatalf("call %d failed: %v", out.i, out.err)
		}
		if out.got != out.i {
			t.Errorf("caller %d received result for %d", out.i, out.got)
		}
	}
}

func TestTimeoutThenLateResponseDropped(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)
	c.callTimeout = 50 * time.Millisecond

	_, err := c.call(context.Background(), "slow", nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got: %v", err)
	}

	// The response arrives after the timeout already resolved the entry;
	// it must be dropped, and a fresh request must still work.
	f := s.next()
	s.respond(f.id, map[string]any{"late": true})

	c.callTimeout = time.Second
	done := make(chan error, 1)
	go func() {
		raw, err := c.call(context.Background(), "ping", nil)
		if err == nil && string(raw) != `{"ok":true}` {
			err = fmt.Errorf("unexpected result: %s", raw)
		}
		done <- err
	}()
	f2 := s.next()
	if f2.id == f.id {
		t.Fatalf("request id reused: %d", f2.id)
	}
	s.respond(f2.id, map[string]any{"ok": true})
	if err := <-done; err != nil {
		t.Fatalf("second call failed: %v", err)
	}
}

func TestCancellationDistinctFromTimeout(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "never", nil)
		done <- err
	}()
	s.next() // request reached the server; now cancel
	cancel()

	err := <-done
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if strings.Contains(err.Error(), "timed out") {
		t.Errorf("cancellation must not be reported as a timeout: %v", err)
	}
}

func TestCloseFailsPendingExactlyOnce(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)
	c.stderr.Write([]byte("panic: cannot reach upstream\n"))

	done := make(chan error, 1)
	go func() {
		_, err := c.call(context.Background(), "hang", nil)
		done <- err
	}()
	s.next()
	c.Close()

	err := <-done
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got: %v", err)
	}
	if !strings.Contains(err.Error(), "cannot reach upstream") {
		t.Errorf("closure error should carry the stderr tail: %v", err)
	}

	if _, err := c.call(context.Background(), "after", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("calls after Close must be rejected, got: %v", err)
	}
}

func TestStreamEOFFailsPending(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)

	done := make(chan error, 1)
	go func() {
		_, err := c.call(context.Background(), "hang", nil)
		done <- err
	}()
	s.next()
	s.out.Close() // subprocess "exits": its stdout goes away

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "closed its output") {
		t.Fatalf("expected stream-closure error, got: %v", err)
	}
}

func TestProtocolErrorSurfaced(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)

	done := make(chan error, 1)
	go func() {
		_, err := c.call(context.Background(), "tools/call", map[string]any{"name": "missing"})
		done <- err
	}()
	f := s.next()
	s.respondError(f.id, -32602, "unknown tool")

	err := <-done
	var rerr *rpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *rpcError, got: %v", err)
	}
	if rerr.Code != -32602 || rerr.Message != "unknown tool" {
		t.Errorf("unexpected rpc error: %+v", rerr)
	}
}

func TestInitializeHandshake(t *testing.T) {
	c, s := newTestClient(t, WireLineDelimited)

	done := make(chan error, 1)
	go func() { done <- c.initialize(context.Background()) }()

	f := s.next()
	if f.method != "initialize" {
		t.Fatalf("first frame method = %q, want initialize", f.method)
	}
	s.respond(f.id, map[string]any{"protocolVersion": protocolVersion})

	n := s.next()
	if n.kind != frameNotification || n.method != "notifications/initialized" {
		t.Fatalf("expected initialized notification, got: %+v", n)
	}
	if err := <-done; err != nil {
		t.Fatalf("initialize: %v", err)
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != stateReady {
		t.Errorf("state = %v, want ready", state)
	}
}

func TestListToolsAndCallTool(t *testing.T) {
	c, s := newTestClient(t, WireContentLength)

	go func() {
		f := s.next()
		s.respond(f.id, map[string]any{"tools": []map[string]any{{
			"name":        "search",
			"description": "Full-text search",
			"inputSchema": map[string]any{"type": "object"},
		}}})
	}()
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	go func() {
		f := s.next()
		s.respond(f.id, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "three results"}},
			"isError": false,
		})
	}()
	res, err := c.CallTool(context.Background(), "search", map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "three results" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEffectiveTimeout(t *testing.T) {
	cases := []struct {
		configured time.Duration
		bridge     bool
		want       time.Duration
	}{
		{0, false, defaultCallTimeout},
		{0, true, bridgeCallTimeout},
		{time.Second, false, minCallTimeout},
		{time.Hour, false, maxCallTimeout},
		{10 * time.Second, true, bridgeCallTimeout},
		{2 * time.Minute, true, 2 * time.Minute},
		{45 * time.Second, false, 45 * time.Second},
	}
	for _, tc := range cases {
		if got := effectiveTimeout(tc.configured, tc.bridge); got != tc.want {
			t.Errorf("effectiveTimeout(%v, %v) = %v, want %v", tc.configured, tc.bridge, got, tc.want)
		}
	}
}
