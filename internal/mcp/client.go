// Package mcp implements the client side of the tool-provider protocol:
// subprocess lifecycle, stdio framing, and JSON-RPC request correlation.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultCallTimeout = 30 * time.Second
	// Remote-bridge providers proxy every call over the network and need a
	// larger budget.
	bridgeCallTimeout = 60 * time.Second
	minCallTimeout    = 5 * time.Second
	maxCallTimeout    = 5 * time.Minute

	closeGracePeriod = 3 * time.Second
	stderrTailLimit  = 2048
	readChunkSize    = 4096
)

// ErrClosed is returned for requests issued against a closed client.
var ErrClosed = errors.New("MCP client closed")

// ServerConfig describes how to launch and talk to one tool provider.
// It is immutable once a Client is constructed from it.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration // explicitly configured per-request budget; 0 = default
	Format  WireFormat
}

type clientState int

const (
	stateConstructed clientState = iota
	stateInitializing
	stateReady
	stateClosed
)

type callOutcome struct {
	result json.RawMessage
	err    error
}

// Client owns one tool-provider subprocess and multiplexes JSON-RPC requests
// over its stdio pipes. Responses are correlated strictly by id, never by
// arrival order, so requests may be pipelined.
//
// A Client lives for one conversation turn: construct, Connect, zero or more
// calls, Close. It is never reused across turns.
type Client struct {
	name        string
	cfg         ServerConfig
	bridge      bool
	callTimeout time.Duration

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex // serialises outgoing frames

	mu       sync.Mutex
	state    clientState
	nextID   int64
	pending  map[int64]chan callOutcome
	closeErr error

	stderr   *tailBuffer
	procDone chan struct{} // closed once the subprocess has been reaped
}

// NewClient validates cfg and returns an unconnected client.
// A command outside the runner allowlist fails here, before any process is
// spawned.
func NewClient(name string, cfg ServerConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("MCP server %q: no command configured", name)
	}
	if !CommandAllowed(cfg.Command) {
		return nil, fmt.Errorf("MCP server %q: command %q is not an allowed runner", name, cfg.Command)
	}

	bridge := IsRemoteBridge(cfg.Command, cfg.Args)
	return &Client{
		name:        name,
		cfg:         cfg,
		bridge:      bridge,
		callTimeout: effectiveTimeout(cfg.Timeout, bridge),
		pending:     map[int64]chan callOutcome{},
		stderr:      &tailBuffer{limit: stderrTailLimit},
		procDone:    make(chan struct{}),
	}, nil
}

// effectiveTimeout resolves the per-request budget: the configured value
// clamped into a sane bound, floored at the bridge default for bridging
// providers, or the format-appropriate default when unset.
func effectiveTimeout(configured time.Duration, bridge bool) time.Duration {
	def := defaultCallTimeout
	if bridge {
		def = bridgeCallTimeout
	}
	if configured <= 0 {
		return def
	}
	t := configured
	if t < minCallTimeout {
		t = minCallTimeout
	}
	if t > maxCallTimeout {
		t = maxCallTimeout
	}
	if bridge && t < bridgeCallTimeout {
		t = bridgeCallTimeout
	}
	return t
}

func (c *Client) Name() string { return c.name }

// CallTimeout returns the effective per-request budget for this provider.
func (c *Client) CallTimeout() time.Duration { return c.callTimeout }

// Connect spawns the provider subprocess and performs the initialize
// handshake. On handshake failure the subprocess is torn down.
func (c *Client) Connect(ctx context.Context) error {
	c.cmd = exec.Command(c.cfg.Command, c.cfg.Args...)
	c.cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		c.cmd.Env = append(c.cmd.Env, k+"="+v)
	}
	c.cmd.Stderr = c.stderr

	stdinPipe, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start MCP server %q: %w", c.name, err)
	}

	c.attach(stdinPipe, stdoutPipe)
	go c.watchProcess()

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return fmt.Errorf("initialize %q: %w", c.name, err)
	}
	return nil
}

// attach wires the transport and starts the read loop. Split out from
// Connect so tests can drive a client over in-memory pipes.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	c.stdin = stdin
	go c.readLoop(stdout)
}

func (c *Client) initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = stateInitializing
	c.mu.Unlock()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "inkdrift", "version": "1.0"},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	// Fire-and-forget: the provider expects this notification before it
	// will serve tools/list.
	if err := c.writeFrame(newNotification("notifications/initialized", nil)); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == stateInitializing {
		c.state = stateReady
	}
	c.mu.Unlock()
	return nil
}

// ListTools returns the tools exposed by this provider.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a named tool on the provider.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	result := &CallResult{Raw: resp}
	if err := json.Unmarshal(resp, result); err != nil {
		// Shape surprises are tolerated; Raw carries the full body.
		slog.Debug("unstructured tools/call result", "client", c.name, "err", err)
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC plumbing
// ---------------------------------------------------------------------------

// call sends one request and blocks until the pending entry is resolved by
// exactly one of: matching response, timeout, ctx cancellation, or client
// closure.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state == stateClosed {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callOutcome, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(newRequest(id, method, params)); err != nil {
		c.take(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		if _, ok := c.take(id); ok {
			return nil, fmt.Errorf("%s cancelled: %w", method, ctx.Err())
		}
		// Lost the race: a response or closure already claimed the entry.
		out := <-ch
		return out.result, out.err
	case <-timer.C:
		if _, ok := c.take(id); ok {
			return nil, fmt.Errorf("%s timed out after %s%s", method, c.callTimeout, c.stderrSuffix())
		}
		out := <-ch
		return out.result, out.err
	}
}

// take removes and returns the pending entry for id. Whichever of
// {response, timeout, cancellation, closure} takes the entry first owns its
// resolution; everyone else backs off.
func (c *Client) take(id int64) (chan callOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch, ok
}

func (c *Client) writeFrame(payload any) error {
	data, err := encodeFrame(c.cfg.Format, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return ErrClosed
	}
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write to MCP stdin: %w", err)
	}
	return nil
}

func (c *Client) readLoop(r io.Reader) {
	dec := newFrameDecoder(c.cfg.Format)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				raw, ok := dec.Next()
				if !ok {
					break
				}
				c.dispatch(raw)
			}
		}
		if err != nil {
			cause := fmt.Errorf("MCP server %q stream ended: %w%s", c.name, err, c.stderrSuffix())
			if errors.Is(err, io.EOF) {
				cause = fmt.Errorf("MCP server %q closed its output%s", c.name, c.stderrSuffix())
			}
			c.closeWith(cause)
			return
		}
	}
}

func (c *Client) dispatch(raw json.RawMessage) {
	f := classifyFrame(raw)
	switch f.kind {
	case frameResponse:
		ch, ok := c.take(f.id)
		if !ok {
			// Late response for an entry already resolved by timeout,
			// cancellation, or closure.
			slog.Debug("dropping late response", "client", c.name, "id", f.id)
			return
		}
		if f.err != nil {
			ch <- callOutcome{err: f.err}
		} else {
			ch <- callOutcome{result: f.result}
		}
	case frameRequest:
		// Server-initiated requests (sampling etc.) are not supported.
		_ = c.writeFrame(newErrorResponse(f.id, codeMethodNotFound, "method not supported: "+f.method))
	case frameNotification:
		slog.Debug("provider notification", "client", c.name, "method", f.method)
	default:
		slog.Debug("discarding malformed frame", "client", c.name, "bytes", len(raw))
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// Close shuts the client down: every still-pending request fails
// synchronously with a closure error, then the subprocess gets a termination
// signal, a grace period, and a kill. Safe to call more than once.
func (c *Client) Close() {
	if !c.beginClose(fmt.Errorf("%w%s", ErrClosed, c.stderrSuffix())) {
		return
	}
	c.terminate()
}

// closeWith is the involuntary-shutdown path (stream EOF, process exit).
func (c *Client) closeWith(cause error) {
	if !c.beginClose(cause) {
		return
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// beginClose transitions to closed and fails every pending request exactly
// once. Returns false if the client was already closed.
func (c *Client) beginClose(cause error) bool {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = stateClosed
	c.closeErr = cause
	orphaned := c.pending
	c.pending = map[int64]chan callOutcome{}
	c.mu.Unlock()

	for _, ch := range orphaned {
		ch <- callOutcome{err: cause}
	}
	if len(orphaned) > 0 {
		slog.Warn("MCP client closed with pending requests", "client", c.name, "pending", len(orphaned), "cause", cause)
	}
	return true
}

// terminate bounds close latency regardless of subprocess cooperation.
func (c *Client) terminate() {
	if c.stdin != nil {
		c.writeMu.Lock()
		_ = c.stdin.Close()
		c.writeMu.Unlock()
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.procDone:
	case <-time.After(closeGracePeriod):
		_ = c.cmd.Process.Kill()
		<-c.procDone
	}
}

func (c *Client) watchProcess() {
	err := c.cmd.Wait()
	close(c.procDone)
	if err != nil {
		c.closeWith(fmt.Errorf("MCP server %q exited: %w%s", c.name, err, c.stderrSuffix()))
		return
	}
	c.closeWith(fmt.Errorf("MCP server %q exited%s", c.name, c.stderrSuffix()))
}

func (c *Client) stderrSuffix() string {
	tail := strings.TrimSpace(c.stderr.String())
	if tail == "" {
		return ""
	}
	return "; stderr: " + tail
}

// ---------------------------------------------------------------------------
// Bounded stderr capture
// ---------------------------------------------------------------------------

// tailBuffer keeps the last limit bytes written to it. The diagnostic tail
// is often the only clue to a misbehaving provider, so it is attached to
// timeout and closure errors.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
