// Package tools aggregates the tools discovered from external providers into
// one flat, collision-free catalog for a single conversation turn, and
// executes calls against it.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/mcp"
	"github.com/inkdrift/inkdrift/internal/shared/argv"
)

// callNamePrefix namespaces provider tools in the model-facing catalog.
const callNamePrefix = "mcp"

// maxCallNameLen bounds call names to what completion backends accept for
// function names.
const maxCallNameLen = 64

// invoker is the slice of the MCP client the executor needs. Satisfied by
// *mcp.Client; stubbed in tests.
type invoker interface {
	CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallResult, error)
}

// Entry maps one model-facing call name back to the provider tool behind it.
type Entry struct {
	CallName    string
	ProviderID  string
	ToolName    string // provider-local name
	Description string
	Parameters  json.RawMessage
	Timeout     time.Duration

	client invoker
}

// Registry is the per-turn tool catalog. It owns the clients it spawned and
// must be closed when the turn ends; nothing in it survives the turn.
type Registry struct {
	entries map[string]*Entry
	order   []string // registration order, for stable definition lists
	clients []*mcp.Client
}

func newRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// BuildRegistry connects every enabled, command-bearing provider, performs
// the handshake, and registers the discovered tools. Construction is
// best-effort: a provider that fails to validate, connect, or list is
// logged, its client closed, and the rest carry on.
func BuildRegistry(ctx context.Context, providers map[string]config.ToolProviderConfig) *Registry {
	ids := make([]string, 0, len(providers))
	for id, p := range providers {
		if p.Enabled && p.Command != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	type discovery struct {
		client *mcp.Client
		tools  []mcp.ToolInfo
	}
	found := make([]*discovery, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		p := providers[id]
		g.Go(func() error {
			client, err := connectProvider(ctx, id, p)
			if err != nil {
				slog.Error("MCP server connect failed", "server", id, "err", err)
				return nil
			}
			toolDefs, err := client.ListTools(ctx)
			if err != nil {
				slog.Error("MCP server tools/list failed", "server", id, "err", err)
				client.Close()
				return nil
			}
			found[i] = &discovery{client: client, tools: toolDefs}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures are per-provider

	// Registration runs sequentially in sorted provider order so collision
	// suffixes are deterministic.
	reg := newRegistry()
	for i, id := range ids {
		d := found[i]
		if d == nil {
			continue
		}
		reg.clients = append(reg.clients, d.client)
		for _, tool := range d.tools {
			if tool.Name == "" {
				continue
			}
			entry := reg.register(id, tool, d.client, d.client.CallTimeout())
			slog.Debug("MCP tool registered", "server", id, "tool", entry.CallName)
		}
		slog.Info("MCP server connected", "server", id, "tools", len(d.tools))
	}
	return reg
}

func connectProvider(ctx context.Context, id string, p config.ToolProviderConfig) (*mcp.Client, error) {
	args := argv.Split(p.Args)
	format, ok := mcp.ParseWireFormat(p.WireFormat)
	if !ok {
		format = mcp.DetectWireFormat(p.Command, args)
	}

	client, err := mcp.NewClient(id, mcp.ServerConfig{
		Command: p.Command,
		Args:    args,
		Env:     argv.ParseEnv(p.Env),
		Timeout: time.Duration(p.Timeout) * time.Second,
		Format:  format,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// register derives a unique call name for one provider tool and records the
// mapping back to its client.
func (r *Registry) register(providerID string, tool mcp.ToolInfo, client invoker, timeout time.Duration) *Entry {
	base := callNamePrefix + "_" + sanitizeName(providerID) + "__" + sanitizeName(tool.Name)
	name := truncateName(base, maxCallNameLen)
	for suffix := 2; ; suffix++ {
		if _, taken := r.entries[name]; !taken {
			break
		}
		tag := "_" + strconv.Itoa(suffix)
		name = truncateName(base, maxCallNameLen-len(tag)) + tag
	}

	params := tool.InputSchema
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	entry := &Entry{
		CallName:    name,
		ProviderID:  providerID,
		ToolName:    tool.Name,
		Description: tool.Description,
		Parameters:  params,
		Timeout:     timeout,
		client:      client,
	}
	r.entries[name] = entry
	r.order = append(r.order, name)
	return entry
}

// Get returns the entry for a call name, or nil.
func (r *Registry) Get(callName string) *Entry {
	return r.entries[callName]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.entries) }

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Definitions returns the catalog as OpenAI-style function-tool definitions,
// applying the caller's allow/deny patterns and enabled map.
func (r *Registry) Definitions(filter Filter) []map[string]any {
	list := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		if !filter.Allows(name) {
			continue
		}
		e := r.entries[name]
		var params any
		if err := json.Unmarshal(e.Parameters, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		list = append(list, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        e.CallName,
				"description": e.Description,
				"parameters":  params,
			},
		})
	}
	return list
}

// Close tears down every client the registry spawned.
func (r *Registry) Close() {
	var wg sync.WaitGroup
	for _, c := range r.clients {
		wg.Add(1)
		go func(c *mcp.Client) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}

var nonNameChars = regexp.MustCompile(`[^a-z0-9_-]`)

// sanitizeName lower-cases s and collapses anything outside [a-z0-9_-] into
// underscores.
func sanitizeName(s string) string {
	return nonNameChars.ReplaceAllString(strings.ToLower(s), "_")
}

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
