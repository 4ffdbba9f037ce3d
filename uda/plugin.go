// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Plugin produces the data for the requests routed to it.
type Plugin interface {
	Execute(ctx context.Context, call *Call) (*DataBlock, error)
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, call *Call) (*DataBlock, error)

// Execute calls f.
func (f PluginFunc) Execute(ctx context.Context, call *Call) (*DataBlock, error) {
	return f(ctx, call)
}

// Call is what a plugin sees of one request.
type Call struct {
	// Request is the request being served.
	Request *RequestData
	// Plugin is the name the request resolved to.
	Plugin string
	// Function is the function part of the signal, e.g. "echo" for
	// "TESTPLUGIN::echo(value=1)".
	Function string
	// Client is the latest ClientBlock of the connection.
	Client *ClientBlock
	// Version is the negotiated protocol version.
	Version int
	// Catalog holds the structure definitions known on the connection.
	// Plugins returning structures may add to it.
	Catalog *Catalog

	logger *slog.Logger
	errs   []ProtocolError
}

// PutData returns the blocks a put request carries.
func (c *Call) PutData() []*PutDataBlock {
	return c.Request.PutData.Blocks
}

// Args parses the "name=value" arguments of a "function(args)" signal.
// Bare names map to "true".
func (c *Call) Args() map[string]string {
	sig := c.Request.Signal
	open := strings.IndexByte(sig, '(')
	end := strings.LastIndexByte(sig, ')')
	args := map[string]string{}
	if open < 0 || end <= open {
		return args
	}
	for _, part := range strings.Split(sig[open+1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			value = "true"
		}
		args[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return args
}

// ClientLog records a diagnostic for the request. EXCEPTION entries travel
// back to the client in the ServerBlock and fail the request; the rest go
// to the server log.
func (c *Call) ClientLog(level LogLevel, msg string, kv ...any) {
	if level == LogException {
		c.errs = append(c.errs, ProtocolError{
			Code:     PluginFailed,
			Type:     PluginErrorType,
			Location: c.Plugin,
			Message:  msg,
			Class:    ClassPeer,
		})
	}
	if c.logger != nil {
		c.logger.Log(context.Background(), level.slogLevel(), msg,
			append([]any{"plugin", c.Plugin, "function", c.Function}, kv...)...)
	}
}

// Registry maps plugin names to plugins. Names are case insensitive.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	fallback string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p under name, replacing any earlier registration.
func (r *Registry) Register(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[strings.ToUpper(name)] = p
}

// RegisterFunc adds f under name.
func (r *Registry) RegisterFunc(name string, f func(ctx context.Context, call *Call) (*DataBlock, error)) {
	r.Register(name, PluginFunc(f))
}

// SetDefault names the plugin serving requests that name none.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = strings.ToUpper(name)
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Resolve finds the plugin serving req.
func (r *Registry) Resolve(req *RequestData) (string, Plugin, error) {
	name := req.Plugin()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	if p, ok := r.plugins[name]; ok {
		return name, p, nil
	}
	return name, nil, &ProtocolError{
		Code:     PluginNotFound,
		Type:     PluginErrorType,
		Location: "Resolve",
		Message:  fmt.Sprintf("no plugin serves %q. Available plugins: %v", name, r.namesLocked()),
		Class:    ClassPeer,
	}
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
