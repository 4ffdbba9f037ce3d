// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"log/slog"
)

// DispatchHook provides observability callpoints around each request a
// server executes. Implementations must be safe for concurrent use: every
// connection is served on its own goroutine.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// ConnectionHook is an optional extension of DispatchHook. A hook that
// implements it is told about connections the server ends because their
// stream can no longer be served.
type ConnectionHook interface {
	OnConnectionFault(info ConnectionInfo, err error)
}

// ConnectionInfo identifies a served connection.
type ConnectionInfo struct {
	ServerID string
	ConnID   string
	Peer     string
	Version  int
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo describes the request being executed.
type DispatchInfo struct {
	Plugin     string // resolved plugin name
	Function   string // function part of the signal
	Signal     string
	Source     string
	Put        bool
	ServerID   string
	ConnID     string
	Version    int // negotiated protocol version
	BatchIndex int // position in the RequestBlock
	BatchSize  int
}

// CallStatistics holds per-request I/O counters. Bytes are wire bytes of
// the whole exchange and are attributed to the first request of a batch.
type CallStatistics struct {
	InputBlocks    int64
	OutputBlocks   int64
	InputElements  int64
	OutputElements int64
	InputBytes     int64
	OutputBytes    int64
}

// RecordInput records one received put block.
func (s *CallStatistics) RecordInput(elements int64) {
	s.InputBlocks++
	s.InputElements += elements
}

// RecordOutput records one returned data block.
func (s *CallStatistics) RecordOutput(elements int64) {
	s.OutputBlocks++
	s.OutputElements += elements
}

// Hooks combines several hooks into one. Start runs in order and end in
// reverse order.
func Hooks(hooks ...DispatchHook) DispatchHook {
	return multiHook(hooks)
}

type multiHook []DispatchHook

func (m multiHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(m))
	for i, h := range m {
		var hctx context.Context
		hctx, tokens[i] = h.OnDispatchStart(ctx, info)
		if hctx != nil {
			ctx = hctx
		}
	}
	return ctx, tokens
}

func (m multiHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(m) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		m[i].OnDispatchEnd(ctx, t, info, stats, err)
	}
}

// hookStart calls the hook, recovering from a panic in it.
func hookStart(hook DispatchHook, ctx context.Context, info DispatchInfo) (context.Context, HookToken, bool) {
	if hook == nil {
		return ctx, nil, false
	}
	token := HookToken(nil)
	active := false
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch hook start panic", "err", rv)
			}
		}()
		var hookCtx context.Context
		hookCtx, token = hook.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		active = true
	}()
	return ctx, token, active
}

func hookEnd(hook DispatchHook, ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("dispatch hook end panic", "err", rv)
		}
	}()
	hook.OnDispatchEnd(ctx, token, info, stats, err)
}

func (m multiHook) OnConnectionFault(info ConnectionInfo, err error) {
	for _, h := range m {
		if ch, ok := h.(ConnectionHook); ok {
			ch.OnConnectionFault(info, err)
		}
	}
}

func hookFault(hook DispatchHook, info ConnectionInfo, err error) {
	ch, ok := hook.(ConnectionHook)
	if !ok {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("connection hook panic", "err", rv)
		}
	}()
	ch.OnConnectionFault(info, err)
}
