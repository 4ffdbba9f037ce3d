// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

// recordingHook keeps every call it sees.
type recordingHook struct {
	name  string
	mu    sync.Mutex
	order *[]string
	ends  []hookEndCall
	panic bool
}

type hookEndCall struct {
	info  DispatchInfo
	stats CallStatistics
	err   error
	token HookToken
	value any
}

func (h *recordingHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	if h.panic {
		panic("start")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.order != nil {
		*h.order = append(*h.order, "start:"+h.name)
	}
	return context.WithValue(ctx, ctxKey(h.name), info.Plugin), h.name
}

func (h *recordingHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.order != nil {
		*h.order = append(*h.order, "end:"+h.name)
	}
	var s CallStatistics
	if stats != nil {
		s = *stats
	}
	h.ends = append(h.ends, hookEndCall{info: info, stats: s, err: err, token: token, value: ctx.Value(ctxKey(h.name))})
}

func (h *recordingHook) calls() []hookEndCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hookEndCall(nil), h.ends...)
}

func TestHooksOrderAndTokens(t *testing.T) {
	var order []string
	a := &recordingHook{name: "a", order: &order}
	b := &recordingHook{name: "b", order: &order}
	hook := Hooks(a, b)

	ctx, token, active := hookStart(hook, context.Background(), DispatchInfo{Plugin: "P"})
	require.True(t, active)
	assert.Equal(t, "P", ctx.Value(ctxKey("a")))
	assert.Equal(t, "P", ctx.Value(ctxKey("b")))

	hookEnd(hook, ctx, token, DispatchInfo{Plugin: "P"}, &CallStatistics{OutputBlocks: 1}, nil)
	assert.Equal(t, []string{"start:a", "start:b", "end:b", "end:a"}, order)
	require.Len(t, a.calls(), 1)
	assert.Equal(t, "a", a.calls()[0].token)
	assert.Equal(t, "b", b.calls()[0].token)
	assert.Equal(t, int64(1), b.calls()[0].stats.OutputBlocks)
}

func TestHookPanicsAreContained(t *testing.T) {
	h := &recordingHook{name: "p", panic: true}
	ctx := context.Background()
	got, token, active := hookStart(h, ctx, DispatchInfo{})
	assert.False(t, active)
	assert.Nil(t, token)
	assert.Equal(t, ctx, got)

	assert.NotPanics(t, func() {
		hookEnd(panicEndHook{}, ctx, nil, DispatchInfo{}, nil, errors.New("x"))
	})
}

func TestNilHook(t *testing.T) {
	_, _, active := hookStart(nil, context.Background(), DispatchInfo{})
	assert.False(t, active)
}

func TestCallStatistics(t *testing.T) {
	var s CallStatistics
	s.RecordInput(3)
	s.RecordInput(4)
	s.RecordOutput(10)
	assert.Equal(t, CallStatistics{InputBlocks: 2, InputElements: 7, OutputBlocks: 1, OutputElements: 10}, s)
}

type panicEndHook struct{}

func (panicEndHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, HookToken) {
	return ctx, nil
}

func (panicEndHook) OnDispatchEnd(context.Context, HookToken, DispatchInfo, *CallStatistics, error) {
	panic("end")
}
