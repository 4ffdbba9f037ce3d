// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	rw := NewRecordWriter(&wire)
	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, rw.EndRecord(true))

	// one last-fragment header plus payload
	require.Equal(t, 9, wire.Len())
	assert.Equal(t, uint32(lastFragment|5), binary.BigEndian.Uint32(wire.Bytes()[:4]))

	rr := NewRecordReader(&wire)
	buf := make([]byte, 5)
	_, err = rr.Read(buf)
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, rr.SkipRecord())
	_, err = io.ReadFull(rr, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = rr.Read(buf)
	assert.ErrorIs(t, err, ErrRecordEnd)
}

func TestRecordLargeFragments(t *testing.T) {
	payload := make([]byte, 3*WriteBlockSize+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	var wire bytes.Buffer
	rw := NewRecordWriter(&wire)
	_, err := rw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, rw.EndRecord(true))

	// the first fragment is full and not final
	first := binary.BigEndian.Uint32(wire.Bytes()[:4])
	assert.Zero(t, first&lastFragment)
	assert.Equal(t, uint32(WriteBlockSize-4), first)

	rr := NewRecordReader(&wire)
	require.NoError(t, rr.SkipRecord())
	got, err := io.ReadAll(io.LimitReader(rr, int64(len(payload))))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEndRecordWithoutFlushBuffers(t *testing.T) {
	var wire bytes.Buffer
	rw := NewRecordWriter(&wire)
	_, _ = rw.Write([]byte{1, 2, 3, 4})
	require.NoError(t, rw.EndRecord(false))
	assert.Zero(t, wire.Len())

	_, _ = rw.Write([]byte{5, 6, 7, 8})
	require.NoError(t, rw.EndRecord(true))
	assert.Equal(t, 16, wire.Len())
}

func TestSkipRecordDiscardsRemainder(t *testing.T) {
	var wire bytes.Buffer
	rw := NewRecordWriter(&wire)
	_, _ = rw.Write([]byte("first record"))
	require.NoError(t, rw.EndRecord(false))
	_, _ = rw.Write([]byte("second"))
	require.NoError(t, rw.EndRecord(true))

	rr := NewRecordReader(&wire)
	require.NoError(t, rr.SkipRecord())
	head := make([]byte, 5)
	_, err := io.ReadFull(rr, head)
	require.NoError(t, err)
	assert.Equal(t, "first", string(head))

	require.NoError(t, rr.SkipRecord())
	rest, err := io.ReadAll(io.LimitReader(rr, 6))
	require.NoError(t, err)
	assert.Equal(t, "second", string(rest))

	_, err = rr.Read(head)
	assert.ErrorIs(t, err, ErrRecordEnd)
}

func TestAbortRecord(t *testing.T) {
	var wire bytes.Buffer
	rw := NewRecordWriter(&wire)
	_, _ = rw.Write([]byte("discard me"))
	require.NoError(t, rw.AbortRecord())
	assert.Zero(t, rw.Buffered())
	require.NoError(t, rw.Flush())
	assert.Zero(t, wire.Len())

	_, _ = rw.Write(make([]byte, 2*WriteBlockSize))
	assert.ErrorIs(t, rw.AbortRecord(), ErrRecordClosed)
}

func TestIdleWaitTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewConnStream(server)
	s.SetIdleLimit(30 * time.Millisecond)

	require.NoError(t, s.Reader().SkipRecord())
	start := time.Now()
	_, err := s.Reader().Read(make([]byte, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestIdleWaitObservesContext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewConnStream(server)
	ctx, cancel := context.WithCancel(context.Background())
	s.SetContext(ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, s.Reader().SkipRecord())
	_, err := s.Reader().Read(make([]byte, 4))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIdleWaitDeliversLateData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewConnStream(server)
	go func() {
		time.Sleep(15 * time.Millisecond)
		rw := NewRecordWriter(client)
		_, _ = rw.Write([]byte("late"))
		_ = rw.EndRecord(true)
	}()
	require.NoError(t, s.Reader().SkipRecord())
	buf := make([]byte, 4)
	_, err := io.ReadFull(s.Reader(), buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf))
}
