// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordRoundTrip encodes one record with enc and decodes it with dec over an
// in-memory stream.
func recordRoundTrip(t *testing.T, enc, dec func(x *XDR)) {
	t.Helper()
	var wire bytes.Buffer
	s := NewStream(&wire, &wire)

	e := s.Encoder()
	enc(e)
	e.EndRecord(true)
	require.NoError(t, e.Err())

	d := s.Decoder()
	d.BeginRecord()
	dec(d)
	require.NoError(t, d.Err())
}

func intRange(start, step int32, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = start + int32(i)*step
	}
	return out
}

// framedRoundTrip runs codecs that open and close their own records.
func framedRoundTrip(t *testing.T, enc, dec func(x *XDR)) int {
	t.Helper()
	var wire bytes.Buffer
	s := NewStream(&wire, &wire)

	e := s.Encoder()
	enc(e)
	require.NoError(t, e.Err())
	n := wire.Len()

	d := s.Decoder()
	dec(d)
	require.NoError(t, d.Err())
	return n
}
