// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingPair(t *testing.T) (*Stream, *ConnectionContext, *ConnectionContext) {
	t.Helper()
	var wire bytes.Buffer
	send := NewConnectionContext(nil)
	send.WorkDir = t.TempDir()
	recv := NewConnectionContext(nil)
	recv.WorkDir = t.TempDir()
	return NewStream(&wire, &wire), send, recv
}

func assertItems(t *testing.T, sd *StructuredData, n int) {
	t.Helper()
	require.NotNil(t, sd)
	require.NoError(t, checkCarrier(sd, n))
	for i, id := range sd.Elements() {
		fv, err := sd.Arena.Field(id, "name")
		require.NoError(t, err)
		assert.Equal(t, []string{fmt.Sprintf("item-%d", i)}, fv.Strings)
	}
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	for _, mode := range []Embedding{EmbedInline, EmbedFile, EmbedObject} {
		t.Run(mode.String(), func(t *testing.T) {
			s, send, recv := embeddingPair(t)
			in := NewStructuredBlock(buildItems(t, itemCatalog(t), 10))
			require.NoError(t, sendStructures(send, s, in, mode))

			out := &DataBlock{DataType: TypeCompound, DataN: 10, OpaqueType: OpaqueStructures}
			require.NoError(t, receiveStructures(recv, s, out))
			assertItems(t, out.Structures, 10)
			assert.Equal(t, OpaqueStructures, out.OpaqueType)

			_, ok := recv.Catalog.Find("ITEM")
			assert.True(t, ok, "received definitions join the connection catalog")
			assert.Zero(t, dirEntries(t, send.WorkDir), "sender spool removed")
			assert.Zero(t, dirEntries(t, recv.WorkDir), "receiver spool removed")
		})
	}
}

func TestEmbeddingForwarding(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		s, send, relay := embeddingPair(t)
		relay.PrivateFlags = PrivateFlagXDRFile
		in := NewStructuredBlock(buildItems(t, itemCatalog(t), 4))
		require.NoError(t, sendStructures(send, s, in, EmbedFile))

		held := &DataBlock{DataType: TypeCompound, DataN: 4, OpaqueType: OpaqueStructures}
		require.NoError(t, receiveStructures(relay, s, held))
		assert.Equal(t, OpaqueXDRFile, held.OpaqueType)
		assert.Nil(t, held.Structures)
		assert.FileExists(t, held.XDRFile)

		// The relay passes the spool on untouched; the final client unpacks it.
		require.NoError(t, sendStructures(relay, s, held, EmbedInline))
		final := NewConnectionContext(nil)
		final.WorkDir = t.TempDir()
		out := &DataBlock{DataType: TypeCompound, DataN: 4, OpaqueType: OpaqueXDRFile}
		require.NoError(t, receiveStructures(final, s, out))
		assertItems(t, out.Structures, 4)

		spool := held.XDRFile
		held.Release()
		assert.NoFileExists(t, spool)
	})

	t.Run("object", func(t *testing.T) {
		s, send, relay := embeddingPair(t)
		relay.PrivateFlags = PrivateFlagXDRObject
		in := NewStructuredBlock(buildItems(t, itemCatalog(t), 4))
		require.NoError(t, sendStructures(send, s, in, EmbedObject))

		held := &DataBlock{DataType: TypeCompound, DataN: 4, OpaqueType: OpaqueStructures}
		require.NoError(t, receiveStructures(relay, s, held))
		assert.Equal(t, OpaqueXDRObject, held.OpaqueType)
		assert.Equal(t, len(held.XDRObject), held.OpaqueCount)

		require.NoError(t, sendStructures(relay, s, held, EmbedInline))
		out := &DataBlock{DataType: TypeCompound, DataN: 4, OpaqueType: OpaqueXDRObject}
		require.NoError(t, receiveStructures(NewConnectionContext(nil), s, out))
		assertItems(t, out.Structures, 4)
		assert.Equal(t, OpaqueStructures, out.OpaqueType)
	})
}

func TestReceiveOption(t *testing.T) {
	cases := []struct {
		flags   uint32
		tag     Embedding
		version int
		want    int
	}{
		{0, EmbedInline, 8, recvInline},
		{0, EmbedFile, 5, recvUnpackFile},
		{0, EmbedFile, 4, recvInvalid},
		{PrivateFlagXDRFile, EmbedFile, 5, recvForwardFile},
		{PrivateFlagXDRFile, EmbedInline, 8, recvInvalid},
		{0, EmbedObject, 7, recvUnpackObject},
		{0, EmbedObject, 6, recvInvalid},
		{PrivateFlagXDRObject, EmbedObject, 7, recvForwardObject},
		{0, Embedding(9), 8, recvInvalid},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, receiveOption(tc.flags, tc.tag, tc.version),
			"flags %#x tag %s v%d", tc.flags, tc.tag, tc.version)
	}
}

func TestEmbeddingFor(t *testing.T) {
	assert.Equal(t, EmbedInline, EmbeddingFor(0, 8))
	assert.Equal(t, EmbedFile, EmbeddingFor(PrivateFlagXDRFile, 5))
	assert.Equal(t, EmbedInline, EmbeddingFor(PrivateFlagXDRFile, 4))
	assert.Equal(t, EmbedObject, EmbeddingFor(PrivateFlagXDRObject, 7))
	assert.Equal(t, EmbedInline, EmbeddingFor(PrivateFlagXDRObject, 6))

	e, err := ParseEmbedding(" Object ")
	require.NoError(t, err)
	assert.Equal(t, EmbedObject, e)
	_, err = ParseEmbedding("carrier pigeon")
	assert.Error(t, err)
}

func TestObjectHashMismatch(t *testing.T) {
	var wire bytes.Buffer
	s := NewStream(&wire, &wire)
	x := s.Encoder()
	obj := []byte("serialised structures")
	bad := sha1.Sum([]byte("something else"))
	hash := bad[:]
	n := len(obj)
	x.Int(&n)
	x.FixedOpaque(&obj, n)
	x.Chars(&hash, HashLength)
	x.EndRecord(true)
	next := int32(42)
	x.Int32(&next)
	x.EndRecord(true)
	require.NoError(t, x.Err())

	d := s.Decoder()
	_, err := receiveObject(d)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, IsConnectionFatal(err))

	// The following record is still readable.
	var got int32
	d.BeginRecord()
	d.Int32(&got)
	require.NoError(t, d.Err())
	assert.Equal(t, int32(42), got)
}

func TestUnknownPackageTag(t *testing.T) {
	s, _, recv := embeddingPair(t)
	x := s.Encoder()
	sendTag(x, Embedding(7))
	require.NoError(t, x.Err())

	out := &DataBlock{DataType: TypeCompound, DataN: 1, OpaqueType: OpaqueStructures}
	err := receiveStructures(recv, s, out)
	assert.ErrorIs(t, err, &ProtocolError{Code: UnknownOpaqueType})
}

func TestSendStructuresCountMismatch(t *testing.T) {
	s, send, _ := embeddingPair(t)
	b := NewStructuredBlock(buildItems(t, itemCatalog(t), 3))
	b.DataN = 5
	err := sendStructures(send, s, b, EmbedInline)
	assert.ErrorIs(t, err, &ProtocolError{Code: InconsistentSArrayCount})
	assert.Zero(t, s.Writer().Written(), "nothing sent")
}

func TestXDRFileChunks(t *testing.T) {
	dir := t.TempDir()
	path := tempPath(dir)
	content := bytes.Repeat([]byte("0123456789"), FileBufferSize/10*2+7)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	var wire bytes.Buffer
	s := NewStream(&wire, &wire)
	x := s.Encoder()
	sendXDRFile(x, path)
	require.NoError(t, x.Err())

	got, err := receiveXDRFile(s.Decoder(), dir)
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestSerialiseObject(t *testing.T) {
	b, err := NewDataBlock(TypeFloat, []float32{1.5, 2.5, 3.5})
	require.NoError(t, err)
	b.DataLabel = "flux"
	obj, err := SerialiseObject(b, ProtocolVersion)
	require.NoError(t, err)

	got, err := DeserialiseObject(obj, ProtocolVersion)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5, 3.5}, got.Data)
	assert.Equal(t, "flux", got.DataLabel)

	sb := NewStructuredBlock(buildItems(t, itemCatalog(t), 2))
	obj, err = SerialiseObject(sb, ProtocolVersion)
	require.NoError(t, err)
	got, err = DeserialiseObject(obj, ProtocolVersion)
	require.NoError(t, err)
	assertItems(t, got.Structures, 2)

	obj[3] = byte(EmbedInline)
	_, err = DeserialiseObject(obj, ProtocolVersion)
	assert.ErrorIs(t, err, &ProtocolError{Code: UnknownOpaqueType})
}
