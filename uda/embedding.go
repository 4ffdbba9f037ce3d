// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Embedding selects how a structure graph travels. The value is also the
// package tag that precedes the payload on the wire.
type Embedding int32

const (
	// EmbedFile spools the graph to a file and sends it in chunks.
	EmbedFile Embedding = 1
	// EmbedInline sends the graph directly on the connection.
	EmbedInline Embedding = 2
	// EmbedObject sends the graph as one hashed byte object.
	EmbedObject Embedding = 3
)

func (e Embedding) String() string {
	switch e {
	case EmbedFile:
		return "file"
	case EmbedInline:
		return "inline"
	case EmbedObject:
		return "object"
	default:
		return fmt.Sprintf("Embedding(%d)", int32(e))
	}
}

// ParseEmbedding parses "inline", "file" or "object".
func ParseEmbedding(s string) (Embedding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inline":
		return EmbedInline, nil
	case "file":
		return EmbedFile, nil
	case "object":
		return EmbedObject, nil
	}
	return 0, fmt.Errorf("uda: unknown embedding %q", s)
}

// EmbeddingFor maps private flags to the embedding a sender uses. The file
// embedding needs version 5 and the object embedding version 7; otherwise
// the graph goes inline.
func EmbeddingFor(privateFlags uint32, version int) Embedding {
	switch {
	case privateFlags&PrivateFlagXDRFile != 0 && version >= 5:
		return EmbedFile
	case privateFlags&PrivateFlagXDRObject != 0 && version >= 7:
		return EmbedObject
	}
	return EmbedInline
}

// Receive options: what a receiver does with a package, given its own
// forwarding flags.
const (
	recvInline        = 1 // unpack from the connection
	recvUnpackFile    = 2 // spool, then unpack
	recvForwardFile   = 3 // spool and hold unopened
	recvInvalid       = 4
	recvUnpackObject  = 5 // verify, then unpack
	recvForwardObject = 6 // verify and hold unopened
)

func receiveOption(privateFlags uint32, tag Embedding, version int) int {
	forwardFile := privateFlags&PrivateFlagXDRFile != 0
	forwardObject := privateFlags&PrivateFlagXDRObject != 0
	switch {
	case tag == EmbedInline && !forwardFile:
		return recvInline
	case tag == EmbedFile && version >= 5 && forwardFile:
		return recvForwardFile
	case tag == EmbedFile && version >= 5:
		return recvUnpackFile
	case tag == EmbedObject && version >= 7 && forwardObject:
		return recvForwardObject
	case tag == EmbedObject && version >= 7:
		return recvUnpackObject
	}
	return recvInvalid
}

// sendStructures transfers the opaque payload of b after its DataBlock. A
// structure graph is sent with the given embedding; spooled files and
// objects held for forwarding are passed on as they are.
func sendStructures(cc *ConnectionContext, s *Stream, b *DataBlock, mode Embedding) error {
	if cc.Version < 3 {
		return nil
	}
	x := s.Encoder()
	switch b.OpaqueType {
	case OpaqueStructures:
		if b.Structures == nil || b.Structures.Arena.Node(b.Structures.Root) == nil {
			return newError(InconsistentSArrayCount, "Structures", ClassSemantic, "block has no structure graph")
		}
		if got := b.Structures.Count(); got != b.DataN {
			return newError(InconsistentSArrayCount, "Structures", ClassSemantic,
				fmt.Sprintf("carrier holds %d elements, block declares %d", got, b.DataN))
		}
		switch mode {
		case EmbedInline:
			// Refuse an unencodable graph before the package tag leaves.
			if err := encodeStructures(io.Discard, b.Structures, cc.Version); err != nil {
				return err
			}
			sendTag(x, mode)
			codeTypeList(x, b.Structures.Catalog)
			codeStructureData(x, b.Structures, cc.Version)
		case EmbedFile:
			path, err := spoolStructures(cc.WorkDir, b.Structures, cc.Version)
			if err != nil {
				return err
			}
			defer os.Remove(path)
			sendTag(x, mode)
			sendXDRFile(x, path)
		case EmbedObject:
			obj, err := packStructures(b.Structures, cc.Version)
			if err != nil {
				return err
			}
			sendTag(x, mode)
			sendObject(x, obj)
		default:
			return newError(UnknownOpaqueType, "Structures", ClassSemantic, fmt.Sprintf("cannot send with embedding %s", mode))
		}
	case OpaqueXDRFile:
		if err := checkFileSize(b.XDRFile); err != nil {
			return err
		}
		sendXDRFile(x, b.XDRFile)
	case OpaqueXDRObject:
		sendObject(x, b.XDRObject)
	default:
		return newError(UnknownOpaqueType, "Structures", ClassSemantic, fmt.Sprintf("opaque type %s has no payload", b.OpaqueType))
	}
	if x.Err() != nil {
		x.Abort()
	}
	return x.Err()
}

// receiveStructures reads the opaque payload that follows b. Depending on
// the package and the local forwarding flags, b ends up holding a structure
// graph, a spooled file or an object.
func receiveStructures(cc *ConnectionContext, s *Stream, b *DataBlock) error {
	if cc.Version < 3 {
		return nil
	}
	x := s.Decoder()
	switch b.OpaqueType {
	case OpaqueStructures:
		x.BeginRecord()
		var tag int32
		x.Int32(&tag)
		if x.Err() != nil {
			return x.Err()
		}
		switch receiveOption(cc.PrivateFlags, Embedding(tag), cc.Version) {
		case recvInline:
			sd := &StructuredData{Catalog: newEmptyCatalog()}
			codeTypeList(x, sd.Catalog)
			if err := x.Err(); err != nil {
				// The data record is still ahead of the reader.
				return wrapError(CodeDecodeFailed, "Structures", ClassDesync, err)
			}
			codeStructureData(x, sd, cc.Version)
			if x.Err() != nil {
				return x.Err()
			}
			return attachStructures(cc, b, sd)
		case recvUnpackFile:
			return receiveFileInto(cc, x, b, false)
		case recvForwardFile:
			return receiveFileInto(cc, x, b, true)
		case recvUnpackObject:
			return receiveObjectInto(cc, x, b, false)
		case recvForwardObject:
			return receiveObjectInto(cc, x, b, true)
		}
		// The payload records that follow cannot be interpreted.
		return newError(UnknownOpaqueType, "Structures", ClassDesync,
			fmt.Sprintf("package type %d cannot be received with private flags %#x at version %d", tag, cc.PrivateFlags, cc.Version))
	case OpaqueXDRFile:
		return receiveFileInto(cc, x, b, cc.PrivateFlags&PrivateFlagXDRFile != 0)
	case OpaqueXDRObject:
		return receiveObjectInto(cc, x, b, cc.PrivateFlags&PrivateFlagXDRObject != 0)
	}
	return newError(UnknownOpaqueType, "Structures", ClassSemantic, fmt.Sprintf("opaque type %s has no payload", b.OpaqueType))
}

func sendTag(x *XDR, e Embedding) {
	tag := int32(e)
	x.Int32(&tag)
	x.EndRecord(true)
}

// attachStructures checks a received graph against its block and merges
// its definitions into the connection's catalog.
func attachStructures(cc *ConnectionContext, b *DataBlock, sd *StructuredData) error {
	if err := checkCarrier(sd, b.DataN); err != nil {
		sd.Release()
		return err
	}
	cc.Catalog.Merge(sd.Catalog)
	b.Structures = sd
	b.OpaqueType = OpaqueStructures
	b.XDRFile = ""
	b.XDRObject = nil
	return nil
}

// encodeStructures writes the catalog and graph as plain XDR.
func encodeStructures(w io.Writer, sd *StructuredData, version int) error {
	x := NewPlainEncoder(w)
	codeTypeList(x, sd.Catalog)
	codeStructureData(x, sd, version)
	return x.Err()
}

// decodeStructures reads a catalog and graph written by encodeStructures.
func decodeStructures(r io.Reader, version int) (*StructuredData, error) {
	x := NewPlainDecoder(r)
	sd := &StructuredData{Catalog: newEmptyCatalog()}
	codeTypeList(x, sd.Catalog)
	codeStructureData(x, sd, version)
	if err := x.Err(); err != nil {
		return nil, err
	}
	return sd, nil
}

func packStructures(sd *StructuredData, version int) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeStructures(&buf, sd, version); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func tempPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "udaXDR-"+uuid.NewString())
}

func createTemp(dir string) (*os.File, error) {
	f, err := os.OpenFile(tempPath(dir), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, wrapError(ErrorAllocatingHeap, "TempFile", ClassResource, err)
	}
	return f, nil
}

// spoolStructures writes the graph to a new file in dir and returns its path.
func spoolStructures(dir string, sd *StructuredData, version int) (string, error) {
	f, err := createTemp(dir)
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	err = encodeStructures(w, sd, version)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = wrapError(CodeEncodeFailed, "TempFile", ClassResource, cerr)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := checkFileSize(f.Name()); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func checkFileSize(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return wrapError(CodeEncodeFailed, "XDRFile", ClassSemantic, err)
	}
	if fi.Size() > int64(MaxFileChunks)*FileBufferSize {
		return newError(ErrorAllocatingHeap, "XDRFile", ClassResource,
			fmt.Sprintf("file of %d bytes exceeds %d chunks", fi.Size(), MaxFileChunks))
	}
	return nil
}

// sendXDRFile sends a file as records of at most FileBufferSize bytes. The
// first record starts with the chunk size; a zero-length chunk ends the file.
func sendXDRFile(x *XDR, path string) {
	if x.Err() != nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		x.Fail(wrapError(CodeEncodeFailed, "sendXDRFile", ClassSemantic, err))
		return
	}
	defer f.Close()

	bufSize := FileBufferSize
	x.Int(&bufSize)
	buf := make([]byte, FileBufferSize)
	for x.Err() == nil {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunk := buf[:n]
			x.Int(&n)
			x.Chars(&chunk, n)
			x.EndRecord(true)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			// Chunks already sent cannot be withdrawn.
			x.Fail(wrapError(CodeEncodeFailed, "sendXDRFile", ClassDesync, err))
			return
		}
	}
	zero := 0
	x.Int(&zero)
	x.EndRecord(true)
}

// receiveXDRFile spools a file sent by sendXDRFile into dir and returns its
// path. The file is removed on failure.
func receiveXDRFile(x *XDR, dir string) (string, error) {
	x.BeginRecord()
	var bufSize int
	x.Int(&bufSize)
	if x.Err() != nil {
		return "", x.Err()
	}
	if bufSize <= 0 || bufSize > FileBufferSize {
		return "", newError(ErrorAllocatingHeap, "receiveXDRFile", ClassDesync,
			fmt.Sprintf("chunk size %d outside 1..%d", bufSize, FileBufferSize))
	}
	f, err := createTemp(dir)
	if err != nil {
		return "", err
	}
	path := f.Name()
	w := bufio.NewWriter(f)
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", err
	}
	for chunk := 0; ; chunk++ {
		if chunk > MaxFileChunks {
			return fail(newError(ErrorAllocatingHeap, "receiveXDRFile", ClassDesync,
				fmt.Sprintf("file exceeds %d chunks", MaxFileChunks)))
		}
		if chunk > 0 {
			x.BeginRecord()
		}
		var n int
		x.Int(&n)
		if x.Err() != nil {
			return fail(x.Err())
		}
		if n < 0 || n > bufSize {
			return fail(newError(InsufficientData, "receiveXDRFile", ClassDesync,
				fmt.Sprintf("chunk of %d bytes, limit %d", n, bufSize)))
		}
		if n == 0 {
			break
		}
		var data []byte
		x.Chars(&data, n)
		if x.Err() != nil {
			return fail(x.Err())
		}
		if _, err := w.Write(data); err != nil {
			return fail(wrapError(ErrorAllocatingHeap, "receiveXDRFile", ClassDesync, err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(wrapError(ErrorAllocatingHeap, "receiveXDRFile", ClassResource, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", wrapError(ErrorAllocatingHeap, "receiveXDRFile", ClassResource, err)
	}
	return path, nil
}

func receiveFileInto(cc *ConnectionContext, x *XDR, b *DataBlock, forward bool) error {
	path, err := receiveXDRFile(x, cc.WorkDir)
	if err != nil {
		return err
	}
	if forward {
		b.Structures = nil
		b.XDRFile = path
		b.OpaqueType = OpaqueXDRFile
		return nil
	}
	defer os.Remove(path)
	sd, err := unpackFile(path, cc.Version)
	if err != nil {
		return err
	}
	return attachStructures(cc, b, sd)
}

func unpackFile(path string, version int) (*StructuredData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapError(CodeDecodeFailed, "XDRFile", ClassSemantic, err)
	}
	defer f.Close()
	sd, err := decodeStructures(bufio.NewReader(f), version)
	if err != nil {
		// The file is local; its failure does not touch the connection.
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Class == ClassDesync {
			e := *pe
			e.Class = ClassSemantic
			return nil, &e
		}
		return nil, err
	}
	return sd, nil
}

// sendObject sends (size, bytes, SHA-1 hash) in one record.
func sendObject(x *XDR, obj []byte) {
	n := len(obj)
	sum := sha1.Sum(obj)
	hash := sum[:]
	x.Int(&n)
	x.FixedOpaque(&obj, n)
	x.Chars(&hash, HashLength)
	x.EndRecord(true)
}

// receiveObject reads an object record. The whole record is consumed before
// the hash is checked, so a mismatch leaves the connection usable.
func receiveObject(x *XDR) ([]byte, error) {
	x.BeginRecord()
	var n int
	x.Int(&n)
	if x.Err() != nil {
		return nil, x.Err()
	}
	if !x.checkCount("XDRObject", n) {
		return nil, x.Err()
	}
	var obj, hash []byte
	x.FixedOpaque(&obj, n)
	x.Chars(&hash, HashLength)
	if x.Err() != nil {
		return nil, x.Err()
	}
	if sum := sha1.Sum(obj); !bytes.Equal(sum[:], hash) {
		return nil, newError(IntegrityFailure, "XDRObject", ClassSemantic,
			fmt.Sprintf("object hash mismatch: received %x, computed %x", hash, sum))
	}
	return obj, nil
}

func receiveObjectInto(cc *ConnectionContext, x *XDR, b *DataBlock, forward bool) error {
	obj, err := receiveObject(x)
	if err != nil {
		return err
	}
	if forward {
		b.Structures = nil
		b.XDRObject = obj
		b.OpaqueCount = len(obj)
		b.OpaqueType = OpaqueXDRObject
		return nil
	}
	sd, err := decodeStructures(bytes.NewReader(obj), cc.Version)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Class == ClassDesync {
			e := *pe
			e.Class = ClassSemantic
			return &e
		}
		return err
	}
	return attachStructures(cc, b, sd)
}

// SerialiseObject writes b, and its structure graph if it carries one, as
// unframed XDR prefixed by the object package tag. The result can be stored
// and later restored with DeserialiseObject at the same version.
func SerialiseObject(b *DataBlock, version int) ([]byte, error) {
	var buf bytes.Buffer
	x := NewPlainEncoder(&buf)
	tag := int32(EmbedObject)
	x.Int32(&tag)
	list := &DataBlockList{Blocks: []*DataBlock{b}}
	list.code(x, version)
	if x.Err() == nil && b.OpaqueType == OpaqueStructures && b.DataType == TypeCompound {
		if b.Structures == nil {
			return nil, newError(InconsistentSArrayCount, "SerialiseObject", ClassSemantic, "block has no structure graph")
		}
		codeTypeList(x, b.Structures.Catalog)
		codeStructureData(x, b.Structures, version)
	}
	if err := x.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserialiseObject restores a block written by SerialiseObject.
func DeserialiseObject(data []byte, version int) (*DataBlock, error) {
	x := NewPlainDecoder(bytes.NewReader(data))
	var tag int32
	x.Int32(&tag)
	if x.Err() == nil && Embedding(tag) != EmbedObject {
		return nil, newError(UnknownOpaqueType, "DeserialiseObject", ClassSemantic, fmt.Sprintf("package type %d", tag))
	}
	list := &DataBlockList{}
	list.code(x, version)
	if err := x.Err(); err != nil {
		return nil, err
	}
	if len(list.Blocks) != 1 {
		return nil, newError(InsufficientData, "DeserialiseObject", ClassSemantic,
			fmt.Sprintf("object holds %d blocks", len(list.Blocks)))
	}
	b := list.Blocks[0]
	if b.OpaqueType == OpaqueStructures && b.DataType == TypeCompound {
		sd := &StructuredData{Catalog: newEmptyCatalog()}
		codeTypeList(x, sd.Catalog)
		codeStructureData(x, sd, version)
		if err := x.Err(); err != nil {
			return nil, err
		}
		if err := checkCarrier(sd, b.DataN); err != nil {
			return nil, err
		}
		b.Structures = sd
	}
	return b, nil
}

// Release frees the block's structure graph and any spooled file it owns.
func (b *DataBlock) Release() {
	if b == nil {
		return
	}
	b.Structures.Release()
	b.Structures = nil
	if b.XDRFile != "" {
		os.Remove(b.XDRFile)
		b.XDRFile = ""
	}
	b.XDRObject = nil
}
