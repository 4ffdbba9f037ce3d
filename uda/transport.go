// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Idle-wait parameters for reads on connections that support deadlines.
const (
	MinBlockTime = 1 * time.Millisecond
	MaxBlockTime = 10 * time.Millisecond
	MaxBlock     = 1000 * time.Millisecond
)

const lastFragment = 1 << 31

// RecordWriter frames outbound bytes into RFC 5531 record fragments. Bytes
// accumulate in a block-sized buffer; a full block leaves as a non-final
// fragment, and EndRecord closes the record with a final fragment.
type RecordWriter struct {
	w       io.Writer
	buf     []byte // current fragment, header placeholder first
	pending []byte // closed fragments not yet written
	sent    bool   // part of the open record already reached w
	written int64
	err     error
}

// NewRecordWriter returns a RecordWriter framing onto w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w, buf: make([]byte, 4, WriteBlockSize)}
}

// Write appends p to the open record.
func (rw *RecordWriter) Write(p []byte) (int, error) {
	if rw.err != nil {
		return 0, rw.err
	}
	total := 0
	for len(p) > 0 {
		space := WriteBlockSize - len(rw.buf)
		if space == 0 {
			rw.closeFragment(false)
			rw.sent = true
			if err := rw.flush(); err != nil {
				return total, err
			}
			continue
		}
		n := min(space, len(p))
		rw.buf = append(rw.buf, p[:n]...)
		p = p[n:]
		total += n
	}
	return total, nil
}

func (rw *RecordWriter) closeFragment(last bool) {
	n := uint32(len(rw.buf) - 4)
	if last {
		n |= lastFragment
	}
	binary.BigEndian.PutUint32(rw.buf[:4], n)
	rw.pending = append(rw.pending, rw.buf...)
	rw.buf = rw.buf[:4]
}

func (rw *RecordWriter) flush() error {
	if len(rw.pending) == 0 {
		return nil
	}
	n, err := rw.w.Write(rw.pending)
	rw.written += int64(n)
	rw.pending = rw.pending[:0]
	if err != nil {
		rw.err = err
	}
	return err
}

// EndRecord closes the open record. With flush set, every closed record is
// written to the underlying writer now; otherwise they leave with the next
// flush or once a block's worth has accumulated.
func (rw *RecordWriter) EndRecord(flush bool) error {
	if rw.err != nil {
		return rw.err
	}
	rw.closeFragment(true)
	rw.sent = false
	if flush || len(rw.pending) >= WriteBlockSize {
		return rw.flush()
	}
	return nil
}

// Flush writes closed records. The open record is not affected.
func (rw *RecordWriter) Flush() error {
	if rw.err != nil {
		return rw.err
	}
	return rw.flush()
}

// AbortRecord discards the open record. It fails with ErrRecordClosed when a
// fragment of the record has already been written, in which case the peer
// is out of step and the connection has to be dropped.
func (rw *RecordWriter) AbortRecord() error {
	rw.buf = rw.buf[:4]
	if rw.sent {
		rw.sent = false
		return ErrRecordClosed
	}
	return nil
}

// Buffered returns the number of payload bytes in the open record that
// have not yet been framed.
func (rw *RecordWriter) Buffered() int {
	return len(rw.buf) - 4
}

// Written returns the total bytes written to the underlying writer.
func (rw *RecordWriter) Written() int64 {
	return rw.written
}

// RecordReader reads the payload of record-marked input. A record must be
// acquired with SkipRecord before any of it can be read, and reading stops
// with ErrRecordEnd at the end of the record.
type RecordReader struct {
	r         io.Reader
	remaining int
	last      bool
	acquired  bool
	read      int64
}

// NewRecordReader returns a RecordReader over r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, ReadBlockSize), last: true}
}

func (rr *RecordReader) readHeader() error {
	var hdr [4]byte
	if _, err := io.ReadFull(rr.r, hdr[:]); err != nil {
		return err
	}
	rr.read += 4
	h := binary.BigEndian.Uint32(hdr[:])
	rr.last = h&lastFragment != 0
	rr.remaining = int(h &^ lastFragment)
	return nil
}

// Read reads payload bytes of the current record.
func (rr *RecordReader) Read(p []byte) (int, error) {
	if !rr.acquired {
		return 0, ErrNoRecord
	}
	for rr.remaining == 0 {
		if rr.last {
			return 0, ErrRecordEnd
		}
		if err := rr.readHeader(); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
	if len(p) > rr.remaining {
		p = p[:rr.remaining]
	}
	n, err := rr.r.Read(p)
	rr.remaining -= n
	rr.read += int64(n)
	if errors.Is(err, io.EOF) && rr.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// SkipRecord discards what is left of the current record and positions the
// reader at the start of the next one.
func (rr *RecordReader) SkipRecord() error {
	for rr.remaining > 0 || !rr.last {
		if rr.remaining > 0 {
			n, err := io.CopyN(io.Discard, rr.r, int64(rr.remaining))
			rr.read += n
			rr.remaining -= int(n)
			if err != nil {
				return err
			}
		}
		if !rr.last {
			if err := rr.readHeader(); err != nil {
				return err
			}
		}
	}
	rr.last = false
	rr.acquired = true
	return nil
}

// BytesRead returns the total bytes consumed from the underlying reader.
func (rr *RecordReader) BytesRead() int64 {
	return rr.read
}

// deadlineReader is implemented by connections that support read deadlines.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// idleReader polls a deadline-capable connection with an adaptive wait,
// starting at MinBlockTime and backing off to MaxBlockTime once MaxBlock has
// passed. Each poll observes ctx, and the read fails once the cumulative
// wait exceeds limit.
type idleReader struct {
	conn  deadlineReader
	ctx   context.Context
	limit time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	wait := MinBlockTime
	var waited time.Duration
	for {
		if err := ir.ctx.Err(); err != nil {
			return 0, err
		}
		if err := ir.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return ir.conn.Read(p)
		}
		n, err := ir.conn.Read(p)
		if n > 0 {
			return n, nil
		}
		if !isTimeout(err) {
			return n, err
		}
		waited += wait
		if waited > MaxBlock {
			wait = MaxBlockTime
		}
		if ir.limit > 0 && waited > ir.limit {
			return 0, ErrIdleTimeout
		}
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Stream is the record-marked duplex channel of one connection. The read
// and write halves may be a plain socket or any drop-in substitute such as
// a TLS session.
type Stream struct {
	rr     *RecordReader
	rw     *RecordWriter
	idle   *idleReader
	closer io.Closer
}

// NewStream frames r and w. When r supports read deadlines, reads use the
// adaptive idle wait.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{}
	src := r
	if dr, ok := r.(deadlineReader); ok {
		s.idle = &idleReader{conn: dr, ctx: context.Background(), limit: DefaultTimeout * time.Second}
		src = s.idle
	}
	s.rr = NewRecordReader(src)
	s.rw = NewRecordWriter(w)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewConnStream frames a net.Conn.
func NewConnStream(conn net.Conn) *Stream {
	return NewStream(conn, conn)
}

// SetIdleLimit bounds the cumulative idle wait of a single read.
// Zero waits forever.
func (s *Stream) SetIdleLimit(d time.Duration) {
	if s.idle != nil {
		s.idle.limit = d
	}
}

// SetContext makes idle waits observe ctx.
func (s *Stream) SetContext(ctx context.Context) {
	if s.idle != nil && ctx != nil {
		s.idle.ctx = ctx
	}
}

// Reader returns the inbound record reader.
func (s *Stream) Reader() *RecordReader { return s.rr }

// Writer returns the outbound record writer.
func (s *Stream) Writer() *RecordWriter { return s.rw }

// Close flushes closed records and closes the underlying connection if it
// is closable.
func (s *Stream) Close() error {
	err := s.rw.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
