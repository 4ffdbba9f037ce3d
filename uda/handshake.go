// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"os"
	"runtime"
)

// ClientBlock opens a connection and later refreshes the client's options.
// The Get* switches ask the server for server-side processing of the
// returned data.
type ClientBlock struct {
	Version      int
	PID          int
	Timeout      int
	UID          string
	ClientFlags  uint32
	AltRank      int
	PrivateFlags uint32
	OSName       string
	DOI          string

	GetNoDimData  bool
	GetDataDouble bool
	GetTimeDouble bool
	GetDimDouble  bool
	GetScalar     bool
	GetBytes      bool
	GetBad        bool
	GetMeta       bool
	GetAsIs       bool
	GetUncal      bool
	GetNotOff     bool
}

// NewClientBlock returns a block announcing the local protocol version for
// the current process.
func NewClientBlock(timeout int) *ClientBlock {
	uid := os.Getenv("USER")
	if uid == "" {
		uid = "unknown"
	}
	return &ClientBlock{
		Version: ProtocolVersion,
		PID:     os.Getpid(),
		Timeout: timeout,
		UID:     uid,
		OSName:  runtime.GOOS,
	}
}

// CloseDown reports whether the block asks the server to finish.
func (b *ClientBlock) CloseDown() bool {
	return b.Timeout == 0 || b.ClientFlags&ClientFlagCloseDown != 0
}

// code transfers the block. version is the highest version this end will
// speak; the block is coded at the lower of it and the announced version,
// which is known as soon as the first field has been read.
func (b *ClientBlock) code(x *XDR, version int) {
	x.Int(&b.Version)
	x.Int(&b.PID)
	x.Int(&b.Timeout)
	x.String(&b.UID, StringLength)
	if x.Err() != nil {
		return
	}
	version = EffectiveVersion(b.Version, version)

	if version >= 6 {
		x.Uint32(&b.ClientFlags)
		x.Int(&b.AltRank)
	} else {
		// Older clients send an unused verbosity word here.
		var legacy int32
		x.Int32(&legacy)
		x.Int(&b.AltRank)
	}

	for _, get := range []*bool{
		&b.GetNoDimData, &b.GetDataDouble, &b.GetTimeDouble, &b.GetDimDouble, &b.GetScalar,
		&b.GetBytes, &b.GetBad, &b.GetMeta, &b.GetAsIs, &b.GetUncal, &b.GetNotOff,
	} {
		x.Bool(get)
	}

	if version >= 5 {
		x.Uint32(&b.PrivateFlags)
	} else if x.Decoding() {
		b.PrivateFlags = 0
	}
	if x.Decoding() && version < 6 {
		b.ClientFlags = 0
		b.AltRank = 0
	}
	if version >= 7 {
		x.String(&b.OSName, StringLength)
		x.String(&b.DOI, StringLength)
	}
}

// ServerBlock answers every ClientBlock and heads every response. A non
// empty Errors list means no data follows.
type ServerBlock struct {
	Version int
	Error   int
	Message string
	OSName  string
	DOI     string
	Errors  []ProtocolError
}

// NewServerBlock returns an empty block at the local protocol version.
func NewServerBlock() *ServerBlock {
	return &ServerBlock{Version: ProtocolVersion, OSName: runtime.GOOS}
}

// SetErrors copies the stack into the block. The first entry also fills
// Error and Message.
func (b *ServerBlock) SetErrors(stack *ErrorStack) {
	b.Errors = append(b.Errors[:0], stack.Errors()...)
	for i := range b.Errors {
		b.Errors[i].Location = truncate(b.Errors[i].Location, StringLength-1)
		b.Errors[i].Message = truncate(b.Errors[i].Message, StringLength-1)
	}
	b.Error, b.Message = 0, ""
	if len(b.Errors) > 0 {
		b.Error = b.Errors[0].Code
		b.Message = b.Errors[0].Message
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Err returns the most significant reported error, or nil.
func (b *ServerBlock) Err() error {
	if len(b.Errors) == 0 {
		if b.Error != 0 {
			return &ProtocolError{Code: b.Error, Message: b.Message, Class: ClassPeer}
		}
		return nil
	}
	e := b.Errors[0]
	return &e
}

func (b *ServerBlock) code(x *XDR, version int) {
	x.Int(&b.Version)
	if x.Err() != nil {
		return
	}
	version = EffectiveVersion(b.Version, version)

	n := len(b.Errors)
	x.Int(&b.Error)
	x.Uint(&n)
	x.String(&b.Message, StringLength)
	if version >= 7 {
		x.String(&b.OSName, StringLength)
		x.String(&b.DOI, StringLength)
	}
	if x.Err() != nil || n == 0 {
		if x.Decoding() {
			b.Errors = nil
		}
		return
	}
	if x.Decoding() {
		if n > MaxLoop {
			x.Fail(newError(ErrorAllocatingHeap, "ServerBlock", ClassResource,
				fmt.Sprintf("peer declared %d errors", n)))
			return
		}
		b.Errors = make([]ProtocolError, n)
	}
	for i := 0; i < n && x.Err() == nil; i++ {
		e := &b.Errors[i]
		enum32(x, &e.Type)
		x.Int(&e.Code)
		x.String(&e.Location, StringLength)
		x.String(&e.Message, StringLength)
		if x.Decoding() {
			e.Class = ClassPeer
		}
	}
}

// checkRestart compares a received server version with the one seen on
// the previous exchange. A change means the server process was replaced
// and the connection state is gone.
func checkRestart(cc *ConnectionContext, b *ServerBlock) error {
	if cc.PeerVersion != 0 && b.Version != cc.PeerVersion {
		err := newError(ServerRestarted, "ServerBlock", ClassDesync,
			fmt.Sprintf("server version changed from %d to %d", cc.PeerVersion, b.Version))
		b.Version = cc.PeerVersion
		return err
	}
	return nil
}
