// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// ErrorType tags where an error originated. Values match legacy peers.
type ErrorType int32

const (
	ErrorTypeNone   ErrorType = 0
	SystemErrorType ErrorType = 1
	CodeErrorType   ErrorType = 2
	PluginErrorType ErrorType = 3
)

// Error codes carried in ServerBlock error stacks.
const (
	CodeDecodeFailed        = 1
	CodeEncodeFailed        = 2
	CodeUnknownProtocol     = 3
	CodeBadDirection        = 4
	CodeSkipRecord          = 5
	CodeEndRecord           = 7
	CodeIdleTimeout         = 11
	UnknownDataType         = 17
	ErrorAllocatingHeap     = 18
	InsufficientData        = 20
	UnknownOpaqueType       = 996
	IntegrityFailure        = 997
	UnknownUserType         = 998
	InconsistentSArrayCount = 999
	PluginNotFound          = 1001
	PluginFailed            = 1002
	Error9999               = 9999
	ServerRestarted         = 10000
)

// ErrorClass groups failures by what the connection can do next.
type ErrorClass int

const (
	// ClassDesync means the record stream is no longer aligned; the
	// connection must be closed.
	ClassDesync ErrorClass = iota
	// ClassVersion means the negotiated version cannot carry a value.
	ClassVersion
	// ClassResource means a receive buffer could not be sized.
	ClassResource
	// ClassSemantic means the message decoded but is inconsistent.
	ClassSemantic
	// ClassPeer is an application error reported by the other side.
	ClassPeer
)

func (c ErrorClass) String() string {
	switch c {
	case ClassDesync:
		return "desync"
	case ClassVersion:
		return "version"
	case ClassResource:
		return "resource"
	case ClassSemantic:
		return "semantic"
	case ClassPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Transport sentinels.
var (
	ErrNoRecord     = errors.New("uda: no record acquired")
	ErrRecordEnd    = errors.New("uda: read past end of record")
	ErrIdleTimeout  = errors.New("uda: idle wait exceeded timeout")
	ErrRecordClosed = errors.New("uda: record fragments already sent")
)

// ErrProtocol matches any *ProtocolError with errors.Is.
var ErrProtocol = &ProtocolError{}

// ErrVersion matches version incompatibility errors.
var ErrVersion = &ProtocolError{Code: Error9999}

// ErrIntegrity matches object hash mismatches.
var ErrIntegrity = &ProtocolError{Code: IntegrityFailure}

// ProtocolError is one entry of an error stack and the error type returned by
// every codec in this package.
type ProtocolError struct {
	Code     int
	Type     ErrorType
	Location string
	Message  string
	Class    ErrorClass
	Err      error
}

func newError(code int, location string, class ErrorClass, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Type: CodeErrorType, Location: location, Message: msg, Class: class}
}

func wrapError(code int, location string, class ErrorClass, err error) *ProtocolError {
	return &ProtocolError{Code: code, Type: CodeErrorType, Location: location, Message: err.Error(), Class: class, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: [%d] %s", e.Location, e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is matches a *ProtocolError target with the same code, or any
// *ProtocolError when the target code is zero.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Class returns the error class of err. Unclassified I/O failures are
// treated as desync.
func Class(err error) ErrorClass {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassDesync
}

// IsConnectionFatal reports whether the connection must be dropped after err.
func IsConnectionFatal(err error) bool {
	return err != nil && Class(err) == ClassDesync
}

// asProtocolError converts any error into a stack entry.
func asProtocolError(err error, location string) ProtocolError {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return *pe
	}
	code := CodeDecodeFailed
	if errors.Is(err, ErrIdleTimeout) {
		code = CodeIdleTimeout
	}
	return ProtocolError{Code: code, Type: SystemErrorType, Location: location, Message: err.Error(), Class: ClassDesync, Err: err}
}

// ErrorStack is the ordered list of errors accumulated while serving one
// request. The first entry is the most significant.
type ErrorStack struct {
	errs []ProtocolError
}

// Push appends an entry.
func (s *ErrorStack) Push(e ProtocolError) {
	s.errs = append(s.errs, e)
}

// Add records err, keeping its code when it is a *ProtocolError.
func (s *ErrorStack) Add(err error, location string) {
	if err == nil {
		return
	}
	s.Push(asProtocolError(err, location))
}

// Len returns the number of entries.
func (s *ErrorStack) Len() int {
	return len(s.errs)
}

// Errors returns the entries in push order.
func (s *ErrorStack) Errors() []ProtocolError {
	return s.errs
}

// Most returns the most significant entry, or nil when empty.
func (s *ErrorStack) Most() *ProtocolError {
	if len(s.errs) == 0 {
		return nil
	}
	return &s.errs[0]
}

// Err returns the most significant entry as an error, or nil.
func (s *ErrorStack) Err() error {
	if m := s.Most(); m != nil {
		e := *m
		return &e
	}
	return nil
}

// Reset empties the stack.
func (s *ErrorStack) Reset() {
	s.errs = s.errs[:0]
}

// isTransportClosed reports errors that mean the peer went away.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection")
}

// callerTrace renders the top frames of the calling goroutine's stack.
func callerTrace(skip, depth int) string {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "\n\t%s (%s:%d)", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
