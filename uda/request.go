// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "strings"

// RequestData is one data access request. Signal and Source name what to
// read; a put request carries its payload in PutData.
type RequestData struct {
	Request    int
	ExpNumber  int
	Pass       int
	TPass      string
	Archive    string
	DeviceName string
	Server     string
	Path       string
	File       string
	Format     string
	Signal     string
	Source     string
	APIDelim   string
	Put        bool

	// PutData travels as a PutDataBlockList immediately after the
	// RequestBlock when Put is set.
	PutData PutDataBlockList
}

// NewRequest returns a generic read of signal from source.
func NewRequest(signal, source string) RequestData {
	return RequestData{Request: RequestReadGeneric, Signal: signal, Source: source, APIDelim: "::"}
}

func (r *RequestData) code(x *XDR, version int) {
	x.Int(&r.Request)
	x.Int(&r.ExpNumber)
	x.Int(&r.Pass)
	x.String(&r.TPass, StringLength)
	x.String(&r.Archive, StringLength)
	x.String(&r.DeviceName, StringLength)
	x.String(&r.Server, StringLength)
	x.String(&r.Path, StringLength)
	x.String(&r.File, StringLength)
	x.String(&r.Format, StringLength)
	x.String(&r.Signal, MaxMeta)
	if version >= 6 {
		x.String(&r.Source, StringLength)
		x.String(&r.APIDelim, MaxName)
	}
	if version >= 7 {
		x.Bool(&r.Put)
	} else if x.Decoding() {
		r.Put = false
	}
}

// Function returns the plugin function named by a "plugin::function(args)"
// signal, or the whole signal when it has no delimiter.
func (r *RequestData) Function() string {
	delim := r.APIDelim
	if delim == "" {
		delim = "::"
	}
	sig := r.Signal
	if i := strings.Index(sig, delim); i >= 0 {
		sig = sig[i+len(delim):]
	}
	if i := strings.IndexByte(sig, '('); i >= 0 {
		sig = sig[:i]
	}
	return strings.TrimSpace(sig)
}

// Plugin returns the plugin name that resolves the request: the signal
// prefix before the delimiter, else the source.
func (r *RequestData) Plugin() string {
	delim := r.APIDelim
	if delim == "" {
		delim = "::"
	}
	if i := strings.Index(r.Signal, delim); i > 0 {
		return strings.ToUpper(strings.TrimSpace(r.Signal[:i]))
	}
	src := r.Source
	if i := strings.Index(src, delim); i > 0 {
		src = src[:i]
	}
	return strings.ToUpper(strings.TrimSpace(src))
}

// RequestBlock carries one or more requests. Responses come back in the
// same order.
type RequestBlock struct {
	Requests []RequestData
}

func (b *RequestBlock) code(x *XDR, version int) {
	n := len(b.Requests)
	codeListCount(x, &n, version, "RequestBlock")
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if n > MaxLoop {
			x.Fail(newError(ErrorAllocatingHeap, "RequestBlock", ClassResource, "too many requests"))
			return
		}
		b.Requests = make([]RequestData, n)
	}
	for i := 0; i < n && x.Err() == nil; i++ {
		b.Requests[i].code(x, version)
	}
}

// Puts returns the number of requests that carry put data.
func (b *RequestBlock) Puts() int {
	n := 0
	for i := range b.Requests {
		if b.Requests[i].Put {
			n++
		}
	}
	return n
}
