// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// errCloseDown ends a serve loop at the client's request.
var errCloseDown = errors.New("uda: client requested close down")

// Server answers UDA clients. Each connection performs one handshake and
// then serves requests until the client closes it.
type Server struct {
	registry     *Registry
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	debugErrors  bool
	workDir      string
	logger       *slog.Logger
	embedding    *Embedding
}

// NewServer creates a server resolving requests with registry.
func NewServer(registry *Registry) *Server {
	return &Server{
		registry: registry,
		workDir:  os.TempDir(),
		logger:   slog.Default(),
	}
}

// SetServerID sets a server identifier reported to dispatch hooks.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each request.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetDebugErrors controls whether plugin failures reported to clients
// include the server's call stack.
func (s *Server) SetDebugErrors(enabled bool) {
	s.debugErrors = enabled
}

// SetWorkDir sets the directory for structure spool files.
func (s *Server) SetWorkDir(dir string) {
	s.workDir = dir
}

// SetLogger sets the logger connection loggers derive from.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEmbedding forces the structure embedding instead of deriving it from
// the client's private flags.
func (s *Server) SetEmbedding(e Embedding) {
	s.embedding = &e
}

// RunStdio serves one connection on stdin and stdout, the way a server
// started by inetd receives its socket.
func (s *Server) RunStdio() {
	signal.Ignore(syscall.SIGPIPE)
	s.Serve(os.Stdin, os.Stdout)
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop on the given reader/writer pair with a context.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	st := NewStream(r, w)
	st.SetContext(ctx)
	s.serveStream(ctx, st, "")
}

// ServeConn serves one accepted connection and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	st := NewConnStream(conn)
	st.SetContext(ctx)
	s.serveStream(ctx, st, conn.RemoteAddr().String())
}

// ServeListener accepts connections on l until ctx is done or l fails, serving
// each on its own goroutine.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ListenAndServe listens on network and address and calls ServeListener.
func (s *Server) ListenAndServe(ctx context.Context, network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, l)
}

func (s *Server) serveStream(ctx context.Context, st *Stream, peer string) {
	cc := NewConnectionContext(s.logger)
	cc.WorkDir = s.workDir
	if peer != "" {
		cc.Logger = cc.Logger.With("peer", peer)
	}
	// A panic while serving ends this connection only.
	defer func() {
		if rv := recover(); rv != nil {
			err := newError(CodeDecodeFailed, "serveStream", ClassDesync, fmt.Sprintf("connection panic: %v", rv))
			slog.Error("connection panic", "conn_id", cc.ID.String(), "err", rv, "stack", callerTrace(2, 32))
			s.fault(cc, peer, err)
		}
	}()
	client, err := s.handshake(cc, st)
	if err != nil {
		if !errors.Is(err, errCloseDown) && !errors.Is(err, io.EOF) && !isTransportClosed(err) {
			slog.Error("handshake error", "conn_id", cc.ID.String(), "err", err)
		}
		return
	}
	cc.Logger.Debug("connection open", "client_version", client.Version, "version", cc.Version)
	for {
		err := s.serveOne(ctx, cc, st, client)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errCloseDown) {
				cc.Logger.Debug("connection closed")
				return
			}
			// Only log unexpected errors (not broken pipe / connection reset)
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "conn_id", cc.ID.String(), "err", err)
				s.fault(cc, peer, err)
			}
			return
		}
	}
}

// fault reports a connection the server is about to drop.
func (s *Server) fault(cc *ConnectionContext, peer string, err error) {
	if s.dispatchHook == nil {
		return
	}
	hookFault(s.dispatchHook, ConnectionInfo{
		ServerID: s.serverID,
		ConnID:   cc.ID.String(),
		Peer:     peer,
		Version:  cc.Version,
	}, err)
}

// handshake exchanges the ClientBlock and ServerBlock that open a
// connection. It happens once per connection.
func (s *Server) handshake(cc *ConnectionContext, st *Stream) (*ClientBlock, error) {
	client := &ClientBlock{}
	if err := Transfer(cc, st, client, Receive); err != nil {
		return nil, err
	}
	if client.CloseDown() {
		return nil, errCloseDown
	}
	s.applyTimeout(st, client)
	server := NewServerBlock()
	if err := Transfer(cc, st, server, Send); err != nil {
		return nil, err
	}
	cc.Errors.Reset()
	return client, nil
}

func (s *Server) applyTimeout(st *Stream, client *ClientBlock) {
	if client.Timeout > 0 {
		st.SetIdleLimit(time.Duration(client.Timeout) * time.Second)
	}
}

// serveOne handles the client's next message.
func (s *Server) serveOne(ctx context.Context, cc *ConnectionContext, st *Stream, client *ClientBlock) error {
	next := &NextProtocol{}
	if err := Transfer(cc, st, next, Receive); err != nil {
		return err
	}
	switch next.Token {
	case ProtoRequestBlock:
		return s.serveRequest(ctx, cc, st, client)
	case ProtoClientBlock:
		// A refresh updates the client's options, never the version.
		refresh := &ClientBlock{}
		if err := Transfer(cc, st, refresh, Receive); err != nil {
			return err
		}
		if refresh.CloseDown() {
			return errCloseDown
		}
		refresh.Version = client.Version
		*client = *refresh
		s.applyTimeout(st, client)
		cc.Errors.Reset()
		return Transfer(cc, st, NewServerBlock(), Send)
	case ProtoCloseDown:
		return errCloseDown
	case ProtoSleep, ProtoWakeUp:
		return nil
	}
	return newError(CodeUnknownProtocol, "serveOne", ClassDesync, fmt.Sprintf("unexpected client message %s", next.Token))
}

// serveRequest runs one request cycle: receive the RequestBlock and any put
// data, execute every request, then send the ServerBlock, the data and the
// follow-on messages.
func (s *Server) serveRequest(ctx context.Context, cc *ConnectionContext, st *Stream, client *ClientBlock) error {
	cc.Errors.Reset()
	readStart := st.Reader().BytesRead()
	writeStart := st.Writer().Written()

	req := &RequestBlock{}
	if err := Transfer(cc, st, req, Receive); err != nil {
		if IsConnectionFatal(err) {
			return err
		}
		// The put lists that may follow cannot be located, so the
		// connection ends after the failure is reported.
		if rerr := s.report(cc, st, nil); rerr != nil {
			return rerr
		}
		return err
	}
	defer Transfer(cc, st, req, FreeHeap)

	// Every attached put list is read, even after a failure, to stay in step.
	putFailed := false
	for i := range req.Requests {
		if !req.Requests[i].Put {
			continue
		}
		if err := Transfer(cc, st, &req.Requests[i].PutData, Receive); err != nil {
			if IsConnectionFatal(err) {
				return err
			}
			putFailed = true
		}
	}
	if putFailed {
		return s.report(cc, st, nil)
	}

	calls := make([]dispatch, len(req.Requests))
	blocks := make([]*DataBlock, len(req.Requests))
	for i := range req.Requests {
		blocks[i] = s.execute(ctx, cc, client, req, i, &calls[i])
		if calls[i].err != nil {
			cc.Errors.Add(calls[i].err, calls[i].info.Plugin)
		}
	}
	if cc.Errors.Len() == 0 {
		s.preflight(cc, blocks)
	}

	sendErr := s.report(cc, st, blocks)
	if len(calls) > 0 {
		calls[0].stats.InputBytes = st.Reader().BytesRead() - readStart
		calls[0].stats.OutputBytes = st.Writer().Written() - writeStart
	}
	for i := range calls {
		d := &calls[i]
		if !d.active {
			continue
		}
		err := d.err
		if err == nil {
			err = cc.Errors.Err()
		}
		hookEnd(s.dispatchHook, d.ctx, d.token, d.info, &d.stats, err)
	}
	for _, b := range blocks {
		b.Release()
	}
	return sendErr
}

// dispatch tracks one request of a batch between its hook calls.
type dispatch struct {
	ctx    context.Context
	info   DispatchInfo
	token  HookToken
	active bool
	stats  CallStatistics
	err    error
}

// execute resolves and runs request i. A nil block is returned on failure.
func (s *Server) execute(ctx context.Context, cc *ConnectionContext, client *ClientBlock, req *RequestBlock, i int, d *dispatch) *DataBlock {
	r := &req.Requests[i]
	name, plugin, resolveErr := s.registry.Resolve(r)
	d.info = DispatchInfo{
		Plugin:     name,
		Function:   r.Function(),
		Signal:     r.Signal,
		Source:     r.Source,
		Put:        r.Put,
		ServerID:   s.serverID,
		ConnID:     cc.ID.String(),
		Version:    cc.Version,
		BatchIndex: i,
		BatchSize:  len(req.Requests),
	}
	for _, b := range r.PutData.Blocks {
		d.stats.RecordInput(int64(b.Count))
	}
	d.ctx, d.token, d.active = hookStart(s.dispatchHook, ctx, d.info)
	if resolveErr != nil {
		d.err = resolveErr
		return nil
	}

	call := &Call{
		Request:  r,
		Plugin:   name,
		Function: d.info.Function,
		Client:   client,
		Version:  cc.Version,
		Catalog:  cc.Catalog,
		logger:   cc.Logger,
	}
	b, err := s.invoke(d.ctx, plugin, call)
	// Entries logged at EXCEPTION level fail the request.
	if err == nil && len(call.errs) > 0 {
		err = &call.errs[0]
		for _, e := range call.errs[1:] {
			cc.Errors.Push(e)
		}
	}
	if err != nil {
		b.Release()
		d.err = err
		return nil
	}
	if b == nil {
		b = &DataBlock{DataType: TypeUnknown, Order: -1}
	}
	d.stats.RecordOutput(int64(b.DataN))
	return b
}

// invoke runs the plugin, turning a panic into a plugin error.
func (s *Server) invoke(ctx context.Context, p Plugin, call *Call) (b *DataBlock, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			msg := fmt.Sprintf("plugin panic: %v", rv)
			if s.debugErrors {
				msg += callerTrace(2, 16)
			}
			b, err = nil, &ProtocolError{Code: PluginFailed, Type: PluginErrorType, Location: call.Plugin, Message: msg, Class: ClassPeer}
		}
	}()
	b, err = p.Execute(ctx, call)
	if err != nil {
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			msg := err.Error()
			if s.debugErrors {
				msg += callerTrace(1, 8)
			}
			err = &ProtocolError{Code: PluginFailed, Type: PluginErrorType, Location: call.Plugin, Message: msg, Class: ClassPeer, Err: err}
		}
	}
	return b, err
}

// preflight refuses blocks the client's version cannot carry, before any
// response bytes are written. STRING data goes to older clients as CHAR.
func (s *Server) preflight(cc *ConnectionContext, blocks []*DataBlock) {
	for _, b := range blocks {
		if cc.Version < 6 && b.DataType == TypeString {
			b.DataType = TypeChar
			if chars, ok := b.Data.([]uint8); ok {
				signed := make([]int8, len(chars))
				for i, c := range chars {
					signed[i] = int8(c)
				}
				b.Data = signed
			}
		}
		if b.DataN > 0 {
			if err := guardTypes(cc.Version, "preflight", b.DataType, b.ErrorType); err != nil {
				cc.Errors.Add(err, "preflight")
				return
			}
		}
		for i := 0; i < b.Rank && i < len(b.Dims); i++ {
			if err := guardTypes(cc.Version, "preflight", b.Dims[i].DataType, b.Dims[i].ErrorType); err != nil {
				cc.Errors.Add(err, "preflight")
				return
			}
		}
	}
}

// report sends the ServerBlock and, when no error was recorded, the data
// and the follow-on message of every block in request order.
func (s *Server) report(cc *ConnectionContext, st *Stream, blocks []*DataBlock) error {
	server := NewServerBlock()
	server.SetErrors(&cc.Errors)
	if err := Transfer(cc, st, server, Send); err != nil {
		return err
	}
	if len(server.Errors) > 0 {
		cc.Logger.Debug("request failed", "code", server.Error, "msg", server.Message)
		return nil
	}
	list := &DataBlockList{Blocks: blocks}
	if err := Transfer(cc, st, list, Send); err != nil {
		return err
	}
	embedding := cc.Embedding()
	if s.embedding != nil {
		embedding = *s.embedding
	}
	for _, b := range blocks {
		if err := s.followOn(cc, st, b, embedding); err != nil {
			return err
		}
	}
	return nil
}

// followOn sends the message that carries a block's opaque payload.
func (s *Server) followOn(cc *ConnectionContext, st *Stream, b *DataBlock, embedding Embedding) error {
	if b.DataType != TypeCompound {
		return nil
	}
	switch b.OpaqueType {
	case OpaqueXMLDocument:
		return Transfer(cc, st, &Meta{Block: b}, Send)
	case OpaqueStructures, OpaqueXDRFile, OpaqueXDRObject:
		return Transfer(cc, st, &Structures{Block: b, Embedding: embedding}, Send)
	}
	return nil
}
