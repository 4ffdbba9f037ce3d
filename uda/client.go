// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// ageMargin is how long before the server timeout the client gives up on
// a connection and dials a new one.
const ageMargin = 2 * time.Second

// Client issues requests to one UDA server. A connection is dialled on the
// first request and reused until it ages out, fails or is closed. Methods
// are safe for concurrent use; requests are serialised.
type Client struct {
	mu sync.Mutex

	host         string
	port         int
	dial         func(ctx context.Context) (net.Conn, error)
	version      int
	timeout      int
	clientFlags  uint32
	privateFlags uint32
	workDir      string
	cache        *Cache
	logger       *slog.Logger
	now          func() time.Time

	cc       *ConnectionContext
	st       *Stream
	block    *ClientBlock
	lastUsed time.Time
}

// NewClient returns a client for the server at host:port.
func NewClient(host string, port int) *Client {
	c := &Client{
		host:    host,
		port:    port,
		version: ProtocolVersion,
		timeout: DefaultTimeout,
		logger:  discardLogger(),
		now:     time.Now,
	}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)))
	}
	return c
}

// NewClientFromConfig returns a client set up from cfg.
func NewClientFromConfig(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := NewClient(cfg.Host, cfg.Port)
	c.SetTimeout(cfg.Timeout)
	c.SetFlags(cfg.ClientFlags, cfg.PrivateFlags)
	c.SetWorkDir(cfg.WorkDir)
	c.SetLogger(NewLogger(cfg.LogLevel))
	if cfg.ClientFlags&ClientFlagCache != 0 {
		cache, err := NewCache(time.Duration(cfg.CacheExpiry) * time.Second)
		if err != nil {
			return nil, err
		}
		cache.SetMaxBytes(cfg.CacheSize)
		c.SetCache(cache)
	}
	return c, nil
}

// SetDialer replaces the TCP dialer, for example with a TLS or unix socket
// dialer.
func (c *Client) SetDialer(dial func(ctx context.Context) (net.Conn, error)) {
	c.dial = dial
}

// SetVersion lowers the protocol version the client announces.
func (c *Client) SetVersion(version int) {
	c.version = version
}

// SetTimeout sets the server-side idle timeout in seconds. Zero asks the
// server to close after the handshake.
func (c *Client) SetTimeout(seconds int) {
	c.timeout = seconds
}

// SetFlags sets the client and private flags sent in the ClientBlock.
func (c *Client) SetFlags(clientFlags, privateFlags uint32) {
	c.clientFlags = clientFlags
	c.privateFlags = privateFlags
}

// SetWorkDir sets the directory for structure spool files.
func (c *Client) SetWorkDir(dir string) {
	c.workDir = dir
}

// SetCache enables the response cache for requests made while
// ClientFlagCache is set.
func (c *Client) SetCache(cache *Cache) {
	c.cache = cache
}

// SetLogger sets the client logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Version returns the negotiated version of the open connection, or zero.
func (c *Client) Version() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cc == nil {
		return 0
	}
	return c.cc.Version
}

// Get sends reqs as one RequestBlock and returns one block per request, in
// order. When the server reports errors, the most significant one is
// returned and the connection stays open.
func (c *Client) Get(ctx context.Context, reqs ...*RequestData) ([]*DataBlock, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, blocks := c.cached(reqs)
	if blocks != nil {
		return blocks, nil
	}
	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if c.cc.Version <= 7 && len(reqs) > 1 {
		return nil, newError(CodeEncodeFailed, "Get", ClassVersion,
			fmt.Sprintf("protocol version %d carries one request per block", c.cc.Version))
	}
	blocks, err := c.exchange(reqs)
	if err != nil {
		if IsConnectionFatal(err) {
			c.drop()
		}
		return nil, err
	}
	c.lastUsed = c.now()
	if keys != nil {
		for i, b := range blocks {
			if Cacheable(b) {
				if err := c.cache.Put(keys[i], b); err != nil {
					c.logger.Debug("cache put failed", "key", keys[i], "err", err)
				}
			}
		}
	}
	return blocks, nil
}

// cached returns the cache keys of reqs, and the cached blocks when every
// request hits.
func (c *Client) cached(reqs []*RequestData) ([]string, []*DataBlock) {
	if c.cache == nil || c.clientFlags&ClientFlagCache == 0 {
		return nil, nil
	}
	keys := make([]string, len(reqs))
	for i, r := range reqs {
		if r.Put {
			return nil, nil
		}
		keys[i] = CacheKey(r, c.host, c.port, c.clientFlags, c.privateFlags)
	}
	blocks := make([]*DataBlock, len(reqs))
	for i, key := range keys {
		b, ok := c.cache.Get(key)
		if !ok {
			for _, prev := range blocks[:i] {
				prev.Release()
			}
			return keys, nil
		}
		blocks[i] = b
	}
	c.logger.Debug("cache hit", "requests", len(reqs))
	return keys, blocks
}

// exchange runs one request cycle on the open connection.
func (c *Client) exchange(reqs []*RequestData) ([]*DataBlock, error) {
	cc, st := c.cc, c.st
	cc.Errors.Reset()
	block := &RequestBlock{Requests: make([]RequestData, len(reqs))}
	for i, r := range reqs {
		block.Requests[i] = *r
	}
	if err := Transfer(cc, st, &NextProtocol{Token: ProtoRequestBlock}, Send); err != nil {
		return nil, err
	}
	if err := Transfer(cc, st, block, Send); err != nil {
		return nil, asFatal(err)
	}
	for i := range block.Requests {
		if !block.Requests[i].Put {
			continue
		}
		if err := Transfer(cc, st, &block.Requests[i].PutData, Send); err != nil {
			// The server is waiting for the rest of the request.
			return nil, asFatal(err)
		}
	}

	server := &ServerBlock{}
	if err := Transfer(cc, st, server, Receive); err != nil {
		return nil, err
	}
	if err := server.Err(); err != nil {
		return nil, err
	}
	list := &DataBlockList{}
	if err := Transfer(cc, st, list, Receive); err != nil {
		return nil, asFatal(err)
	}
	for _, b := range list.Blocks {
		if err := c.receiveFollowOn(b); err != nil {
			Transfer(cc, st, list, FreeHeap)
			return nil, asFatal(err)
		}
	}
	return list.Blocks, nil
}

func (c *Client) receiveFollowOn(b *DataBlock) error {
	if b.DataType != TypeCompound {
		return nil
	}
	switch b.OpaqueType {
	case OpaqueXMLDocument:
		return Transfer(c.cc, c.st, &Meta{Block: b}, Receive)
	case OpaqueStructures, OpaqueXDRFile, OpaqueXDRObject:
		return Transfer(c.cc, c.st, &Structures{Block: b}, Receive)
	}
	return nil
}

// asFatal marks a failure in the middle of a cycle as fatal to the
// connection: both ends are no longer at a message boundary.
func asFatal(err error) error {
	if err == nil || IsConnectionFatal(err) {
		return err
	}
	e := asProtocolError(err, "Get")
	e.Class = ClassDesync
	return &e
}

// ensureOpen dials and shakes hands unless a live connection exists. A
// connection idle for longer than the server timeout minus a margin is
// replaced, since the server has likely dropped it.
func (c *Client) ensureOpen(ctx context.Context) error {
	if c.st != nil && c.block.Timeout > 0 {
		limit := time.Duration(c.block.Timeout)*time.Second - ageMargin
		if idle := c.now().Sub(c.lastUsed); idle > limit {
			c.logger.Debug("connection aged out, reconnecting", "idle", idle)
			c.drop()
		}
	}
	if c.st != nil {
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return wrapError(CodeUnknownProtocol, "Dial", ClassDesync, err)
	}
	cc := NewConnectionContext(c.logger)
	cc.LocalVersion = c.version
	cc.Version = c.version
	cc.PrivateFlags = c.privateFlags
	cc.ClientFlags = c.clientFlags
	if c.workDir != "" {
		cc.WorkDir = c.workDir
	}
	st := NewConnStream(conn)
	st.SetContext(ctx)
	if c.timeout > 0 {
		st.SetIdleLimit(time.Duration(c.timeout) * time.Second)
	}

	block := NewClientBlock(c.timeout)
	block.Version = c.version
	block.ClientFlags = c.clientFlags
	block.PrivateFlags = c.privateFlags
	if err := Transfer(cc, st, block, Send); err != nil {
		st.Close()
		return err
	}
	server := &ServerBlock{}
	if err := Transfer(cc, st, server, Receive); err != nil {
		st.Close()
		return err
	}
	if err := server.Err(); err != nil {
		st.Close()
		return err
	}
	c.cc, c.st, c.block = cc, st, block
	c.lastUsed = c.now()
	c.logger.Debug("connected", "conn_id", cc.ID.String(), "version", cc.Version, "server_os", server.OSName)
	return nil
}

// Refresh sends the current timeout and flags to the server without
// reconnecting. The negotiated version is unchanged.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureOpen(ctx); err != nil {
		return err
	}
	block := *c.block
	block.Timeout = c.timeout
	block.ClientFlags = c.clientFlags
	block.PrivateFlags = c.privateFlags
	if err := Transfer(c.cc, c.st, &NextProtocol{Token: ProtoClientBlock}, Send); err != nil {
		c.drop()
		return err
	}
	if err := Transfer(c.cc, c.st, &block, Send); err != nil {
		c.drop()
		return err
	}
	server := &ServerBlock{}
	if err := Transfer(c.cc, c.st, server, Receive); err != nil {
		c.drop()
		return err
	}
	*c.block = block
	c.cc.PrivateFlags = c.privateFlags
	c.cc.ClientFlags = c.clientFlags
	if c.timeout > 0 {
		c.st.SetIdleLimit(time.Duration(c.timeout) * time.Second)
	}
	c.lastUsed = c.now()
	return server.Err()
}

// WakeUp tells the server the client is still there.
func (c *Client) WakeUp(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureOpen(ctx); err != nil {
		return err
	}
	if err := Transfer(c.cc, c.st, &NextProtocol{Token: ProtoWakeUp}, Send); err != nil {
		c.drop()
		return err
	}
	c.lastUsed = c.now()
	return nil
}

// Close asks the server to finish and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	err := Transfer(c.cc, c.st, &NextProtocol{Token: ProtoCloseDown}, Send)
	if cerr := c.st.Close(); err == nil {
		err = cerr
	}
	c.cc, c.st, c.block = nil, nil, nil
	return err
}

// drop closes the connection without telling the server.
func (c *Client) drop() {
	if c.st != nil {
		c.st.Close()
	}
	c.cc, c.st, c.block = nil, nil, nil
}
