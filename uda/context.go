// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// ConnectionContext is the state one end of a connection carries between
// messages. Every codec that depends on negotiated state takes it explicitly;
// nothing is shared between connections.
type ConnectionContext struct {
	// ID identifies the connection in logs and metrics.
	ID uuid.UUID
	// Version is the negotiated protocol version, min(client, server).
	Version int
	// LocalVersion is the highest version this end speaks.
	LocalVersion int
	// PeerVersion is the version last announced by the other end. A client
	// compares it with each new ServerBlock to detect server restarts.
	PeerVersion int
	// PrivateFlags are the deployment bits received from the client.
	PrivateFlags uint32
	// ClientFlags are the client's request options.
	ClientFlags uint32
	// WorkDir holds temporary files of the file embedding.
	WorkDir string
	// Errors accumulates failures of the request being served.
	Errors ErrorStack
	// Catalog holds every structure definition known on the connection.
	Catalog *Catalog
	// Logger carries conn_id.
	Logger *slog.Logger
}

// NewConnectionContext returns a context at the local protocol version with
// the initial type catalog. A nil logger discards output.
func NewConnectionContext(logger *slog.Logger) *ConnectionContext {
	if logger == nil {
		logger = discardLogger()
	}
	id := uuid.New()
	return &ConnectionContext{
		ID:           id,
		Version:      ProtocolVersion,
		LocalVersion: ProtocolVersion,
		WorkDir:      os.TempDir(),
		Catalog:      NewCatalog(),
		Logger:       logger.With("conn_id", id.String()),
	}
}

// Negotiate records the peer's version and lowers the connection version
// to it when the peer is older.
func (cc *ConnectionContext) Negotiate(peer int) {
	cc.PeerVersion = peer
	cc.Version = EffectiveVersion(peer, cc.LocalVersion)
}

// Embedding returns the structure embedding the private flags select at the
// negotiated version.
func (cc *ConnectionContext) Embedding() Embedding {
	return EmbeddingFor(cc.PrivateFlags, cc.Version)
}

// fail pushes err onto the error stack and returns it.
func (cc *ConnectionContext) fail(err error, location string) error {
	if err != nil {
		cc.Errors.Add(err, location)
	}
	return err
}
