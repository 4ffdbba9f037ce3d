// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

// Package uda implements the client/server protocol of the Universal Data
// Access system: a record-marked XDR stream over which a client asks a
// server for signals and receives typed, dimensioned data blocks.
//
// # Wire format
//
// Every message is one RFC 5531 record ([Stream]). Inside a record, values
// are XDR encoded by the [XDR] codec, a single type that both encodes and
// decodes so that each message has exactly one description of its layout.
// The set of messages is closed: [Message] is implemented only by the types
// of this package and [Transfer] is the single entry point that moves one of
// them across a stream in a given [Direction].
//
// # Protocol versions
//
// The peers exchange their versions in the [ClientBlock] and [ServerBlock]
// handshake and use the lower one from then on ([ConnectionContext.Negotiate]).
// Older versions lack some element types, list counts and structure
// embeddings; sending one of these to an older peer fails with an error
// matching [ErrVersion].
//
// # Structured data
//
// COMPOUND blocks carry a graph of user defined structures. Types are
// described by a [Catalog] and instances live in an [Arena], addressed by
// [NodeID]. The graph travels after the data block list in one of three
// [Embedding] modes: inline in the stream, as a spooled XDR file, or as a
// single SHA-1 hashed object. A hash mismatch is reported as [ErrIntegrity].
//
// # Serving
//
// A [Server] dispatches requests to [Plugin] implementations held by a
// [Registry]. Each connection owns one [ConnectionContext], which carries
// the negotiated version, flags and error stack; nothing is shared between
// connections. Requests can be observed with a [DispatchHook]; [Metrics]
// exports them to Prometheus and the udaotel subpackage to OpenTelemetry.
//
// # Fetching
//
// A [Client] opens its connection lazily, replaces it when it has been idle
// for close to the server timeout, and can keep responses in a [Cache].
// Returned blocks convert to Apache Arrow record batches with [ToArrow].
package uda
