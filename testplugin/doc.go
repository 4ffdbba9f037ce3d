// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

// Package testplugin provides the reference plugin set used by the UDA
// scenario tests and by the uda-testplugin-server command. It registers a
// TESTPLUGIN plugin whose functions exercise every part of the protocol:
// atomic vectors of each element type, strings, dimensioned signals with
// compressible coordinates, structure graphs, XML documents, put data,
// error propagation and client-directed logging.
//
// The only entry point intended for external use is [RegisterPlugins].
// The structure builders [DefineTypes], [NewPoints] and [NewBoundingBox]
// are exported because they double as examples of assembling a graph in
// a [uda.Arena].
package testplugin
