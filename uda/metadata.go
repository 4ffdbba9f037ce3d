// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "strconv"

// ProtocolVersion is the highest protocol revision this implementation speaks.
// A connection runs at min(client, server).
const ProtocolVersion = 8

// Fixed capacities of character fields on the wire (including the terminator).
const (
	StringLength   = 1024
	MaxMeta        = 10 * 1024
	MaxName        = 1024
	MaxElementName = 256
	MaxErrParams   = 8
	MaxRank        = 7
)

// Session and transport limits.
const (
	DefaultTimeout    = 600 // seconds
	MaxLoop           = 10000
	ReadBlockSize     = 32 * 1024
	WriteBlockSize    = 32 * 1024
	MaxRecursiveDepth = 30
	FileBufferSize    = 100 * 1024
	MaxFileChunks     = 500
	HashLength        = 20
)

// ProtocolID identifies a message kind. Values are fixed by legacy peers and
// must never be renumbered.
type ProtocolID int32

const (
	ProtoStart            ProtocolID = 0
	ProtoRequestBlock     ProtocolID = 1
	ProtoDataBlockList    ProtocolID = 2
	ProtoNextProtocol     ProtocolID = 3
	ProtoDataSystem       ProtocolID = 4
	ProtoSystemConfig     ProtocolID = 5
	ProtoDataSource       ProtocolID = 6
	ProtoSignal           ProtocolID = 7
	ProtoSignalDesc       ProtocolID = 8
	ProtoSpare1           ProtocolID = 9
	ProtoClientBlock      ProtocolID = 10
	ProtoServerBlock      ProtocolID = 11
	ProtoSpare2           ProtocolID = 12
	ProtoCloseDown        ProtocolID = 13
	ProtoSleep            ProtocolID = 14
	ProtoWakeUp           ProtocolID = 15
	ProtoPutDataBlockList ProtocolID = 16
	ProtoSecurityBlock    ProtocolID = 17
	ProtoObject           ProtocolID = 18
	ProtoSerialiseObject  ProtocolID = 19
	ProtoSerialiseFile    ProtocolID = 20
	ProtoDataObject       ProtocolID = 21
	ProtoDataObjectFile   ProtocolID = 22
	ProtoMetaData         ProtocolID = 23
	ProtoOpaqueStart      ProtocolID = 100
	ProtoStructures       ProtocolID = 101
	ProtoMeta             ProtocolID = 102
	ProtoOpaqueStop       ProtocolID = 200
)

var protocolNames = map[ProtocolID]string{
	ProtoStart:            "Start",
	ProtoRequestBlock:     "RequestBlock",
	ProtoDataBlockList:    "DataBlockList",
	ProtoNextProtocol:     "NextProtocol",
	ProtoClientBlock:      "ClientBlock",
	ProtoServerBlock:      "ServerBlock",
	ProtoCloseDown:        "CloseDown",
	ProtoSleep:            "Sleep",
	ProtoWakeUp:           "WakeUp",
	ProtoPutDataBlockList: "PutDataBlockList",
	ProtoObject:           "Object",
	ProtoSerialiseObject:  "SerialiseObject",
	ProtoSerialiseFile:    "SerialiseFile",
	ProtoDataObject:       "DataObject",
	ProtoDataObjectFile:   "DataObjectFile",
	ProtoMetaData:         "MetaData",
	ProtoStructures:       "Structures",
	ProtoMeta:             "Meta",
}

func (p ProtocolID) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return "Protocol(" + strconv.Itoa(int(p)) + ")"
}

// Direction selects what Transfer does with a message.
type Direction int

const (
	Send Direction = iota
	Receive
	FreeHeap
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Receive:
		return "receive"
	case FreeHeap:
		return "free"
	default:
		return "unknown"
	}
}

// Private flags are deployment bits used between chained servers.
const (
	PrivateFlagXDRFile   uint32 = 1
	PrivateFlagExternal  uint32 = 2
	PrivateFlagCache     uint32 = 4
	PrivateFlagXDRObject uint32 = 8
)

// Client flags travel in the ClientBlock.
const (
	ClientFlagAltData             uint32 = 1
	ClientFlagXDRFile             uint32 = 2
	ClientFlagCache               uint32 = 4
	ClientFlagCloseDown           uint32 = 8
	ClientFlagXDRObject           uint32 = 16
	ClientFlagReuseLastHandle     uint32 = 32
	ClientFlagFreeReuseLastHandle uint32 = 64
	ClientFlagFileCache           uint32 = 128
)

// OpaqueType discriminates non-array payloads of a DataBlock.
type OpaqueType int32

const (
	OpaqueUnknown     OpaqueType = 0
	OpaqueXMLDocument OpaqueType = 1
	OpaqueStructures  OpaqueType = 2
	OpaqueXDRFile     OpaqueType = 3
	OpaqueXDRObject   OpaqueType = 4
)

func (o OpaqueType) String() string {
	switch o {
	case OpaqueUnknown:
		return "unknown"
	case OpaqueXMLDocument:
		return "xml"
	case OpaqueStructures:
		return "structures"
	case OpaqueXDRFile:
		return "xdrfile"
	case OpaqueXDRObject:
		return "xdrobject"
	default:
		return "opaque(" + strconv.Itoa(int(o)) + ")"
	}
}

// ErrorModel identifies how error bars are generated from error parameters.
type ErrorModel int32

const (
	ErrorModelUnknown           ErrorModel = 0
	ErrorModelDefault           ErrorModel = 1
	ErrorModelDefaultAsymmetric ErrorModel = 2
	ErrorModelGaussian          ErrorModel = 3
	ErrorModelReseed            ErrorModel = 4
	ErrorModelGaussianShift     ErrorModel = 5
	ErrorModelPoisson           ErrorModel = 6
	ErrorModelUndefined         ErrorModel = 7
)

// Request codes carried in RequestData.Request.
const (
	RequestReadUnknown = 0
	RequestReadGeneric = 1
	RequestReadXML     = 17
	RequestReadNothing = 29
)
