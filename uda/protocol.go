// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"os"
)

// Message is one protocol message kind. The set is closed: every
// implementation lives in this package and Transfer handles each of them.
type Message interface {
	ProtocolID() ProtocolID
	message()
}

// NextProtocol announces the kind of the client's next message.
type NextProtocol struct {
	Token ProtocolID
}

// Structures is the follow-on of a DataBlock whose payload is a structure
// graph, a spooled structure file or a serialised structure object.
// Embedding selects how a graph is packaged when sending.
type Structures struct {
	Block     *DataBlock
	Embedding Embedding
}

// Meta is the follow-on of a DataBlock carrying an XML document.
type Meta struct {
	Block *DataBlock
}

func (*ClientBlock) ProtocolID() ProtocolID      { return ProtoClientBlock }
func (*ServerBlock) ProtocolID() ProtocolID      { return ProtoServerBlock }
func (*RequestBlock) ProtocolID() ProtocolID     { return ProtoRequestBlock }
func (*DataBlockList) ProtocolID() ProtocolID    { return ProtoDataBlockList }
func (*PutDataBlockList) ProtocolID() ProtocolID { return ProtoPutDataBlockList }
func (*NextProtocol) ProtocolID() ProtocolID     { return ProtoNextProtocol }
func (*Structures) ProtocolID() ProtocolID       { return ProtoStructures }
func (*Meta) ProtocolID() ProtocolID             { return ProtoMeta }
func (*DataObject) ProtocolID() ProtocolID       { return ProtoDataObject }
func (*DataObjectFile) ProtocolID() ProtocolID   { return ProtoDataObjectFile }
func (*MetaData) ProtocolID() ProtocolID         { return ProtoMetaData }

func (*ClientBlock) message()      {}
func (*ServerBlock) message()      {}
func (*RequestBlock) message()     {}
func (*DataBlockList) message()    {}
func (*PutDataBlockList) message() {}
func (*NextProtocol) message()     {}
func (*Structures) message()       {}
func (*Meta) message()             {}
func (*DataObject) message()       {}
func (*DataObjectFile) message()   {}
func (*MetaData) message()         {}

// Transfer sends, receives or frees msg on the connection. Every message
// except the structure and meta follow-ons occupies exactly one record.
// Failures are pushed onto the connection's error stack and returned; a
// failure whose class is ClassDesync leaves the stream unusable.
//
// Receiving a ClientBlock records the client's flags on cc, and the first
// one fixes the connection version. Receiving a ServerBlock fixes the
// version on the client side and detects a restarted server.
func Transfer(cc *ConnectionContext, s *Stream, msg Message, dir Direction) error {
	location := msg.ProtocolID().String()
	switch dir {
	case Send, Receive:
	case FreeHeap:
		release(msg)
		return nil
	default:
		return cc.fail(newError(CodeBadDirection, location, ClassSemantic, fmt.Sprintf("direction %d", dir)), location)
	}

	var err error
	switch m := msg.(type) {
	case *ClientBlock:
		err = transferRecord(s, dir, func(x *XDR) { m.code(x, cc.Version) })
		if err == nil && dir == Receive {
			if cc.PeerVersion == 0 {
				cc.Negotiate(m.Version)
			}
			cc.PrivateFlags = m.PrivateFlags
			cc.ClientFlags = m.ClientFlags
		}
	case *ServerBlock:
		err = transferRecord(s, dir, func(x *XDR) { m.code(x, cc.Version) })
		if err == nil && dir == Receive {
			if err = checkRestart(cc, m); err == nil {
				cc.Negotiate(m.Version)
			}
		}
	case *RequestBlock:
		err = transferRecord(s, dir, func(x *XDR) { m.code(x, cc.Version) })
	case *DataBlockList:
		err = transferRecord(s, dir, func(x *XDR) { m.code(x, cc.Version) })
	case *PutDataBlockList:
		err = transferRecord(s, dir, func(x *XDR) { m.code(x, cc.Catalog, cc.Version) })
	case *NextProtocol:
		err = transferRecord(s, dir, func(x *XDR) { enum32(x, &m.Token) })
	case *Structures:
		if m.Block == nil {
			err = newError(InsufficientData, location, ClassSemantic, "no data block")
		} else if dir == Send {
			err = sendStructures(cc, s, m.Block, m.Embedding)
		} else {
			err = receiveStructures(cc, s, m.Block)
		}
	case *Meta:
		if m.Block == nil {
			err = newError(InsufficientData, location, ClassSemantic, "no data block")
			break
		}
		var x *XDR
		if dir == Send {
			x = s.Encoder()
		} else {
			x = s.Decoder()
		}
		codeMeta(x, m.Block)
		if x.Err() != nil && dir == Send {
			x.Abort()
		}
		err = x.Err()
	case *DataObject:
		err = transferRecord(s, dir, m.code)
	case *DataObjectFile:
		err = transferRecord(s, dir, func(x *XDR) {
			if dir == Send {
				m.send(x)
			} else {
				m.receive(x, cc.WorkDir)
			}
		})
	case *MetaData:
		err = transferRecord(s, dir, m.code)
	default:
		err = newError(CodeUnknownProtocol, location, ClassSemantic, fmt.Sprintf("no codec for %T", msg))
	}
	if err != nil {
		cc.Logger.Debug("transfer failed", "protocol", location, "direction", dir.String(), "err", err)
	}
	return cc.fail(err, location)
}

// transferRecord runs code over one whole record.
func transferRecord(s *Stream, dir Direction, code func(x *XDR)) error {
	if dir == Send {
		x := s.Encoder()
		code(x)
		x.EndRecord(true)
		if x.Err() != nil {
			x.Abort()
		}
		return x.Err()
	}
	x := s.Decoder()
	x.BeginRecord()
	code(x)
	return x.Err()
}

func release(msg Message) {
	switch m := msg.(type) {
	case *DataBlockList:
		for _, b := range m.Blocks {
			b.Release()
		}
	case *PutDataBlockList:
		m.Release()
	case *RequestBlock:
		for i := range m.Requests {
			m.Requests[i].PutData.Release()
		}
	case *Structures:
		m.Block.Release()
	case *DataObjectFile:
		if m.Path != "" {
			os.Remove(m.Path)
			m.Path = ""
		}
	case *ClientBlock, *ServerBlock, *NextProtocol, *Meta, *DataObject, *MetaData:
	}
}
