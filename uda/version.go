// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "fmt"

// ProtocolVersionTypeTest reports whether a peer running at version cannot
// represent values of type t. A true result means the value must be rejected.
func ProtocolVersionTypeTest(version int, t DataType) bool {
	if version < 3 {
		switch t {
		case TypeUnsignedChar, TypeUnsignedShort, TypeUnsignedLong, TypeUnsignedLong64,
			TypeComplex, TypeDComplex:
			return true
		}
	}
	if version < 4 && t == TypeCompound {
		return true
	}
	if version < 6 && t == TypeString {
		return true
	}
	return false
}

// IntroducedIn returns the first protocol version able to carry t.
func IntroducedIn(t DataType) int {
	switch t {
	case TypeUnsignedChar, TypeUnsignedShort, TypeUnsignedLong, TypeUnsignedLong64,
		TypeComplex, TypeDComplex:
		return 3
	case TypeCompound:
		return 4
	case TypeString:
		return 6
	}
	return 0
}

// guardTypes returns an Error9999 if any of types is not representable at version.
func guardTypes(version int, location string, types ...DataType) error {
	for _, t := range types {
		if ProtocolVersionTypeTest(version, t) {
			return newError(Error9999, location, ClassVersion,
				fmt.Sprintf("type %s is not supported by protocol version %d", t, version))
		}
	}
	return nil
}

// EffectiveVersion is the version a connection runs at.
func EffectiveVersion(peer, local int) int {
	if peer < local {
		return peer
	}
	return local
}
