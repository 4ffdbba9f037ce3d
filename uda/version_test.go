// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolVersionTypeTestMonotonic(t *testing.T) {
	for dt := TypeUnknown; dt <= TypeCapnp; dt++ {
		for v := 0; v <= ProtocolVersion+2; v++ {
			assert.Equal(t, v < IntroducedIn(dt), ProtocolVersionTypeTest(v, dt),
				"type %s version %d", dt, v)
		}
	}
}

func TestProtocolVersionTypeTestCurrentAcceptsAll(t *testing.T) {
	for dt := TypeUnknown; dt <= TypeCapnp; dt++ {
		assert.False(t, ProtocolVersionTypeTest(ProtocolVersion, dt), dt.String())
	}
}

func TestGuardTypesReportsError9999(t *testing.T) {
	require.NoError(t, guardTypes(3, "test", TypeInt, TypeUnsignedChar))

	err := guardTypes(2, "test", TypeInt, TypeUnsignedChar)
	require.Error(t, err)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, Error9999, pe.Code)
	assert.Equal(t, ClassVersion, pe.Class)
}

func TestEffectiveVersion(t *testing.T) {
	assert.Equal(t, 2, EffectiveVersion(2, ProtocolVersion))
	assert.Equal(t, ProtocolVersion, EffectiveVersion(42, ProtocolVersion))
}
