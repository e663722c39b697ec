// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncoderSkipsZeroValues(t *testing.T) {
	e := Encoder{}
	e.Uint64(1, 0)
	e.Int32(2, 0)
	e.Bool(3, false)
	e.String(4, "")
	e.PackedUint64(5, nil)
	assert.Empty(t, e.B)

	e.Uint64Always(1, 0)
	assert.NotEmpty(t, e.B)
}

func TestNegativeInt32(t *testing.T) {
	e := Encoder{}
	e.Int32(1, -1)
	// Sign extension to 64 bits takes ten varint bytes plus one tag byte.
	assert.Len(t, e.B, 11)

	d := NewDecoder(e.B)
	require.True(t, d.Next())
	assert.Equal(t, int32(-1), d.Int32())
	require.NoError(t, d.Err())
}

func TestPackedAndExpandedRepeated(t *testing.T) {
	packed := Encoder{}
	packed.PackedUint64(1, []uint64{1, 300, 70000})

	var expanded []byte
	for _, v := range []uint64{1, 300, 70000} {
		expanded = protowire.AppendTag(expanded, 1, protowire.VarintType)
		expanded = protowire.AppendVarint(expanded, v)
	}

	for name, b := range map[string][]byte{"packed": packed.B, "expanded": expanded} {
		t.Run(name, func(t *testing.T) {
			var got []uint64
			d := NewDecoder(b)
			for d.Next() {
				got = d.PackedUint64(got)
			}
			require.NoError(t, d.Err())
			assert.Equal(t, []uint64{1, 300, 70000}, got)
		})
	}
}

func TestDecoderWireTypeMismatch(t *testing.T) {
	e := Encoder{}
	e.String(1, "not a number")

	d := NewDecoder(e.B)
	require.True(t, d.Next())
	d.Uint64()
	require.ErrorIs(t, d.Err(), ErrWireType)
	assert.False(t, d.Next())
}

func TestDecoderTruncated(t *testing.T) {
	e := Encoder{}
	e.String(1, "hello")

	d := NewDecoder(e.B[:len(e.B)-2])
	require.True(t, d.Next())
	d.String()
	assert.Error(t, d.Err())
}
