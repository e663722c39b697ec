// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the field level protobuf encoding shared by the message packages.
package wire // import "github.com/orbit-profiler/orbit/internal/wire"

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every hand-encoded message.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// Appender is implemented by messages that can append their encoding to a buffer.
type Appender interface {
	AppendTo(b []byte) []byte
}

// ErrWireType is recorded when a field arrives with a different wire type than declared.
var ErrWireType = errors.New("unexpected wire type")

// Encoder writes proto3 fields. Scalar helpers skip zero values, the *Always variants are
// used for members of a oneof whose presence matters.
type Encoder struct {
	B []byte
}

func (e *Encoder) Uint64(num protowire.Number, v uint64) {
	if v != 0 {
		e.Uint64Always(num, v)
	}
}

func (e *Encoder) Uint64Always(num protowire.Number, v uint64) {
	e.B = protowire.AppendTag(e.B, num, protowire.VarintType)
	e.B = protowire.AppendVarint(e.B, v)
}

func (e *Encoder) Uint32(num protowire.Number, v uint32) {
	e.Uint64(num, uint64(v))
}

// Int32 uses the sign-extended varint encoding of the protobuf int32 type.
func (e *Encoder) Int32(num protowire.Number, v int32) {
	e.Uint64(num, uint64(int64(v)))
}

// Int32Always is Int32 for map keys and oneof members.
func (e *Encoder) Int32Always(num protowire.Number, v int32) {
	e.Uint64Always(num, uint64(int64(v)))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint64(num, 1)
	}
}

func (e *Encoder) String(num protowire.Number, v string) {
	if v != "" {
		e.StringAlways(num, v)
	}
}

func (e *Encoder) StringAlways(num protowire.Number, v string) {
	e.B = protowire.AppendTag(e.B, num, protowire.BytesType)
	e.B = protowire.AppendString(e.B, v)
}

// Message writes m as an embedded message. Embedded messages are always written, even when
// empty, so presence survives a round trip.
func (e *Encoder) Message(num protowire.Number, m Appender) {
	e.B = protowire.AppendTag(e.B, num, protowire.BytesType)
	e.B = protowire.AppendBytes(e.B, m.AppendTo(nil))
}

func (e *Encoder) PackedUint64(num protowire.Number, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	e.B = protowire.AppendTag(e.B, num, protowire.BytesType)
	e.B = protowire.AppendBytes(e.B, packed)
}

// Decoder iterates over the fields of one message. Once an error is recorded all further
// reads are no-ops and Next reports false. Unknown fields are dropped with Skip.
type Decoder struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Next advances to the next field and reports whether there is one.
func (d *Decoder) Next() bool {
	if d.err != nil || len(d.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return false
	}
	d.b = d.b[n:]
	d.num, d.typ = num, typ
	return true
}

// Field returns the number of the current field.
func (d *Decoder) Field() protowire.Number {
	return d.num
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("field %d: %w", d.num, err)
	}
}

func (d *Decoder) Skip() {
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return
	}
	d.b = d.b[n:]
}

func (d *Decoder) Uint64() uint64 {
	if d.typ != protowire.VarintType {
		d.fail(ErrWireType)
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *Decoder) Uint32() uint32 {
	return uint32(d.Uint64())
}

func (d *Decoder) Int32() int32 {
	return int32(d.Uint64())
}

func (d *Decoder) Bool() bool {
	return d.Uint64() != 0
}

func (d *Decoder) Bytes() []byte {
	if d.typ != protowire.BytesType {
		d.fail(ErrWireType)
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return nil
	}
	d.b = d.b[n:]
	return v
}

func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Message decodes the current field into m.
func (d *Decoder) Message(m Message) {
	b := d.Bytes()
	if d.err != nil {
		return
	}
	if err := m.Unmarshal(b); err != nil {
		d.fail(err)
	}
}

// PackedUint64 accepts both the packed and the expanded encoding of a repeated varint field.
func (d *Decoder) PackedUint64(dst []uint64) []uint64 {
	if d.typ == protowire.VarintType {
		return append(dst, d.Uint64())
	}
	packed := d.Bytes()
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			d.fail(protowire.ParseError(n))
			return dst
		}
		dst = append(dst, v)
		packed = packed[n:]
	}
	return dst
}
