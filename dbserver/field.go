// Package dbserver implements the dbserver protocol: a player's
// metadata database reached over a fixed-format framed TCP protocol,
// a per-player connection pool (the Connection Manager), and the
// request helpers (simple/menu/render) built on top of the framing.
package dbserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// Wire tags identify a field's on-the-wire shape, read from the byte
// immediately preceding its payload. These are distinct from the
// argument-type array's tags below: a StringField's payload is always
// preceded by 0x26 on the wire, even though it contributes 0x02 to the
// argument-type array.
const (
	wireTagUInt8  = 0x0f
	wireTagUInt16 = 0x10
	wireTagUInt32 = 0x11
	wireTagString = 0x26
	wireTagBinary = 0x14
)

// Argument-type array tags, per the protocol's 12-byte argument-type
// array: every argument slot in a message is described by one of
// these, regardless of the wire tag its actual value carries.
const (
	ArgTagNumber = 0x06
	ArgTagString = 0x02
	ArgTagBinary = 0x03
	ArgTagBlob   = 0x04
)

// Field is one self-delimiting argument value.
type Field interface {
	// WireTag is the byte written immediately before this field's
	// payload.
	WireTag() byte
	// ArgTag is the byte this field contributes to the argument-type
	// array.
	ArgTag() byte
	// Encode appends this field's wire representation (tag + payload)
	// to dst.
	Encode(dst []byte) []byte
}

// NumberField is a 1-, 2-, or 4-byte big-endian unsigned integer.
type NumberField struct {
	Value uint32
	Width int // 1, 2, or 4
}

// NewNumberField picks the narrowest width that fits v, like the real
// protocol's own framing does (a count that fits in 1 byte never pays
// for 4).
func NewNumberField(v uint32) NumberField {
	switch {
	case v <= 0xff:
		return NumberField{Value: v, Width: 1}
	case v <= 0xffff:
		return NumberField{Value: v, Width: 2}
	default:
		return NumberField{Value: v, Width: 4}
	}
}

func (f NumberField) WireTag() byte {
	switch f.Width {
	case 1:
		return wireTagUInt8
	case 2:
		return wireTagUInt16
	default:
		return wireTagUInt32
	}
}

func (f NumberField) ArgTag() byte { return ArgTagNumber }

func (f NumberField) Encode(dst []byte) []byte {
	dst = append(dst, f.WireTag())
	switch f.Width {
	case 1:
		return append(dst, byte(f.Value))
	case 2:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(f.Value))
		return append(dst, buf...)
	default:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, f.Value)
		return append(dst, buf...)
	}
}

// StringField is a UTF-16BE string, length-prefixed and NUL-terminated
// as the protocol requires.
type StringField struct{ Value string }

func (f StringField) WireTag() byte { return wireTagString }
func (f StringField) ArgTag() byte  { return ArgTagString }

func (f StringField) Encode(dst []byte) []byte {
	units := utf16.Encode([]rune(f.Value))
	units = append(units, 0) // terminating 00 00

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(units)))

	dst = append(dst, f.WireTag())
	dst = append(dst, lenBuf...)
	for _, u := range units {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, u)
		dst = append(dst, b...)
	}
	return dst
}

// BinaryField is a length-prefixed opaque byte blob (album art, raw
// analysis sections).
type BinaryField struct{ Value []byte }

func (f BinaryField) WireTag() byte { return wireTagBinary }
func (f BinaryField) ArgTag() byte  { return ArgTagBinary }

func (f BinaryField) Encode(dst []byte) []byte {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(f.Value)))
	dst = append(dst, f.WireTag())
	dst = append(dst, lenBuf...)
	return append(dst, f.Value...)
}

// ReadField reads one self-delimiting field from r.
func ReadField(r io.Reader) (Field, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return nil, err
	}
	switch tagBuf[0] {
	case wireTagUInt8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return NumberField{Value: uint32(b[0]), Width: 1}, nil
	case wireTagUInt16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return NumberField{Value: uint32(binary.BigEndian.Uint16(b[:])), Width: 2}, nil
	case wireTagUInt32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return NumberField{Value: binary.BigEndian.Uint32(b[:]), Width: 4}, nil
	case wireTagString:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(lenBuf[:])
		units := make([]uint16, count)
		raw := make([]byte, count*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		for i := range units {
			units[i] = binary.BigEndian.Uint16(raw[i*2 : i*2+2])
		}
		// Drop the terminating NUL code unit the protocol always sends.
		if len(units) > 0 && units[len(units)-1] == 0 {
			units = units[:len(units)-1]
		}
		return StringField{Value: string(utf16.Decode(units))}, nil
	case wireTagBinary:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return BinaryField{Value: buf}, nil
	default:
		return nil, fmt.Errorf("dbserver: unknown wire tag 0x%02x", tagBuf[0])
	}
}
