package dbserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNumberFieldRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 0xff, 0x100, 0xffff, 0x10000, 0xdeadbeef} {
		f := NewNumberField(v)
		var buf []byte
		buf = f.Encode(buf)

		decoded, err := ReadField(bytes.NewReader(buf))
		require.NoError(t, err)
		n, ok := decoded.(NumberField)
		require.True(t, ok)
		require.Equal(t, v, n.Value)
	}
}

func TestStringFieldRoundTrip(t *testing.T) {
	f := StringField{Value: "Weapon of Choice"}
	var buf []byte
	buf = f.Encode(buf)

	decoded, err := ReadField(bytes.NewReader(buf))
	require.NoError(t, err)
	s, ok := decoded.(StringField)
	require.True(t, ok)
	require.Equal(t, "Weapon of Choice", s.Value)
}

func TestBinaryFieldRoundTrip(t *testing.T) {
	f := BinaryField{Value: []byte{1, 2, 3, 4, 5}}
	var buf []byte
	buf = f.Encode(buf)

	decoded, err := ReadField(bytes.NewReader(buf))
	require.NoError(t, err)
	b, ok := decoded.(BinaryField)
	require.True(t, ok)
	require.Equal(t, f.Value, b.Value)
}

func TestReadFieldUnknownTagErrors(t *testing.T) {
	_, err := ReadField(bytes.NewReader([]byte{0xaa}))
	require.Error(t, err)
}
