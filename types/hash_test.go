package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	c := HashBytes([]byte("world"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.False(t, a.IsZero())
}

func TestNewDigestValidation(t *testing.T) {
	_, err := NewDigest(make([]byte, 31))
	require.Error(t, err)
	_, err = NewDigest(make([]byte, 33))
	require.Error(t, err)

	raw := HashBytes([]byte("x")).Bytes()
	d, err := NewDigest(raw)
	require.NoError(t, err)
	require.Equal(t, raw, d.Bytes())

	require.Panics(t, func() { MustNewDigest([]byte("short")) })
}

func TestDigestFormatting(t *testing.T) {
	d := HashBytes([]byte("block"))

	require.Len(t, d.Hex(), 64)
	require.True(t, strings.HasPrefix(d.String(), "@"))
	require.Len(t, d.String(), 9)
	require.True(t, strings.HasPrefix(d.Hex(), d.String()[1:]))
}

func TestZeroDigest(t *testing.T) {
	var d Digest
	require.True(t, d.IsZero())
	require.False(t, HashBytes(nil).IsZero(), "hash of empty input is not the zero digest")
}
