package transport

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteStreamFramerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := ByteStreamFramer{}

	pdu := []byte{0x01, 0x02, 0x03}
	require.NoError(t, f.WriteFrame(&buf, pdu))

	got, err := f.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, pdu, got)
}

func TestByteStreamFramerRejectsOversizedPDU(t *testing.T) {
	var buf bytes.Buffer
	f := ByteStreamFramer{}

	big := make([]byte, 256)
	err := f.WriteFrame(&buf, big)
	assert.ErrorIs(t, err, ErrPDUTooLarge)
}

func TestByteStreamFramerMultiplePDUsInSequence(t *testing.T) {
	var buf bytes.Buffer
	f := ByteStreamFramer{}

	require.NoError(t, f.WriteFrame(&buf, []byte{0xaa}))
	require.NoError(t, f.WriteFrame(&buf, []byte{0xbb, 0xcc}))

	r := bufio.NewReader(&buf)
	first, err := f.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, first)

	second, err := f.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbb, 0xcc}, second)
}
