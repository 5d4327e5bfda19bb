// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte("a"),
		[]byte("hello"),
		bytes.Repeat([]byte{0xa5}, 4096),
	}
	for _, p := range payloads {
		require.NoError(WriteFrame(&buf, p))
	}
	for _, p := range payloads {
		frame, err := ReadFrame(&buf)
		require.NoError(err)
		require.Equal(p, frame)
	}

	_, err := ReadFrame(&buf)
	require.Equal(io.EOF, err)
}

func TestWriteFrameRejects(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.Equal(ErrEmptyFrame, WriteFrame(&buf, nil))
	require.Equal(ErrFrameTooLarge, WriteFrame(&buf, make([]byte, MaxFrameLength+1)))
	require.Equal(0, buf.Len())
}

func TestReadFrameRejects(t *testing.T) {
	require := require.New(t)

	// Zero length header.
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.Equal(ErrFrameTooLarge, err)

	// Length beyond the maximum.
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameLength+1)
	_, err = ReadFrame(bytes.NewReader(hdr[:]))
	require.Equal(ErrFrameTooLarge, err)

	// Truncated payload.
	binary.BigEndian.PutUint32(hdr[:], 16)
	_, err = ReadFrame(bytes.NewReader(append(hdr[:], 1, 2, 3)))
	require.Equal(io.ErrUnexpectedEOF, err)
}
