// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the framing used on the wire between chat
// participants and the hub.  Each frame is an opaque byte sequence
// prefixed by a 4 byte big endian length.  The hub forwards frames without
// ever interpreting the payload.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// MaxFrameLength is the maximum length of a frame payload in bytes.
	MaxFrameLength = 1048576

	frameHeaderLength = 4
)

var (
	// ErrFrameTooLarge is the error returned when a frame exceeds
	// MaxFrameLength.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

	// ErrEmptyFrame is the error returned when attempting to send a zero
	// length frame.
	ErrEmptyFrame = errors.New("wire: refusing to send empty frame")
)

// WriteFrame writes payload to w as a single length prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameLength {
		return ErrFrameTooLarge
	}

	var hdr [frameHeaderLength]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	// A single Write keeps the header and payload adjacent so that
	// concurrent writers on the same net.Conn cannot interleave a frame
	// mid-header.
	b := make([]byte, 0, frameHeaderLength+len(payload))
	b = append(b, hdr[:]...)
	b = append(b, payload...)
	_, err := w.Write(b)
	return err
}

// ReadFrame reads a single length prefixed frame from r and returns the
// payload.  io.EOF is returned unwrapped when the peer closes the
// connection cleanly before a header is read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	frameLen := binary.BigEndian.Uint32(hdr[:])
	if frameLen == 0 || frameLen > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
