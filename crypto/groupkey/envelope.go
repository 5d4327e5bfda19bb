// SPDX-License-Identifier: AGPL-3.0-only

package groupkey

import (
	"github.com/fxamacker/cbor/v2"
)

// EnvelopeType tags the protocol envelope's payload with one of the
// closed set of message shapes.
type EnvelopeType uint8

const (
	// EnvelopeWelcome carries the artifact a newly added member derives
	// the group state from.
	EnvelopeWelcome EnvelopeType = iota + 1

	// EnvelopeKeyAnnouncement carries a member's published key material.
	EnvelopeKeyAnnouncement

	// EnvelopeGroupInfo is reserved for future use and is a no-op on
	// receive.
	EnvelopeGroupInfo

	// EnvelopePrivateMessage carries an encrypted application message.
	EnvelopePrivateMessage

	// EnvelopePublicMessage carries group management content, currently
	// only commits.
	EnvelopePublicMessage
)

// Envelope is the protocol envelope every non first contact frame travels
// in.  The payload's interpretation is determined solely by Type.
type Envelope struct {
	Type    EnvelopeType
	Payload []byte
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return cbor.Marshal(e)
}

// DecodeEnvelope attempts to decode a frame as a protocol envelope.
// Frames that decode structurally but carry an unknown type tag or an
// empty payload are rejected, so that a bare key announcement frame is
// never mistaken for an envelope.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	e := new(Envelope)
	if err := cbor.Unmarshal(b, e); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if e.Type < EnvelopeWelcome || e.Type > EnvelopePublicMessage {
		return nil, ErrInvalidEnvelope
	}
	if len(e.Payload) == 0 && e.Type != EnvelopeGroupInfo {
		return nil, ErrInvalidEnvelope
	}
	return e, nil
}

func encodeEnvelope(t EnvelopeType, payload interface{}) ([]byte, error) {
	b, err := cbor.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return (&Envelope{Type: t, Payload: b}).Encode()
}
