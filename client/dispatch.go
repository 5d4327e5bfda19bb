// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/crypto/groupkey"
	"github.com/joculatrix/mls-chat/session"
)

// Dispatcher decodes inbound frames into protocol operations and applies
// them against a participant.  A frame is tried first as a protocol
// envelope, then as a bare key announcement; first contact frames have
// no envelope context, and envelope decoding is expected to reject them.
type Dispatcher struct {
	log *logging.Logger

	participant *session.Participant
	send        func(frame []byte)
	display     func(line string)
}

// NewDispatcher creates a dispatcher that broadcasts outbound artifacts
// through send and appends decrypted application messages through
// display.
func NewDispatcher(p *session.Participant, send func([]byte), display func(string), l *logging.Logger) *Dispatcher {
	return &Dispatcher{
		log:         l,
		participant: p,
		send:        send,
		display:     display,
	}
}

// Dispatch decodes and applies one inbound frame.  The returned error is
// fatal to the session; failures local to the frame (malformed frames,
// out of order commits, welcomes addressed to somebody else) are logged
// and swallowed, and processing continues with the next frame.
func (d *Dispatcher) Dispatch(frame []byte) error {
	if env, err := groupkey.DecodeEnvelope(frame); err == nil {
		return d.dispatchEnvelope(env)
	}
	if a, err := groupkey.ParseAnnouncement(frame); err == nil {
		return d.addMember(a)
	}

	d.log.Warningf("Dropping frame matching no known shape (%d bytes): %v",
		len(frame), session.ErrInvalidMessage)
	return nil
}

func (d *Dispatcher) dispatchEnvelope(env *groupkey.Envelope) error {
	switch env.Type {
	case groupkey.EnvelopeWelcome:
		return d.join(env.Payload)
	case groupkey.EnvelopeKeyAnnouncement:
		a, err := groupkey.ParseAnnouncement(env.Payload)
		if err != nil {
			d.log.Warningf("Dropping envelope with invalid announcement: %v", err)
			return nil
		}
		return d.addMember(a)
	case groupkey.EnvelopeGroupInfo:
		// Reserved.
		return nil
	default:
		plaintext, err := d.participant.ProcessIncoming(env)
		if err != nil {
			d.log.Warningf("Dropping unprocessable frame: %v", err)
			return nil
		}
		if plaintext != nil {
			d.display(string(plaintext))
		}
		return nil
	}
}

// join replaces the participant's solo session with the welcomed group's
// and immediately broadcasts a key rotation, announcing the joiner's
// fresh key material to the group.
func (d *Dispatcher) join(welcomePayload []byte) error {
	if err := d.participant.Join(welcomePayload); err != nil {
		if errors.Is(err, session.ErrKeyMaterialMissing) {
			// A welcome for somebody else; only the intended recipient
			// holds the init key.
			d.log.Debug("Ignoring welcome addressed to another participant.")
			return nil
		}
		d.log.Warningf("Dropping undecodable welcome: %v", err)
		return nil
	}

	rotation, err := d.participant.RotateKeys()
	if err != nil {
		return err
	}
	d.send(rotation)
	return nil
}

// addMember runs the add member flow: broadcast the commit so existing
// members advance their view, and the welcome for the new member.  Both
// go to all connections; only the announced member can use the welcome.
func (d *Dispatcher) addMember(a *groupkey.KeyAnnouncement) error {
	commit, welcome, err := d.participant.AddMember(a)
	if err != nil {
		return err
	}
	d.send(commit)
	d.send(welcome)
	return nil
}
