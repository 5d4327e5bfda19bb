// SPDX-License-Identifier: AGPL-3.0-only

// Package session owns one user's rotating identity and group membership
// state, and exposes the message level operations the frame dispatcher
// drives without any protocol level knowledge: every mutating operation
// either returns an outbound artifact to broadcast or nothing.
package session

import (
	"errors"
	"fmt"

	"github.com/joculatrix/mls-chat/crypto/groupkey"
)

// Session wraps exactly one group.  Sessions are never merged; joining
// replaces the participant's session wholesale.
type Session struct {
	provider *groupkey.Provider
	group    *groupkey.Group
}

// Members returns the group's current member list.
func (s *Session) Members() []groupkey.Credential {
	return s.group.Members()
}

// Epoch returns the group's current epoch.
func (s *Session) Epoch() uint64 {
	return s.group.Epoch()
}

// Participant owns one user's identity and at most one session.  A
// Participant starts out holding a self initiated solo session; a
// usable welcome replaces it with the joined group's session.
type Participant struct {
	id       string
	identity *groupkey.Identity
	provider *groupkey.Provider
	session  *Session
}

// NewParticipant generates identity key material for uid and initiates a
// fresh single member group.  A failure here is fatal to the process;
// the participant cannot operate without a group.
func NewParticipant(uid string, provider *groupkey.Provider) (*Participant, error) {
	identity, err := groupkey.NewIdentity(uid)
	if err != nil {
		return nil, err
	}
	group, err := provider.NewGroup(identity)
	if err != nil {
		return nil, err
	}
	return &Participant{
		id:       uid,
		identity: identity,
		provider: provider,
		session:  &Session{provider: provider, group: group},
	}, nil
}

// ID returns the participant's user id.
func (p *Participant) ID() string {
	return p.id
}

// Session returns the participant's current session.
func (p *Participant) Session() *Session {
	return p.session
}

// Announce returns the participant's serialized key announcement, the
// bare first contact wire shape.
func (p *Participant) Announce() ([]byte, error) {
	a, err := p.provider.NewAnnouncement(p.identity)
	if err != nil {
		return nil, err
	}
	return a.Encode()
}

// Join derives a session from a welcome envelope payload and replaces
// the current one; the replaced session is discarded.  A welcome built
// for somebody else fails with ErrKeyMaterialMissing and leaves the
// current session untouched.
func (p *Participant) Join(welcomePayload []byte) error {
	group, err := p.provider.GroupFromWelcome(welcomePayload)
	if err != nil {
		if errors.Is(err, groupkey.ErrKeyMaterialMissing) {
			return ErrKeyMaterialMissing
		}
		return fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	p.session = &Session{provider: p.provider, group: group}
	return nil
}

// AddMember validates an announced member's key material and produces
// the commit to broadcast to the whole group and the welcome for the new
// member.
func (p *Participant) AddMember(a *groupkey.KeyAnnouncement) (commit, welcome []byte, err error) {
	commit, welcome, err = p.provider.AddMember(p.session.group, p.identity, a)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMembershipChangeFailed, err)
	}
	return commit, welcome, nil
}

// Encrypt produces a protected frame from plaintext under the session's
// current key material.
func (p *Participant) Encrypt(plaintext []byte) ([]byte, error) {
	frame, err := p.provider.Encrypt(p.session.group, p.identity, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return frame, nil
}

// ProcessIncoming applies a received protocol envelope to the session.
// Application messages yield their plaintext; management content is
// merged into the session as a side effect and yields nil.
func (p *Participant) ProcessIncoming(e *groupkey.Envelope) ([]byte, error) {
	processed, err := p.provider.Process(p.session.group, e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	switch processed.Kind {
	case groupkey.ContentApplication:
		return processed.Plaintext, nil
	case groupkey.ContentCommit:
		if err = p.provider.MergeCommit(p.session.group, processed.Commit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// RotateKeys generates fresh identity key material, folds any pending
// membership change into the session, and returns the rotation artifact
// the caller must broadcast.  A failure leaves the session unusable.
func (p *Participant) RotateKeys() ([]byte, error) {
	frame, err := p.provider.Rotate(p.session.group, p.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRotationFailed, err)
	}
	return frame, nil
}

// RemoveMember issues a commit dropping a member from the session's
// group.
func (p *Participant) RemoveMember(target *groupkey.Credential) ([]byte, error) {
	frame, err := p.provider.RemoveMember(p.session.group, p.identity, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMembershipChangeFailed, err)
	}
	return frame, nil
}
