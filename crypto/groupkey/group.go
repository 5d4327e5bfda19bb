// SPDX-License-Identifier: AGPL-3.0-only

package groupkey

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// GroupIDLength is the length of a group identifier in bytes.
	GroupIDLength = 32

	// SecretLength is the length of a per epoch group secret in bytes.
	SecretLength = 32
)

// Group is one group's cryptographic membership state: an identifier, a
// monotonically increasing epoch, the per epoch secret all application
// traffic is protected under, and the member list.
type Group struct {
	id      [GroupIDLength]byte
	epoch   uint64
	secret  [SecretLength]byte
	members []Credential

	// pending is the epoch staged by AddMember, folded in by the next
	// Rotate before the rotation artifact is issued.
	pending *epochState
}

type epochState struct {
	epoch   uint64
	secret  [SecretLength]byte
	members []Credential
}

// ID returns the group identifier.
func (g *Group) ID() [GroupIDLength]byte {
	return g.id
}

// Epoch returns the current epoch.
func (g *Group) Epoch() uint64 {
	return g.epoch
}

// Members returns a copy of the current member list.
func (g *Group) Members() []Credential {
	m := make([]Credential, len(g.members))
	copy(m, g.members)
	return m
}

// IsMember returns true if a credential with the given credential's
// fingerprint is in the member list.
func (g *Group) IsMember(c *Credential) bool {
	fp := c.Fingerprint()
	for i := range g.members {
		if g.members[i].Fingerprint() == fp {
			return true
		}
	}
	return false
}

func (g *Group) mergePending() {
	if g.pending == nil {
		return
	}
	g.epoch = g.pending.epoch
	g.secret = g.pending.secret
	g.members = g.pending.members
	g.pending = nil
}

// StagedCommit is a processed but not yet applied membership or key
// material change.  MergeCommit installs it.
type StagedCommit struct {
	groupID [GroupIDLength]byte
	epoch   uint64
	secret  [SecretLength]byte
	members []Credential
}

// ContentKind discriminates the content yielded by processing a protocol
// message.
type ContentKind uint8

const (
	// ContentApplication is decrypted application plaintext.
	ContentApplication ContentKind = iota + 1

	// ContentCommit is a staged membership or key material change.
	ContentCommit

	// ContentOther is management content with no caller visible effect.
	ContentOther
)

// Processed is the result of processing a protocol message against a
// group.
type Processed struct {
	Kind      ContentKind
	Plaintext []byte
	Commit    *StagedCommit
}

// commitMessage advances a group from PrevEpoch to NewEpoch.  Exactly one
// of Added, Updated, or RemovedFrom is set: Added appends a new member,
// Updated replaces the credential with fingerprint UpdatedFrom (a key
// rotation), RemovedFrom drops the named member.  Wrapped is the new
// epoch secret sealed under the PrevEpoch commit key, which only current
// members hold.
type commitMessage struct {
	GroupID     []byte
	PrevEpoch   uint64
	NewEpoch    uint64
	Added       *Credential
	UpdatedFrom []byte
	Updated     *Credential
	RemovedFrom []byte
	Nonce       []byte
	Wrapped     []byte
}

// welcomeMessage carries the full group state sealed to the init key of
// the announcement it was built against.  Only the announcement's owner
// can open it.
type welcomeMessage struct {
	AnnouncementHash []byte
	EphPub           []byte
	Nonce            []byte
	Ciphertext       []byte
}

// groupState is the plaintext inside a welcome.
type groupState struct {
	GroupID []byte
	Epoch   uint64
	Secret  []byte
	Members []Credential
}

// cipherMessage is an encrypted application message under the epoch
// message key.
type cipherMessage struct {
	GroupID    []byte
	Epoch      uint64
	Nonce      []byte
	Ciphertext []byte
}

// deriveKey expands the epoch secret into a purpose bound AEAD key, so
// that commit wrapping and application traffic never share a key.
func deriveKey(secret [SecretLength]byte, purpose string, epoch uint64) ([]byte, error) {
	info := make([]byte, 0, len(purpose)+8)
	info = append(info, []byte(purpose)...)
	var e [8]byte
	binary.BigEndian.PutUint64(e[:], epoch)
	info = append(info, e[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret[:], nil, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func seal(key, plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, ad), nil
}

func open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, ErrDecryptionFailed
	}
	pt, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func (g *Group) aad() []byte {
	b := make([]byte, GroupIDLength+8)
	copy(b, g.id[:])
	binary.BigEndian.PutUint64(b[GroupIDLength:], g.epoch)
	return b
}

// processCipherMessage decrypts an application message sent under the
// group's current epoch.
func (g *Group) processCipherMessage(payload []byte) (*Processed, error) {
	m := new(cipherMessage)
	if err := cbor.Unmarshal(payload, m); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if !hmacEqual(m.GroupID, g.id[:]) {
		return nil, ErrWrongGroup
	}
	// Traffic arriving at the staged epoch proves our own commit was
	// delivered; fold it in before decrypting.
	if g.pending != nil && m.Epoch == g.pending.epoch {
		g.mergePending()
	}
	if m.Epoch != g.epoch {
		return nil, ErrEpochMismatch
	}

	key, err := deriveKey(g.secret, "msg", g.epoch)
	if err != nil {
		return nil, err
	}
	pt, err := open(key, m.Nonce, m.Ciphertext, g.aad())
	if err != nil {
		return nil, err
	}
	return &Processed{Kind: ContentApplication, Plaintext: pt}, nil
}

// processCommitMessage unwraps a commit into a StagedCommit.  Commits are
// only sealed under the group secret, so possession of the secret is what
// authenticates the sender as a member.
func (g *Group) processCommitMessage(payload []byte) (*Processed, error) {
	m := new(commitMessage)
	if err := cbor.Unmarshal(payload, m); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if !hmacEqual(m.GroupID, g.id[:]) {
		return nil, ErrWrongGroup
	}
	// A commit chained on top of our staged epoch proves delivery of our
	// own commit; fold it in before validating the chain.
	if g.pending != nil && m.PrevEpoch == g.pending.epoch {
		g.mergePending()
	}
	if m.PrevEpoch != g.epoch || m.NewEpoch != g.epoch+1 {
		return nil, ErrEpochMismatch
	}

	key, err := deriveKey(g.secret, "commit", m.NewEpoch)
	if err != nil {
		return nil, err
	}
	secret, err := open(key, m.Nonce, m.Wrapped, m.GroupID)
	if err != nil {
		return nil, err
	}
	if len(secret) != SecretLength {
		return nil, ErrDecryptionFailed
	}

	sc := &StagedCommit{groupID: g.id, epoch: m.NewEpoch}
	copy(sc.secret[:], secret)
	sc.members = g.Members()
	switch {
	case m.Added != nil:
		sc.members = append(sc.members, *m.Added)
	case m.Updated != nil:
		replaced := false
		for i := range sc.members {
			fp := sc.members[i].Fingerprint()
			if hmacEqual(fp[:], m.UpdatedFrom) {
				sc.members[i] = *m.Updated
				replaced = true
				break
			}
		}
		if !replaced {
			// Rotation by a member this group never saw added, e.g. a
			// commit observed before its announcement's add commit.
			return nil, ErrUnknownMember
		}
	case m.RemovedFrom != nil:
		kept := sc.members[:0]
		removed := false
		for _, c := range sc.members {
			fp := c.Fingerprint()
			if hmacEqual(fp[:], m.RemovedFrom) {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		if !removed {
			return nil, ErrUnknownMember
		}
		sc.members = kept
	default:
		return nil, ErrInvalidEnvelope
	}

	return &Processed{Kind: ContentCommit, Commit: sc}, nil
}
