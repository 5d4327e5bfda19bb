// SPDX-License-Identifier: AGPL-3.0-only

// Package groupkey implements the group key agreement capability the chat
// layer drives: identity and announcement generation, group creation and
// joining, member addition, message protection, and key rotation.  The
// caller treats every artifact as an opaque frame; the only structure it
// ever branches on is the envelope type tag.
package groupkey

import (
	"crypto/hmac"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
)

func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// Provider holds the key material store backing announcement based joins.
// It is an explicit constructor dependency of every session, never
// process global state, so multiple independent sessions can coexist in
// one process.
type Provider struct {
	sync.Mutex

	initKeys map[[32]byte]*x25519.PrivateKey
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		initKeys: make(map[[32]byte]*x25519.PrivateKey),
	}
}

// NewAnnouncement generates and signs a key announcement for the
// identity, retaining the init private key so a later welcome built
// against this announcement can be opened.
func (p *Provider) NewAnnouncement(id *Identity) (*KeyAnnouncement, error) {
	initPriv, err := x25519.NewKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	a := &KeyAnnouncement{
		Version:    ProtocolVersion,
		Credential: id.Credential(),
		InitPub:    initPriv.Public().(*x25519.PublicKey).Bytes(),
	}
	a.Signature = id.Key().sign(a.signedBytes())

	h, err := a.Hash()
	if err != nil {
		return nil, err
	}
	p.Lock()
	p.initKeys[h] = initPriv
	p.Unlock()

	return a, nil
}

// takeInitKey removes and returns the init key for an announcement hash.
// Init keys are single use; a successful join consumes the key.
func (p *Provider) takeInitKey(h [32]byte) (*x25519.PrivateKey, bool) {
	p.Lock()
	defer p.Unlock()
	k, ok := p.initKeys[h]
	if ok {
		delete(p.initKeys, h)
	}
	return k, ok
}

// NewGroup creates a fresh single member group with the identity as
// initiator.
func (p *Provider) NewGroup(id *Identity) (*Group, error) {
	g := &Group{
		epoch:   1,
		members: []Credential{id.Credential()},
	}
	if _, err := io.ReadFull(rand.Reader, g.id[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, g.secret[:]); err != nil {
		return nil, err
	}
	return g, nil
}

// GroupFromWelcome derives a group from a welcome envelope payload.
// Returns ErrKeyMaterialMissing if the welcome was built against an
// announcement whose init key this provider does not hold, which is the
// normal outcome for welcomes addressed to somebody else.
func (p *Provider) GroupFromWelcome(payload []byte) (*Group, error) {
	w := new(welcomeMessage)
	if err := cbor.Unmarshal(payload, w); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if len(w.AnnouncementHash) != 32 || len(w.EphPub) != x25519.PublicKeySize {
		return nil, ErrInvalidEnvelope
	}

	var h [32]byte
	copy(h[:], w.AnnouncementHash)
	p.Lock()
	initPriv, ok := p.initKeys[h]
	p.Unlock()
	if !ok {
		return nil, ErrKeyMaterialMissing
	}

	ephPub := new(x25519.PublicKey)
	if err := ephPub.FromBytes(w.EphPub); err != nil {
		return nil, ErrInvalidEnvelope
	}
	key, err := welcomeKey(initPriv.Exp(ephPub))
	if err != nil {
		return nil, err
	}
	pt, err := open(key, w.Nonce, w.Ciphertext, w.AnnouncementHash)
	if err != nil {
		return nil, err
	}

	st := new(groupState)
	if err = cbor.Unmarshal(pt, st); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if len(st.GroupID) != GroupIDLength || len(st.Secret) != SecretLength {
		return nil, ErrInvalidEnvelope
	}

	g := &Group{epoch: st.Epoch, members: st.Members}
	copy(g.id[:], st.GroupID)
	copy(g.secret[:], st.Secret)

	// The join succeeded; the init key is spent.
	p.takeInitKey(h)

	return g, nil
}

// welcomeKey derives the welcome AEAD key from the raw ECDH shared
// secret.
func welcomeKey(shared []byte) ([]byte, error) {
	var s [SecretLength]byte
	copy(s[:], shared)
	return deriveKey(s, "welcome", 0)
}

// AddMember validates the announced key material and produces the two
// membership artifacts: a commit envelope for existing members and a
// welcome envelope only the announced member can use.  The new epoch is
// staged on the group and folded in by the next Rotate.
func (p *Provider) AddMember(g *Group, id *Identity, a *KeyAnnouncement) (commit, welcome []byte, err error) {
	if err = a.Validate(); err != nil {
		return nil, nil, err
	}

	// An earlier staged change is folded in first so the commit chain
	// stays linear.
	g.mergePending()

	next := &epochState{epoch: g.epoch + 1}
	if _, err = io.ReadFull(rand.Reader, next.secret[:]); err != nil {
		return nil, nil, err
	}
	next.members = append(g.Members(), a.Credential)

	commit, err = g.buildCommit(next, &commitMessage{Added: &a.Credential})
	if err != nil {
		return nil, nil, err
	}
	welcome, err = buildWelcome(g, next, a)
	if err != nil {
		return nil, nil, err
	}

	g.pending = next
	return commit, welcome, nil
}

// buildCommit seals next's secret under the current epoch's commit key
// and wraps the result in a PublicMessage envelope.  The caller fills in
// the membership delta fields of m before the call.
func (g *Group) buildCommit(next *epochState, m *commitMessage) ([]byte, error) {
	m.GroupID = append([]byte(nil), g.id[:]...)
	m.PrevEpoch = g.epoch
	m.NewEpoch = next.epoch

	key, err := deriveKey(g.secret, "commit", next.epoch)
	if err != nil {
		return nil, err
	}
	m.Nonce, m.Wrapped, err = seal(key, next.secret[:], m.GroupID)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(EnvelopePublicMessage, m)
}

func buildWelcome(g *Group, next *epochState, a *KeyAnnouncement) ([]byte, error) {
	h, err := a.Hash()
	if err != nil {
		return nil, err
	}

	st := &groupState{
		GroupID: append([]byte(nil), g.id[:]...),
		Epoch:   next.epoch,
		Secret:  append([]byte(nil), next.secret[:]...),
		Members: next.members,
	}
	pt, err := cbor.Marshal(st)
	if err != nil {
		return nil, err
	}

	ephPriv, err := x25519.NewKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	initPub := new(x25519.PublicKey)
	if err = initPub.FromBytes(a.InitPub); err != nil {
		return nil, ErrInvalidAnnouncement
	}
	key, err := welcomeKey(ephPriv.Exp(initPub))
	if err != nil {
		return nil, err
	}

	w := &welcomeMessage{
		AnnouncementHash: h[:],
		EphPub:           ephPriv.Public().(*x25519.PublicKey).Bytes(),
	}
	w.Nonce, w.Ciphertext, err = seal(key, pt, w.AnnouncementHash)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(EnvelopeWelcome, w)
}

// Encrypt protects plaintext under the group's current epoch and returns
// a PrivateMessage envelope.
func (p *Provider) Encrypt(g *Group, id *Identity, plaintext []byte) ([]byte, error) {
	// Never encrypt under an epoch older than the commit we already
	// broadcast; continuing members have merged it by the time this
	// message reaches them.
	g.mergePending()

	key, err := deriveKey(g.secret, "msg", g.epoch)
	if err != nil {
		return nil, err
	}

	m := &cipherMessage{
		GroupID: append([]byte(nil), g.id[:]...),
		Epoch:   g.epoch,
	}
	m.Nonce, m.Ciphertext, err = seal(key, plaintext, g.aad())
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(EnvelopePrivateMessage, m)
}

// Process applies a received protocol envelope against the group.
// PrivateMessage yields application plaintext, PublicMessage yields a
// staged commit for MergeCommit, GroupInfo yields ContentOther.  Any
// other envelope type is not a processable protocol message.
func (p *Provider) Process(g *Group, e *Envelope) (*Processed, error) {
	switch e.Type {
	case EnvelopePrivateMessage:
		return g.processCipherMessage(e.Payload)
	case EnvelopePublicMessage:
		return g.processCommitMessage(e.Payload)
	case EnvelopeGroupInfo:
		return &Processed{Kind: ContentOther}, nil
	default:
		return nil, ErrInvalidEnvelope
	}
}

// MergeCommit installs a staged commit, advancing the group's epoch,
// secret, and member list.
func (p *Provider) MergeCommit(g *Group, sc *StagedCommit) error {
	if !hmacEqual(sc.groupID[:], g.id[:]) {
		return ErrWrongGroup
	}
	if sc.epoch != g.epoch+1 {
		return ErrEpochMismatch
	}
	g.epoch = sc.epoch
	g.secret = sc.secret
	g.members = sc.members
	g.pending = nil
	return nil
}

// Rotate folds any staged membership change into the group, generates a
// fresh signing key version for the identity, and issues the rotation
// commit the caller must broadcast.
func (p *Provider) Rotate(g *Group, id *Identity) ([]byte, error) {
	g.mergePending()

	oldCred := id.Credential()
	oldFp := oldCred.Fingerprint()
	if err := id.Rotate(); err != nil {
		return nil, err
	}
	newCred := id.Credential()

	next := &epochState{epoch: g.epoch + 1}
	if _, err := io.ReadFull(rand.Reader, next.secret[:]); err != nil {
		return nil, err
	}
	next.members = g.Members()
	for i := range next.members {
		fp := next.members[i].Fingerprint()
		if hmacEqual(fp[:], oldFp[:]) {
			next.members[i] = newCred
		}
	}

	commit, err := g.buildCommit(next, &commitMessage{
		UpdatedFrom: oldFp[:],
		Updated:     &newCred,
	})
	if err != nil {
		return nil, err
	}

	// Rotation applies locally at once; the sender is its own first
	// consumer of the new epoch.
	g.epoch = next.epoch
	g.secret = next.secret
	g.members = next.members
	return commit, nil
}

// RemoveMember issues a commit dropping the member with the given
// credential from the group.
func (p *Provider) RemoveMember(g *Group, id *Identity, target *Credential) ([]byte, error) {
	g.mergePending()

	targetFp := target.Fingerprint()
	next := &epochState{epoch: g.epoch + 1}
	if _, err := io.ReadFull(rand.Reader, next.secret[:]); err != nil {
		return nil, err
	}
	found := false
	for _, m := range g.Members() {
		fp := m.Fingerprint()
		if hmacEqual(fp[:], targetFp[:]) {
			found = true
			continue
		}
		next.members = append(next.members, m)
	}
	if !found {
		return nil, ErrUnknownMember
	}

	commit, err := g.buildCommit(next, &commitMessage{RemovedFrom: targetFp[:]})
	if err != nil {
		return nil, err
	}
	g.pending = next
	return commit, nil
}
