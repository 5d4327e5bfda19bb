// SPDX-License-Identifier: AGPL-3.0-only

package groupkey

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func testIdentity(t *testing.T, name string) *Identity {
	id, err := NewIdentity(name)
	require.NoError(t, err)
	return id
}

func decodeTestEnvelope(t *testing.T, frame []byte) *Envelope {
	e, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	return e
}

// newPair builds a two member group: alice initiates, bob joins via
// announcement, add, and welcome.  Alice's add commit is still staged
// when this returns.
func newPair(t *testing.T) (aliceProv *Provider, alice *Identity, aliceGroup *Group,
	bobProv *Provider, bob *Identity, bobGroup *Group) {
	require := require.New(t)

	alice = testIdentity(t, "alice")
	aliceProv = NewProvider()
	aliceGroup, err := aliceProv.NewGroup(alice)
	require.NoError(err)

	bob = testIdentity(t, "bob")
	bobProv = NewProvider()
	ann, err := bobProv.NewAnnouncement(bob)
	require.NoError(err)

	_, welcome, err := aliceProv.AddMember(aliceGroup, alice, ann)
	require.NoError(err)

	env := decodeTestEnvelope(t, welcome)
	require.Equal(EnvelopeWelcome, env.Type)
	bobGroup, err = bobProv.GroupFromWelcome(env.Payload)
	require.NoError(err)
	return
}

func TestAnnouncementValidate(t *testing.T) {
	require := require.New(t)

	alice := testIdentity(t, "alice")
	p := NewProvider()
	a, err := p.NewAnnouncement(alice)
	require.NoError(err)
	require.NoError(a.Validate())

	b, err := a.Encode()
	require.NoError(err)
	parsed, err := ParseAnnouncement(b)
	require.NoError(err)
	require.True(parsed.Credential.Equal(&a.Credential))

	// Any tampering invalidates the signature.
	parsed.InitPub[0] ^= 0x01
	require.Equal(ErrInvalidAnnouncement, parsed.Validate())

	// Unknown protocol versions are rejected outright.
	a.Version = ProtocolVersion + 1
	require.Equal(ErrInvalidAnnouncement, a.Validate())

	_, err = ParseAnnouncement([]byte("not an announcement"))
	require.Equal(ErrInvalidAnnouncement, err)
}

func TestAddMemberAndJoin(t *testing.T) {
	require := require.New(t)

	aliceProv, alice, aliceGroup, bobProv, bob, bobGroup := newPair(t)

	require.Equal(uint64(2), bobGroup.Epoch())
	require.Len(bobGroup.Members(), 2)
	aliceCred := alice.Credential()
	bobCred := bob.Credential()
	require.True(bobGroup.IsMember(&aliceCred))
	require.True(bobGroup.IsMember(&bobCred))

	// Bob's first message lands at the staged epoch and folds alice's
	// pending add commit in.
	frame, err := bobProv.Encrypt(bobGroup, bob, []byte("hello"))
	require.NoError(err)
	processed, err := aliceProv.Process(aliceGroup, decodeTestEnvelope(t, frame))
	require.NoError(err)
	require.Equal(ContentApplication, processed.Kind)
	require.Equal([]byte("hello"), processed.Plaintext)
	require.Equal(uint64(2), aliceGroup.Epoch())

	frame, err = aliceProv.Encrypt(aliceGroup, alice, []byte("hi bob"))
	require.NoError(err)
	processed, err = bobProv.Process(bobGroup, decodeTestEnvelope(t, frame))
	require.NoError(err)
	require.Equal([]byte("hi bob"), processed.Plaintext)
}

func TestWelcomeKeyMaterial(t *testing.T) {
	require := require.New(t)

	alice := testIdentity(t, "alice")
	aliceProv := NewProvider()
	aliceGroup, err := aliceProv.NewGroup(alice)
	require.NoError(err)

	bob := testIdentity(t, "bob")
	bobProv := NewProvider()
	ann, err := bobProv.NewAnnouncement(bob)
	require.NoError(err)
	_, welcome, err := aliceProv.AddMember(aliceGroup, alice, ann)
	require.NoError(err)
	env := decodeTestEnvelope(t, welcome)

	// Only the announcement's owner holds the init key.
	_, err = NewProvider().GroupFromWelcome(env.Payload)
	require.Equal(ErrKeyMaterialMissing, err)

	_, err = bobProv.GroupFromWelcome(env.Payload)
	require.NoError(err)

	// Init keys are single use; a replayed welcome no longer opens.
	_, err = bobProv.GroupFromWelcome(env.Payload)
	require.Equal(ErrKeyMaterialMissing, err)
}

func TestCommitChain(t *testing.T) {
	require := require.New(t)

	aliceProv, _, aliceGroup, bobProv, bob, bobGroup := newPair(t)

	// Bob adds carol on top of alice's still staged add commit.
	carol := testIdentity(t, "carol")
	carolProv := NewProvider()
	ann, err := carolProv.NewAnnouncement(carol)
	require.NoError(err)
	commit, welcome, err := bobProv.AddMember(bobGroup, bob, ann)
	require.NoError(err)

	commitEnv := decodeTestEnvelope(t, commit)
	require.Equal(EnvelopePublicMessage, commitEnv.Type)
	processed, err := aliceProv.Process(aliceGroup, commitEnv)
	require.NoError(err)
	require.Equal(ContentCommit, processed.Kind)
	require.NoError(aliceProv.MergeCommit(aliceGroup, processed.Commit))
	require.Equal(uint64(3), aliceGroup.Epoch())
	require.Len(aliceGroup.Members(), 3)

	carolGroup, err := carolProv.GroupFromWelcome(decodeTestEnvelope(t, welcome).Payload)
	require.NoError(err)
	require.Equal(uint64(3), carolGroup.Epoch())
	require.Len(carolGroup.Members(), 3)

	// Carol's first message reaches both existing members.
	frame, err := carolProv.Encrypt(carolGroup, carol, []byte("heyo"))
	require.NoError(err)
	processed, err = aliceProv.Process(aliceGroup, decodeTestEnvelope(t, frame))
	require.NoError(err)
	require.Equal([]byte("heyo"), processed.Plaintext)
	processed, err = bobProv.Process(bobGroup, decodeTestEnvelope(t, frame))
	require.NoError(err)
	require.Equal([]byte("heyo"), processed.Plaintext)
	require.Equal(uint64(3), bobGroup.Epoch())

	// Replaying the add commit after the merge is an epoch mismatch.
	_, err = aliceProv.Process(aliceGroup, commitEnv)
	require.Equal(ErrEpochMismatch, err)
}

func TestRotate(t *testing.T) {
	require := require.New(t)

	aliceProv, _, aliceGroup, bobProv, bob, bobGroup := newPair(t)

	oldCred := bob.Credential()
	rotation, err := bobProv.Rotate(bobGroup, bob)
	require.NoError(err)

	// Rotation applies to the sender at once.
	newCred := bob.Credential()
	require.False(newCred.Equal(&oldCred))
	require.Equal(uint64(3), bobGroup.Epoch())
	require.True(bobGroup.IsMember(&newCred))
	require.False(bobGroup.IsMember(&oldCred))

	processed, err := aliceProv.Process(aliceGroup, decodeTestEnvelope(t, rotation))
	require.NoError(err)
	require.Equal(ContentCommit, processed.Kind)
	require.NoError(aliceProv.MergeCommit(aliceGroup, processed.Commit))
	require.Equal(uint64(3), aliceGroup.Epoch())
	require.True(aliceGroup.IsMember(&newCred))
	require.False(aliceGroup.IsMember(&oldCred))
}

func TestRemoveMember(t *testing.T) {
	require := require.New(t)

	aliceProv, alice, aliceGroup, bobProv, bob, bobGroup := newPair(t)
	bobCred := bob.Credential()

	commit, err := aliceProv.RemoveMember(aliceGroup, alice, &bobCred)
	require.NoError(err)

	// The removal is staged until the next outgoing message.
	_, err = aliceProv.Encrypt(aliceGroup, alice, []byte("gone"))
	require.NoError(err)
	require.Equal(uint64(3), aliceGroup.Epoch())
	require.Len(aliceGroup.Members(), 1)

	processed, err := bobProv.Process(bobGroup, decodeTestEnvelope(t, commit))
	require.NoError(err)
	require.NoError(bobProv.MergeCommit(bobGroup, processed.Commit))
	require.False(bobGroup.IsMember(&bobCred))

	_, err = aliceProv.RemoveMember(aliceGroup, alice, &bobCred)
	require.Equal(ErrUnknownMember, err)
}

func TestStaleEpochDropped(t *testing.T) {
	require := require.New(t)

	aliceProv, alice, aliceGroup, bobProv, bob, bobGroup := newPair(t)

	stale, err := bobProv.Encrypt(bobGroup, bob, []byte("old news"))
	require.NoError(err)

	rotation, err := aliceProv.Rotate(aliceGroup, alice)
	require.NoError(err)
	processed, err := bobProv.Process(bobGroup, decodeTestEnvelope(t, rotation))
	require.NoError(err)
	require.NoError(bobProv.MergeCommit(bobGroup, processed.Commit))

	// The pre-rotation message no longer matches the current epoch.
	_, err = aliceProv.Process(aliceGroup, decodeTestEnvelope(t, stale))
	require.Equal(ErrEpochMismatch, err)
}

func TestWrongGroup(t *testing.T) {
	require := require.New(t)

	alice := testIdentity(t, "alice")
	aliceProv := NewProvider()
	aliceGroup, err := aliceProv.NewGroup(alice)
	require.NoError(err)

	mallory := testIdentity(t, "mallory")
	malloryProv := NewProvider()
	malloryGroup, err := malloryProv.NewGroup(mallory)
	require.NoError(err)

	frame, err := malloryProv.Encrypt(malloryGroup, mallory, []byte("psst"))
	require.NoError(err)
	_, err = aliceProv.Process(aliceGroup, decodeTestEnvelope(t, frame))
	require.Equal(ErrWrongGroup, err)
}

func TestDecodeEnvelope(t *testing.T) {
	require := require.New(t)

	_, err := DecodeEnvelope([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(ErrInvalidEnvelope, err)

	// A structurally valid envelope with an unknown tag is rejected.
	b, err := cbor.Marshal(&Envelope{Type: EnvelopePublicMessage + 1, Payload: []byte{1}})
	require.NoError(err)
	_, err = DecodeEnvelope(b)
	require.Equal(ErrInvalidEnvelope, err)

	// A bare announcement never decodes as an envelope.
	alice := testIdentity(t, "alice")
	a, err := NewProvider().NewAnnouncement(alice)
	require.NoError(err)
	ab, err := a.Encode()
	require.NoError(err)
	_, err = DecodeEnvelope(ab)
	require.Equal(ErrInvalidEnvelope, err)
}

func TestSigningKeyVersions(t *testing.T) {
	require := require.New(t)

	k1, err := NewSigningKey()
	require.NoError(err)
	require.Equal(uint64(1), k1.Version())

	k2, err := k1.Rotate()
	require.NoError(err)
	require.Equal(uint64(2), k2.Version())

	// The old version is untouched and still usable.
	require.Equal(uint64(1), k1.Version())
	require.NotEqual(k1.PublicBytes(), k2.PublicBytes())
}
