// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joculatrix/mls-chat/crypto/groupkey"
)

func newParticipant(t *testing.T, uid string) *Participant {
	p, err := NewParticipant(uid, groupkey.NewProvider())
	require.NoError(t, err)
	return p
}

// link runs the full add flow: bob announces, alice adds him, bob joins
// from the welcome.  The add commit is returned for tests that need it.
func link(t *testing.T, alice, bob *Participant) (commit []byte) {
	require := require.New(t)

	annBytes, err := bob.Announce()
	require.NoError(err)
	ann, err := groupkey.ParseAnnouncement(annBytes)
	require.NoError(err)

	commit, welcome, err := alice.AddMember(ann)
	require.NoError(err)

	env, err := groupkey.DecodeEnvelope(welcome)
	require.NoError(err)
	require.Equal(groupkey.EnvelopeWelcome, env.Type)
	require.NoError(bob.Join(env.Payload))
	return commit
}

func TestJoinReplacesSession(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")

	require.Len(bob.Session().Members(), 1)
	link(t, alice, bob)
	require.Len(bob.Session().Members(), 2)
	require.Equal(uint64(2), bob.Session().Epoch())
}

func TestJoinForSomebodyElse(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	carol := newParticipant(t, "carol")
	link(t, alice, bob)

	// A welcome built against carol's announcement is opaque to bob and
	// leaves his session untouched.
	annBytes, err := carol.Announce()
	require.NoError(err)
	ann, err := groupkey.ParseAnnouncement(annBytes)
	require.NoError(err)
	_, welcome, err := alice.AddMember(ann)
	require.NoError(err)
	env, err := groupkey.DecodeEnvelope(welcome)
	require.NoError(err)

	before := bob.Session()
	require.ErrorIs(bob.Join(env.Payload), ErrKeyMaterialMissing)
	require.Same(before, bob.Session())
}

func TestMessageExchange(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	link(t, alice, bob)

	frame, err := alice.Encrypt([]byte("hello"))
	require.NoError(err)
	env, err := groupkey.DecodeEnvelope(frame)
	require.NoError(err)
	pt, err := bob.ProcessIncoming(env)
	require.NoError(err)
	require.Equal([]byte("hello"), pt)

	frame, err = bob.Encrypt([]byte("hey alice"))
	require.NoError(err)
	env, err = groupkey.DecodeEnvelope(frame)
	require.NoError(err)
	pt, err = alice.ProcessIncoming(env)
	require.NoError(err)
	require.Equal([]byte("hey alice"), pt)
}

func TestCommitMergedAsSideEffect(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	link(t, alice, bob)

	rotation, err := bob.RotateKeys()
	require.NoError(err)
	require.Equal(uint64(3), bob.Session().Epoch())

	env, err := groupkey.DecodeEnvelope(rotation)
	require.NoError(err)
	pt, err := alice.ProcessIncoming(env)
	require.NoError(err)
	require.Nil(pt)
	require.Equal(uint64(3), alice.Session().Epoch())
}

func TestGroupInfoIsIdempotent(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	link(t, alice, bob)

	epoch := bob.Session().Epoch()
	for i := 0; i < 3; i++ {
		pt, err := bob.ProcessIncoming(&groupkey.Envelope{Type: groupkey.EnvelopeGroupInfo})
		require.NoError(err)
		require.Nil(pt)
	}
	require.Equal(epoch, bob.Session().Epoch())
	require.Len(bob.Session().Members(), 2)
}

func TestMalformedLeavesStateUnchanged(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	link(t, alice, bob)

	epoch := bob.Session().Epoch()
	members := bob.Session().Members()

	env := &groupkey.Envelope{
		Type:    groupkey.EnvelopePrivateMessage,
		Payload: []byte("garbage"),
	}
	_, err := bob.ProcessIncoming(env)
	require.ErrorIs(err, ErrProcessingFailed)

	require.Equal(epoch, bob.Session().Epoch())
	require.Equal(members, bob.Session().Members())
}

func TestRemoveMemberFlow(t *testing.T) {
	require := require.New(t)

	alice := newParticipant(t, "alice")
	bob := newParticipant(t, "bob")
	link(t, alice, bob)

	members := alice.Session().Members()
	var bobCred *groupkey.Credential
	for i := range members {
		if members[i].Name == "bob" {
			bobCred = &members[i]
		}
	}
	require.NotNil(bobCred)

	commit, err := alice.RemoveMember(bobCred)
	require.NoError(err)
	env, err := groupkey.DecodeEnvelope(commit)
	require.NoError(err)
	pt, err := bob.ProcessIncoming(env)
	require.NoError(err)
	require.Nil(pt)
	require.Len(bob.Session().Members(), 1)

	_, err = alice.RemoveMember(bobCred)
	require.ErrorIs(err, ErrMembershipChangeFailed)
}
