// SPDX-License-Identifier: AGPL-3.0-only

package groupkey

import "errors"

var (
	// ErrKeyMaterialMissing is the error returned when a welcome
	// references an init key this provider does not hold.
	ErrKeyMaterialMissing = errors.New("groupkey: no key material for welcome")

	// ErrInvalidAnnouncement is the error returned when a key
	// announcement fails to decode, carries an unsupported protocol
	// version, or has a bad signature.
	ErrInvalidAnnouncement = errors.New("groupkey: invalid key announcement")

	// ErrInvalidEnvelope is the error returned when a frame does not
	// decode as a protocol envelope.
	ErrInvalidEnvelope = errors.New("groupkey: invalid protocol envelope")

	// ErrWrongGroup is the error returned when a message names a group
	// other than the one it was processed against.
	ErrWrongGroup = errors.New("groupkey: message for a different group")

	// ErrEpochMismatch is the error returned when a message was built
	// against an epoch other than the group's current one.  Commits
	// arriving out of causal order surface as this error and are dropped
	// by the caller.
	ErrEpochMismatch = errors.New("groupkey: message epoch does not match group epoch")

	// ErrDecryptionFailed is the error returned when an AEAD open fails.
	ErrDecryptionFailed = errors.New("groupkey: decryption failed")

	// ErrUnknownMember is the error returned when a commit names a
	// member the group has never seen.
	ErrUnknownMember = errors.New("groupkey: commit names unknown member")
)
