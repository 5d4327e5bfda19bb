// SPDX-License-Identifier: AGPL-3.0-only

package session

import "errors"

var (
	// ErrInvalidMessage is the error returned when a frame decodes as
	// neither a protocol envelope nor a bare key announcement.
	ErrInvalidMessage = errors.New("session: invalid message")

	// ErrKeyMaterialMissing is the error returned by Join when the
	// welcome references key material this participant does not hold.
	ErrKeyMaterialMissing = errors.New("session: missing key material for welcome")

	// ErrMembershipChangeFailed is the error returned when validating or
	// applying a member addition or removal fails.
	ErrMembershipChangeFailed = errors.New("session: membership change failed")

	// ErrEncryptionFailed is the error returned when protecting an
	// outgoing application message fails.
	ErrEncryptionFailed = errors.New("session: encryption failed")

	// ErrProcessingFailed is the error returned when applying a received
	// protocol message fails.  The caller drops the frame and continues.
	ErrProcessingFailed = errors.New("session: message processing failed")

	// ErrRotationFailed is the error returned when a key rotation fails.
	// The session is unusable afterwards and must be torn down.
	ErrRotationFailed = errors.New("session: key rotation failed")
)
