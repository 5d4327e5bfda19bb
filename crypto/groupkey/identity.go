// SPDX-License-Identifier: AGPL-3.0-only

package groupkey

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/hpqc/sign/ed25519"
)

// ProtocolVersion is the version tag carried by every key announcement.
// Announcements with any other version are rejected.
const ProtocolVersion = 1

// Credential is a key bound identity record: a display name bound to the
// owner's current signing public key.
type Credential struct {
	Name    string
	SignPub []byte
}

// Fingerprint returns the hash identifying this credential, used for
// member list lookups and for naming the credential a commit replaces.
func (c *Credential) Fingerprint() [32]byte {
	b := make([]byte, 0, len(c.Name)+len(c.SignPub))
	b = append(b, []byte(c.Name)...)
	b = append(b, c.SignPub...)
	return hash.Sum256(b)
}

// Equal returns true if the credentials have the same fingerprint.
func (c *Credential) Equal(other *Credential) bool {
	return c.Fingerprint() == other.Fingerprint()
}

func (c *Credential) verify(sig, msg []byte) bool {
	pub := new(ed25519.PublicKey)
	if err := pub.FromBytes(c.SignPub); err != nil {
		return false
	}
	return pub.Verify(sig, msg)
}

// SigningKey is one version of an identity's signing key pair.  Rotation
// never mutates a SigningKey in place; it returns a new version so that
// in-flight artifacts built against the old version stay verifiable.
type SigningKey struct {
	version uint64
	priv    *ed25519.PrivateKey
	pub     *ed25519.PublicKey
}

// NewSigningKey generates version 1 of an identity's signing key pair.
func NewSigningKey() (*SigningKey, error) {
	priv, pub, err := ed25519.NewKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKey{version: 1, priv: priv, pub: pub}, nil
}

// Rotate returns a fresh key pair with the version advanced.  The receiver
// is left untouched.
func (k *SigningKey) Rotate() (*SigningKey, error) {
	priv, pub, err := ed25519.NewKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKey{version: k.version + 1, priv: priv, pub: pub}, nil
}

// Version returns the key version, starting at 1.
func (k *SigningKey) Version() uint64 {
	return k.version
}

// PublicBytes returns the serialized signing public key.
func (k *SigningKey) PublicBytes() []byte {
	return k.pub.Bytes()
}

func (k *SigningKey) sign(msg []byte) []byte {
	return k.priv.SignMessage(msg)
}

// Identity is one user's rotating identity.  Exactly one signing key
// version is live at any time; Rotate swaps in the next version.
type Identity struct {
	name string
	key  *SigningKey
}

// NewIdentity generates a fresh identity for the given display name.
func NewIdentity(name string) (*Identity, error) {
	key, err := NewSigningKey()
	if err != nil {
		return nil, err
	}
	return &Identity{name: name, key: key}, nil
}

// Name returns the identity's display name.
func (id *Identity) Name() string {
	return id.name
}

// Key returns the live signing key version.
func (id *Identity) Key() *SigningKey {
	return id.key
}

// Credential returns the credential binding the name to the live signing
// key.
func (id *Identity) Credential() Credential {
	return Credential{Name: id.name, SignPub: id.key.PublicBytes()}
}

// Rotate generates the next signing key version and makes it live.  The
// previous version remains usable by artifacts that captured it.
func (id *Identity) Rotate() error {
	key, err := id.key.Rotate()
	if err != nil {
		return err
	}
	id.key = key
	return nil
}

// KeyAnnouncement is a member's published key material: their credential
// plus an X25519 init key that welcomes are encrypted to, signed by the
// credential's signing key.
type KeyAnnouncement struct {
	Version    uint8
	Credential Credential
	InitPub    []byte
	Signature  []byte
}

func (a *KeyAnnouncement) signedBytes() []byte {
	b := make([]byte, 0, 1+8+len(a.Credential.Name)+len(a.Credential.SignPub)+len(a.InitPub))
	b = append(b, a.Version)
	var nameLen [8]byte
	binary.BigEndian.PutUint64(nameLen[:], uint64(len(a.Credential.Name)))
	b = append(b, nameLen[:]...)
	b = append(b, []byte(a.Credential.Name)...)
	b = append(b, a.Credential.SignPub...)
	b = append(b, a.InitPub...)
	return b
}

// Validate checks the announcement's protocol version and signature.
func (a *KeyAnnouncement) Validate() error {
	if a.Version != ProtocolVersion {
		return ErrInvalidAnnouncement
	}
	if len(a.InitPub) != x25519.PublicKeySize {
		return ErrInvalidAnnouncement
	}
	if !a.Credential.verify(a.Signature, a.signedBytes()) {
		return ErrInvalidAnnouncement
	}
	return nil
}

// Hash returns the hash welcomes use to name the announcement they were
// built against.
func (a *KeyAnnouncement) Hash() ([32]byte, error) {
	b, err := cbor.Marshal(a)
	if err != nil {
		return [32]byte{}, err
	}
	return hash.Sum256(b), nil
}

// Encode serializes the announcement as the bare first contact wire
// shape.
func (a *KeyAnnouncement) Encode() ([]byte, error) {
	return cbor.Marshal(a)
}

// ParseAnnouncement decodes and validates a bare key announcement.  This
// is the fallback wire shape used by first contact joins, so decode
// failures and signature failures are reported identically.
func ParseAnnouncement(b []byte) (*KeyAnnouncement, error) {
	a := new(KeyAnnouncement)
	if err := cbor.Unmarshal(b, a); err != nil {
		return nil, ErrInvalidAnnouncement
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
