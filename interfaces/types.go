package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
)

type UserID string

type DeviceID string

// ConversationID scopes session keys. It is chosen by the messaging layer
// and treated as an opaque string here.
type ConversationID string

// Scheme identifies how a key pair was derived.
type Scheme int

const (
	// SchemeLegacy keys are secp256k1 keys derived with a single hash.
	// They are only recognised in order to migrate them.
	SchemeLegacy Scheme = 1
	// SchemeCurrent keys are P-256 keys derived with Argon2id.
	SchemeCurrent Scheme = 2
)

func (s Scheme) Curve() cryptoutils.Curve {
	switch s {
	case SchemeLegacy:
		return cryptoutils.CurveSecp256k1
	case SchemeCurrent:
		return cryptoutils.CurveP256
	default:
		return ""
	}
}

func (s Scheme) String() string {
	switch s {
	case SchemeLegacy:
		return "legacy"
	case SchemeCurrent:
		return "current"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// KeyPair is one generation of a user's key material. Only Public is ever
// serialized; Private stays on the device.
type KeyPair struct {
	Public     cryptoutils.PublicKey   `json:"public_key"`
	Private    *cryptoutils.PrivateKey `json:"-"`
	Generation uint64                  `json:"generation"`
	Scheme     Scheme                  `json:"scheme"`
	CreatedAt  time.Time               `json:"created_at"`
}

// Wipe zeroes the private half. Copies of the pair share the same handle.
func (p *KeyPair) Wipe() {
	if p != nil {
		p.Private.Wipe()
	}
}

// Record is the server-visible form of the pair.
func (p *KeyPair) Record(userID UserID, deviceID DeviceID) KeyRecord {
	return KeyRecord{
		UserID:     userID,
		DeviceID:   deviceID,
		PublicKey:  p.Public,
		Scheme:     p.Scheme,
		Generation: p.Generation,
		CreatedAt:  p.CreatedAt,
	}
}

// KeyRecord is what the public key directory stores for one generation.
type KeyRecord struct {
	UserID     UserID                `json:"user_id"`
	DeviceID   DeviceID              `json:"device_id"`
	PublicKey  cryptoutils.PublicKey `json:"public_key"`
	Scheme     Scheme                `json:"scheme"`
	Generation uint64                `json:"generation"`
	CreatedAt  time.Time             `json:"created_at"`
	RevokedAt  *time.Time            `json:"revoked_at"`
	// Signature over PublishDigest by the key that authorized the publish.
	Signature []byte `json:"signature,omitempty"`
}

func (r KeyRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// Validate checks the fields a directory must refuse to store without.
func (r KeyRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidRecord)
	}
	if r.Scheme.Curve() == "" {
		return fmt.Errorf("%w: unknown scheme %d", ErrInvalidRecord, r.Scheme)
	}
	if r.PublicKey.Curve != r.Scheme.Curve() {
		return fmt.Errorf("%w: %s key for %s scheme", ErrInvalidRecord, r.PublicKey.Curve, r.Scheme)
	}
	if err := r.PublicKey.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// SessionKeyID is the cache identity of a session key. A session key is
// only valid for the exact pair of generations it was derived from.
type SessionKeyID struct {
	ConversationID  ConversationID
	LocalGeneration uint64
	PeerGeneration  uint64
}

// SessionKey is a symmetric key scoped to one conversation and one pair of
// key generations.
type SessionKey struct {
	ConversationID  ConversationID `json:"conversation_id"`
	PeerUserID      UserID         `json:"peer_user_id"`
	LocalGeneration uint64         `json:"local_generation"`
	PeerGeneration  uint64         `json:"peer_generation"`
	DerivedAt       time.Time      `json:"derived_at"`

	key []byte
}

func NewSessionKey(id SessionKeyID, peer UserID, key []byte, derivedAt time.Time) *SessionKey {
	return &SessionKey{
		ConversationID:  id.ConversationID,
		PeerUserID:      peer,
		LocalGeneration: id.LocalGeneration,
		PeerGeneration:  id.PeerGeneration,
		DerivedAt:       derivedAt,
		key:             bytes.Clone(key),
	}
}

func (k *SessionKey) ID() SessionKeyID {
	return SessionKeyID{
		ConversationID:  k.ConversationID,
		LocalGeneration: k.LocalGeneration,
		PeerGeneration:  k.PeerGeneration,
	}
}

// Bytes exposes the symmetric key to the message cryptor. Do not retain it.
func (k *SessionKey) Bytes() []byte {
	return k.key
}

// Wipe zeroes and drops the key material. A wiped key is rejected by the
// message cryptor in both directions.
func (k *SessionKey) Wipe() {
	if k != nil {
		cryptoutils.Wipe(k.key)
		k.key = nil
	}
}

func (k *SessionKey) Wiped() bool {
	return k == nil || k.key == nil
}

// Clone returns an independent copy; wiping one never affects the other.
func (k *SessionKey) Clone() *SessionKey {
	if k == nil {
		return nil
	}
	c := *k
	c.key = bytes.Clone(k.key)
	return &c
}

func (k *SessionKey) String() string {
	return fmt.Sprintf("SessionKey(%s, local=%d, peer=%d)", k.ConversationID, k.LocalGeneration, k.PeerGeneration)
}

// LifecycleState is the per-session key lifecycle state.
type LifecycleState int32

const (
	StateUninitialized LifecycleState = iota
	StateMigrating
	StateActive
	StateRotating
	StateRevoked
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMigrating:
		return "migrating"
	case StateActive:
		return "active"
	case StateRotating:
		return "rotating"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}
