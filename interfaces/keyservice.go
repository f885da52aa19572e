package interfaces

import "context"

// KeyService is the session-scoped handle the UI and auth glue talk to.
// lifecycle.Manager is the real implementation; keyfixture.Service is a
// deterministic stand-in for tests and demos.
type KeyService interface {
	UserID() UserID
	State() LifecycleState

	InitializeKeys(ctx context.Context, password string) error
	// DeriveKeys recovers the published key material from the password.
	DeriveKeys(ctx context.Context, password string) error
	RotateKeys(ctx context.Context, password string) error
	MigrateKeys(ctx context.Context, password string) error
	RevokeKeys(ctx context.Context) error
	// ClearKeys tears the session down. Nothing is revoked.
	ClearKeys()

	HasKeys() bool
	HasValidKeys() bool
	NeedsMigration() bool
	// GetCurrentKeys is nil while uninitialized or revoked. The returned
	// pair shares its Private handle with the service: the service wipes it
	// on ClearKeys, RevokeKeys and pruning, and a caller that calls Wipe
	// destroys the live key. Callers must never Wipe it.
	GetCurrentKeys() *KeyPair
	GetUserPublicKey(ctx context.Context, userID UserID) (*KeyRecord, error)

	// SessionKey returns the key for sending to peer: our current
	// generation against the peer's currently published one.
	SessionKey(ctx context.Context, peer UserID, conversation ConversationID) (*SessionKey, error)

	// SessionKeyFor returns the key for a message that names both
	// generations explicitly, typically one being received.
	SessionKeyFor(ctx context.Context, peer UserID, conversation ConversationID, localGeneration, peerGeneration uint64) (*SessionKey, error)
}
