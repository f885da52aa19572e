package interfaces

import "context"

// Directory is the public key directory boundary. Implementations report
// transport or storage failures as ErrDirectoryUnavailable and never retry.
type Directory interface {
	// PublishPublicKey stores a new generation for userID. record.Signature
	// must verify under the user's highest live key, or under the record's
	// own key when no generation is live. ErrUnauthorized otherwise.
	// Publishing the same generation with the same key again is a no-op.
	PublishPublicKey(ctx context.Context, userID UserID, deviceID DeviceID, record KeyRecord) error

	// FetchPublicKey returns the highest non-revoked generation. If every
	// generation is revoked the highest revoked one is returned, so callers
	// can observe the revocation. ErrNotFound if nothing was ever published.
	FetchPublicKey(ctx context.Context, userID UserID) (*KeyRecord, error)

	// FetchPublicKeyGeneration returns one generation, revoked or not.
	FetchPublicKeyGeneration(ctx context.Context, userID UserID, generation uint64) (*KeyRecord, error)

	// RevokePublicKey marks a generation revoked. proof is a signature over
	// RevocationDigest by the highest live key or by the revoked generation's
	// own key. Revoking twice is a no-op.
	RevokePublicKey(ctx context.Context, userID UserID, generation uint64, proof []byte) error
}
