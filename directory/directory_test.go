package directory

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func newPair(t *testing.T, generation uint64) *interfaces.KeyPair {
	t.Helper()
	k, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	priv, err := cryptoutils.NewPrivateKey(cryptoutils.CurveP256, k.Bytes())
	require.NoError(t, err)
	return &interfaces.KeyPair{
		Public:     cryptoutils.PublicKey{Curve: cryptoutils.CurveP256, Bytes: k.PublicKey().Bytes()},
		Private:    priv,
		Generation: generation,
		Scheme:     interfaces.SchemeCurrent,
		CreatedAt:  testNow(),
	}
}

// signedBy is pair's record for user, signed by signer.
func signedBy(t *testing.T, signer, pair *interfaces.KeyPair, user interfaces.UserID) interfaces.KeyRecord {
	t.Helper()
	record := pair.Record(user, "device-1")
	require.NoError(t, signer.SignRecord(&record))
	return record
}

// newRecord is a self-signed record, valid as a user's first live key.
func newRecord(t *testing.T, user interfaces.UserID, generation uint64) interfaces.KeyRecord {
	t.Helper()
	pair := newPair(t, generation)
	return signedBy(t, pair, pair, user)
}

func revocation(t *testing.T, signer *interfaces.KeyPair, user interfaces.UserID, generation uint64) []byte {
	t.Helper()
	proof, err := signer.SignRevocation(user, generation)
	require.NoError(t, err)
	return proof
}

func directories(t *testing.T) map[string]interfaces.Directory {
	return map[string]interfaces.Directory{
		"memory":     NewMemory(testNow, testLogger),
		"persistent": NewPersistent(storage.NewMemoryBackend("directory-test", testLogger), testNow, testLogger),
	}
}

func TestDirectoryContract(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := dir.FetchPublicKey(ctx, "alice")
			require.ErrorIs(t, err, interfaces.ErrNotFound)

			pair0 := newPair(t, 0)
			gen0 := signedBy(t, pair0, pair0, "alice")
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", gen0))
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", gen0), "idempotent")

			conflicting := newRecord(t, "alice", 0)
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "alice", "device-1", conflicting), interfaces.ErrGenerationExists)

			pair1 := newPair(t, 1)
			gen1 := signedBy(t, pair0, pair1, "alice")
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", gen1))

			latest, err := dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), latest.Generation)
			assert.True(t, latest.PublicKey.Equal(gen1.PublicKey))
			assert.Nil(t, latest.RevokedAt)

			old, err := dir.FetchPublicKeyGeneration(ctx, "alice", 0)
			require.NoError(t, err)
			assert.True(t, old.PublicKey.Equal(gen0.PublicKey))

			_, err = dir.FetchPublicKeyGeneration(ctx, "alice", 7)
			assert.ErrorIs(t, err, interfaces.ErrNotFound)

			// Revoking the newest falls back to the older active generation.
			require.NoError(t, dir.RevokePublicKey(ctx, "alice", 1, revocation(t, pair1, "alice", 1)))
			require.NoError(t, dir.RevokePublicKey(ctx, "alice", 1, nil), "idempotent")
			latest, err = dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), latest.Generation)

			// With everything revoked the newest revoked record is visible.
			require.NoError(t, dir.RevokePublicKey(ctx, "alice", 0, revocation(t, pair0, "alice", 0)))
			latest, err = dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), latest.Generation)
			require.NotNil(t, latest.RevokedAt)
			assert.Equal(t, testNow(), *latest.RevokedAt)

			assert.ErrorIs(t, dir.RevokePublicKey(ctx, "alice", 9, revocation(t, pair0, "alice", 9)), interfaces.ErrNotFound)
			assert.ErrorIs(t, dir.RevokePublicKey(ctx, "nobody", 0, nil), interfaces.ErrNotFound)

			// A fresh generation after revocation is active again and,
			// with nothing live, vouches for itself.
			gen2 := newRecord(t, "alice", 2)
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", gen2))
			latest, err = dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(2), latest.Generation)
			assert.False(t, latest.Revoked())
		})
	}
}

func TestDirectoryRejectsInvalidRecords(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			record := newRecord(t, "alice", 0)
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "mallory", "device-1", record), interfaces.ErrInvalidRecord)

			record.Scheme = interfaces.SchemeLegacy
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "alice", "device-1", record), interfaces.ErrInvalidRecord)

			record = newRecord(t, "alice", 0)
			record.PublicKey.Bytes = record.PublicKey.Bytes[:10]
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "alice", "device-1", record), interfaces.ErrInvalidRecord)

			// Missing identifiers are filled from the call. The signature
			// covers the user id it is filled with.
			record = newRecord(t, "alice", 0)
			record.UserID = ""
			record.DeviceID = ""
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-9", record))
			got, err := dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, interfaces.UserID("alice"), got.UserID)
			assert.Equal(t, interfaces.DeviceID("device-9"), got.DeviceID)
		})
	}
}

func TestDirectoryRejectsUnauthorizedChanges(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			unsigned := newPair(t, 0).Record("bob", "device-1")
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "bob", "device-1", unsigned), interfaces.ErrUnauthorized)

			owner := newPair(t, 0)
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", signedBy(t, owner, owner, "alice")))

			// Once a key is live, only it can vouch for the next one.
			mallory := newPair(t, 1)
			stranger := newPair(t, 5)
			for name, record := range map[string]interfaces.KeyRecord{
				"self signed": signedBy(t, mallory, mallory, "alice"),
				"stranger":    signedBy(t, stranger, mallory, "alice"),
				"unsigned":    mallory.Record("alice", "device-1"),
				"other user":  signedBy(t, owner, mallory, "bob"),
			} {
				record.UserID = "alice"
				assert.ErrorIs(t, dir.PublishPublicKey(ctx, "alice", "device-1", record), interfaces.ErrUnauthorized, name)
			}

			tampered := signedBy(t, owner, newPair(t, 1), "alice")
			tampered.PublicKey = mallory.Public
			assert.ErrorIs(t, dir.PublishPublicKey(ctx, "alice", "device-1", tampered), interfaces.ErrUnauthorized)

			for name, proof := range map[string][]byte{
				"missing":          nil,
				"stranger":         revocation(t, stranger, "alice", 0),
				"other generation": revocation(t, owner, "alice", 3),
				"other user":       revocation(t, owner, "bob", 0),
			} {
				assert.ErrorIs(t, dir.RevokePublicKey(ctx, "alice", 0, proof), interfaces.ErrUnauthorized, name)
			}

			latest, err := dir.FetchPublicKey(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), latest.Generation)
			assert.True(t, latest.PublicKey.Equal(owner.Public))
			assert.False(t, latest.Revoked())
		})
	}
}

func TestDirectoryAcceptsRevocationByLiveKey(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			pair0, pair1 := newPair(t, 0), newPair(t, 1)
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", signedBy(t, pair0, pair0, "alice")))
			require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", signedBy(t, pair0, pair1, "alice")))

			// The superseded key can no longer revoke the live one.
			assert.ErrorIs(t, dir.RevokePublicKey(ctx, "alice", 1, revocation(t, pair0, "alice", 1)), interfaces.ErrUnauthorized)

			require.NoError(t, dir.RevokePublicKey(ctx, "alice", 0, revocation(t, pair1, "alice", 0)))
			require.NoError(t, dir.RevokePublicKey(ctx, "alice", 1, revocation(t, pair1, "alice", 1)))

			for generation := range uint64(2) {
				record, err := dir.FetchPublicKeyGeneration(ctx, "alice", generation)
				require.NoError(t, err)
				assert.True(t, record.Revoked(), "generation %d", generation)
			}
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory(testNow, testLogger)
	require.NoError(t, dir.PublishPublicKey(ctx, "alice", "device-1", newRecord(t, "alice", 0)))

	got, err := dir.FetchPublicKey(ctx, "alice")
	require.NoError(t, err)
	got.PublicKey.Bytes[0] ^= 0xff

	again, err := dir.FetchPublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, got.PublicKey.Bytes[0], again.PublicKey.Bytes[0])
}

type failingBlobStore struct {
	storage.MemoryBackend
}

func (failingBlobStore) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestPersistentUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := NewPersistent(&failingBlobStore{}, testNow, testLogger)

	_, err := dir.FetchPublicKey(ctx, "alice")
	assert.ErrorIs(t, err, interfaces.ErrDirectoryUnavailable)
	assert.Equal(t, interfaces.TryAgainLater, interfaces.Classify(err))

	err = dir.PublishPublicKey(ctx, "alice", "device-1", newRecord(t, "alice", 0))
	assert.ErrorIs(t, err, interfaces.ErrDirectoryUnavailable)
}

func TestPersistentSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryBackend("restart", testLogger)

	record := newRecord(t, "bob@example.com", 0)
	require.NoError(t, NewPersistent(blobs, testNow, testLogger).PublishPublicKey(ctx, "bob@example.com", "device-1", record))

	got, err := NewPersistent(blobs, testNow, testLogger).FetchPublicKey(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, got.PublicKey.Equal(record.PublicKey))
	assert.Equal(t, record.CreatedAt, got.CreatedAt)
	assert.Equal(t, record.Signature, got.Signature)
}
