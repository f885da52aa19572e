package interfaces

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T, generation uint64) *KeyPair {
	t.Helper()
	k, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	priv, err := cryptoutils.NewPrivateKey(cryptoutils.CurveP256, k.Bytes())
	require.NoError(t, err)
	pub, err := priv.Public()
	require.NoError(t, err)
	return &KeyPair{
		Public:     pub,
		Private:    priv,
		Generation: generation,
		Scheme:     SchemeCurrent,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestPublishDigestCoversKeyIdentity(t *testing.T) {
	pair := testPair(t, 3)
	base := pair.Record("alice", "device-1")
	digest := base.PublishDigest()

	unsigned := base
	unsigned.DeviceID = "device-2"
	revokedAt := time.Now()
	unsigned.RevokedAt = &revokedAt
	unsigned.Signature = []byte{1, 2, 3}
	assert.Equal(t, digest, unsigned.PublishDigest(), "device, revocation and signature are not signed")

	changes := map[string]func(r *KeyRecord){
		"user":       func(r *KeyRecord) { r.UserID = "bob" },
		"generation": func(r *KeyRecord) { r.Generation++ },
		"scheme":     func(r *KeyRecord) { r.Scheme = SchemeLegacy },
		"key":        func(r *KeyRecord) { r.PublicKey = testPair(t, 3).Public },
		"created":    func(r *KeyRecord) { r.CreatedAt = r.CreatedAt.Add(time.Nanosecond) },
	}
	for name, change := range changes {
		r := base
		change(&r)
		assert.NotEqual(t, digest, r.PublishDigest(), name)
	}

	// Time zone does not matter, only the instant.
	local := base
	local.CreatedAt = base.CreatedAt.In(time.FixedZone("X", 3600))
	assert.Equal(t, digest, local.PublishDigest())
}

func TestSignedRecordAndRevocation(t *testing.T) {
	pair := testPair(t, 0)
	record, err := pair.SignedRecord("alice", "device-1")
	require.NoError(t, err)
	assert.True(t, pair.Public.VerifySignature(record.PublishDigest(), record.Signature))

	proof, err := pair.SignRevocation("alice", 0)
	require.NoError(t, err)
	assert.True(t, pair.Public.VerifySignature(RevocationDigest("alice", 0), proof))
	assert.False(t, pair.Public.VerifySignature(RevocationDigest("alice", 1), proof))
	assert.NotEqual(t, RevocationDigest("alice", 0), record.PublishDigest())

	pair.Wipe()
	_, err = pair.SignedRecord("alice", "device-1")
	assert.ErrorIs(t, err, cryptoutils.ErrInvalidKey)
}
