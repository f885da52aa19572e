package keyfixture

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/directory"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/keyderive"
	"github.com/ruteri/zk-keyservice/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testNow    = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
)

const testPassword = "Correct-Horse-1"

func TestKeyForDeterministic(t *testing.T) {
	a, err := KeyFor("alice", testPassword, 0)
	require.NoError(t, err)
	b, err := KeyFor("alice", testPassword, 0)
	require.NoError(t, err)
	assert.True(t, a.Public.Equal(b.Public))

	c, err := KeyFor("alice", testPassword, 1)
	require.NoError(t, err)
	assert.False(t, a.Public.Equal(c.Public))

	d, err := KeyFor("bob", testPassword, 0)
	require.NoError(t, err)
	assert.False(t, a.Public.Equal(d.Public))
}

func TestFixtureLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory(testNow, testLogger)
	var svc interfaces.KeyService = New("alice", dir, testNow)

	assert.False(t, svc.HasKeys())
	assert.ErrorIs(t, svc.RotateKeys(ctx, testPassword), interfaces.ErrNotInitialized)

	require.NoError(t, svc.InitializeKeys(ctx, testPassword))
	assert.True(t, svc.HasValidKeys())
	assert.Equal(t, uint64(0), svc.GetCurrentKeys().Generation)
	assert.ErrorIs(t, svc.InitializeKeys(ctx, testPassword), interfaces.ErrAlreadyInitialized)

	assert.ErrorIs(t, svc.RotateKeys(ctx, "other"), interfaces.ErrKeyMismatch)
	require.NoError(t, svc.RotateKeys(ctx, testPassword))
	require.NoError(t, svc.RotateKeys(ctx, testPassword))
	assert.Equal(t, uint64(2), svc.GetCurrentKeys().Generation)
	assert.ErrorIs(t, svc.MigrateKeys(ctx, testPassword), interfaces.ErrNoMigrationNeeded)

	svc.ClearKeys()
	assert.Nil(t, svc.GetCurrentKeys())
	assert.ErrorIs(t, svc.DeriveKeys(ctx, "other"), interfaces.ErrKeyMismatch)
	require.NoError(t, svc.DeriveKeys(ctx, testPassword))

	want, err := KeyFor("alice", testPassword, 2)
	require.NoError(t, err)
	assert.True(t, svc.GetCurrentKeys().Public.Equal(want.Public))

	require.NoError(t, svc.RevokeKeys(ctx))
	assert.Nil(t, svc.GetCurrentKeys())
	assert.Equal(t, interfaces.StateRevoked, svc.State())
	record, err := svc.GetUserPublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, record.RevokedAt)

	require.NoError(t, svc.InitializeKeys(ctx, testPassword))
	assert.Equal(t, uint64(3), svc.GetCurrentKeys().Generation)
}

// The fixture and the real manager speak the same protocol, so a test can
// stand one side up cheaply and still talk to the other.
func TestFixtureInteroperatesWithManager(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory(testNow, testLogger)

	deriver, err := keyderive.NewDeriver(cryptoutils.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1}, keyderive.DefaultPolicy)
	require.NoError(t, err)
	manager, err := lifecycle.New(lifecycle.Config{UserID: "bob", Directory: dir, Deriver: deriver, Clock: testNow, Log: testLogger})
	require.NoError(t, err)
	fixture := New("alice", dir, testNow)

	require.NoError(t, manager.InitializeKeys(ctx, testPassword))
	require.NoError(t, fixture.InitializeKeys(ctx, testPassword))

	fromFixture, err := fixture.SessionKey(ctx, "bob", "conv")
	require.NoError(t, err)
	fromManager, err := manager.SessionKey(ctx, "alice", "conv")
	require.NoError(t, err)
	assert.Equal(t, fromFixture.Bytes(), fromManager.Bytes())

	require.NoError(t, fixture.RotateKeys(ctx, testPassword))
	_, err = fixture.SessionKeyFor(ctx, "bob", "conv", 7, 0)
	assert.ErrorIs(t, err, interfaces.ErrGenerationNotFound)

	old, err := fixture.SessionKeyFor(ctx, "bob", "conv", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, fromManager.Bytes(), old.Bytes(), "pre-rotation keys stay derivable")
}
