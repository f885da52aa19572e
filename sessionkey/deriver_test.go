package sessionkey

import (
	"crypto/ecdh"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func newPair(t *testing.T, curve cryptoutils.Curve, generation uint64) *interfaces.KeyPair {
	t.Helper()

	var d []byte
	scheme := interfaces.SchemeCurrent
	switch curve {
	case cryptoutils.CurveP256:
		k, err := ecdh.P256().GenerateKey(rand.Reader)
		require.NoError(t, err)
		d = k.Bytes()
	case cryptoutils.CurveSecp256k1:
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		d = crypto.FromECDSA(k)
		scheme = interfaces.SchemeLegacy
	}

	priv, err := cryptoutils.NewPrivateKey(curve, d)
	require.NoError(t, err)
	pub, err := priv.Public()
	require.NoError(t, err)
	return &interfaces.KeyPair{Public: pub, Private: priv, Generation: generation, Scheme: scheme}
}

func TestDeriveSymmetric(t *testing.T) {
	deriver := NewDeriver(fixedNow)

	for _, curve := range []cryptoutils.Curve{cryptoutils.CurveP256, cryptoutils.CurveSecp256k1} {
		t.Run(string(curve), func(t *testing.T) {
			alice := newPair(t, curve, 0)
			bob := newPair(t, curve, 3)

			fromAlice, err := deriver.Derive(alice, "bob", bob.Record("bob", "dev-b"), "conv-1")
			require.NoError(t, err)
			fromBob, err := deriver.Derive(bob, "alice", alice.Record("alice", "dev-a"), "conv-1")
			require.NoError(t, err)

			assert.Equal(t, fromAlice.Bytes(), fromBob.Bytes())
			assert.Len(t, fromAlice.Bytes(), KeySize)
			assert.Equal(t, uint64(0), fromAlice.LocalGeneration)
			assert.Equal(t, uint64(3), fromAlice.PeerGeneration)
			assert.Equal(t, uint64(3), fromBob.LocalGeneration)
			assert.Equal(t, interfaces.UserID("bob"), fromAlice.PeerUserID)
			assert.Equal(t, fixedNow(), fromAlice.DerivedAt)
		})
	}
}

func TestDeriveScoping(t *testing.T) {
	deriver := NewDeriver(nil)
	alice := newPair(t, cryptoutils.CurveP256, 0)
	bob := newPair(t, cryptoutils.CurveP256, 0)

	base, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-1")
	require.NoError(t, err)

	again, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, base.Bytes(), again.Bytes(), "deterministic")

	otherConv, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-2")
	require.NoError(t, err)
	assert.NotEqual(t, base.Bytes(), otherConv.Bytes())

	// Same key material, different advertised generation.
	bumped := *bob
	bumped.Generation = 1
	otherGen, err := deriver.Derive(alice, "bob", bumped.Record("bob", "d"), "conv-1")
	require.NoError(t, err)
	assert.NotEqual(t, base.Bytes(), otherGen.Bytes())
}

func TestDeriveIncompatibleCurve(t *testing.T) {
	deriver := NewDeriver(nil)
	alice := newPair(t, cryptoutils.CurveP256, 0)
	legacy := newPair(t, cryptoutils.CurveSecp256k1, 0)

	_, err := deriver.Derive(alice, "bob", legacy.Record("bob", "d"), "conv")
	assert.ErrorIs(t, err, interfaces.ErrIncompatibleCurve)

	_, err = deriver.Derive(nil, "bob", legacy.Record("bob", "d"), "conv")
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)
}

func TestDeriveConcurrent(t *testing.T) {
	deriver := NewDeriver(nil)
	alice := newPair(t, cryptoutils.CurveP256, 0)
	bob := newPair(t, cryptoutils.CurveP256, 0)

	want, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv")
			assert.NoError(t, err)
			assert.Equal(t, want.Bytes(), got.Bytes())
		}()
	}
	wg.Wait()
}

func TestCache(t *testing.T) {
	deriver := NewDeriver(nil)
	alice := newPair(t, cryptoutils.CurveP256, 0)
	bob := newPair(t, cryptoutils.CurveP256, 0)

	k1, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-1")
	require.NoError(t, err)
	k2, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-2")
	require.NoError(t, err)

	cache := NewCache()
	cache.Put(k1)
	cache.Put(k2)
	assert.Equal(t, 2, cache.Len())

	got, ok := cache.Get("bob", k1.ID())
	require.True(t, ok)
	assert.NotSame(t, k1, got)
	assert.Equal(t, k1.Bytes(), got.Bytes())

	_, ok = cache.Get("carol", k1.ID())
	assert.False(t, ok, "keys are per peer")

	_, ok = cache.Get("bob", interfaces.SessionKeyID{ConversationID: "conv-1", LocalGeneration: 0, PeerGeneration: 1})
	assert.False(t, ok, "a peer rotation misses the cache")

	assert.Equal(t, 1, cache.InvalidateConversation("conv-1"))
	_, ok = cache.Get("bob", k1.ID())
	assert.False(t, ok)
	assert.False(t, k1.Wiped(), "eviction leaves the caller's copy alone")
	assert.False(t, got.Wiped())

	assert.Equal(t, 1, cache.InvalidateLocalGeneration(0))
	assert.Equal(t, 0, cache.Len())

	k3, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv-3")
	require.NoError(t, err)
	cache.Put(k3)
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	assert.Len(t, k3.Bytes(), KeySize)
}

func TestCacheIgnoresWipedKeys(t *testing.T) {
	deriver := NewDeriver(nil)
	alice := newPair(t, cryptoutils.CurveP256, 0)
	bob := newPair(t, cryptoutils.CurveP256, 0)

	key, err := deriver.Derive(alice, "bob", bob.Record("bob", "d"), "conv")
	require.NoError(t, err)

	cache := NewCache()
	cache.Put(key)
	key.Wipe()
	assert.True(t, key.Wiped())
	assert.Nil(t, key.Bytes())

	got, ok := cache.Get("bob", key.ID())
	require.True(t, ok, "wiping the caller's copy leaves the cached one")
	assert.False(t, got.Wiped())

	got.Wipe()
	cache.Put(got)
	again, ok := cache.Get("bob", key.ID())
	require.True(t, ok, "a wiped key does not replace a live entry")
	assert.Len(t, again.Bytes(), KeySize)
}
