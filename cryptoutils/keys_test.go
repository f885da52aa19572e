package cryptoutils

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T, curve Curve) *PrivateKey {
	t.Helper()
	var d []byte
	switch curve {
	case CurveP256:
		k, err := ecdh.P256().GenerateKey(rand.Reader)
		require.NoError(t, err)
		d = k.Bytes()
	case CurveSecp256k1:
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		d = crypto.FromECDSA(k)
	}
	priv, err := NewPrivateKey(curve, d)
	require.NoError(t, err)
	return priv
}

func TestECDHSymmetry(t *testing.T) {
	for _, curve := range []Curve{CurveP256, CurveSecp256k1} {
		t.Run(string(curve), func(t *testing.T) {
			a := randomKey(t, curve)
			b := randomKey(t, curve)

			aPub, err := a.Public()
			require.NoError(t, err)
			bPub, err := b.Public()
			require.NoError(t, err)
			require.NoError(t, aPub.Validate())
			require.NoError(t, bPub.Validate())

			ab, err := a.ECDH(bPub)
			require.NoError(t, err)
			ba, err := b.ECDH(aPub)
			require.NoError(t, err)

			assert.Len(t, ab, ScalarSize)
			assert.Equal(t, ab, ba, "both sides must agree on the shared secret")
		})
	}
}

func TestECDHCurveMismatch(t *testing.T) {
	a := randomKey(t, CurveP256)
	b := randomKey(t, CurveSecp256k1)
	bPub, err := b.Public()
	require.NoError(t, err)

	_, err = a.ECDH(bPub)
	require.ErrorIs(t, err, ErrCurveMismatch)
}

func TestNewPrivateKeyRejectsInvalidScalars(t *testing.T) {
	_, err := NewPrivateKey(CurveP256, make([]byte, ScalarSize))
	assert.ErrorIs(t, err, ErrInvalidKey, "zero scalar")

	_, err = NewPrivateKey(CurveP256, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey, "short scalar")

	d := make([]byte, ScalarSize)
	d[31] = 1
	_, err = NewPrivateKey(Curve("ed25519"), d)
	assert.ErrorIs(t, err, ErrUnsupportedCurve)
}

func TestPrivateKeyNeverSerializes(t *testing.T) {
	k := randomKey(t, CurveP256)

	_, err := json.Marshal(k)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrivateKeyExport)

	wrapper := struct {
		Key *PrivateKey `json:"key"`
	}{Key: k}
	_, err = json.Marshal(wrapper)
	require.Error(t, err)

	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", k, k, k), fmt.Sprintf("%x", k.d))
}

func TestSignAndVerify(t *testing.T) {
	digest := sha256.Sum256([]byte("publish generation 1"))
	other := sha256.Sum256([]byte("publish generation 2"))

	for _, curve := range []Curve{CurveP256, CurveSecp256k1} {
		t.Run(string(curve), func(t *testing.T) {
			k := randomKey(t, curve)
			pub, err := k.Public()
			require.NoError(t, err)

			sig, err := k.Sign(digest[:])
			require.NoError(t, err)
			assert.True(t, pub.VerifySignature(digest[:], sig))
			assert.False(t, pub.VerifySignature(other[:], sig), "signature is bound to its digest")

			stranger, err := randomKey(t, curve).Public()
			require.NoError(t, err)
			assert.False(t, stranger.VerifySignature(digest[:], sig), "signature is bound to its key")

			assert.False(t, pub.VerifySignature(digest[:], nil))
			assert.False(t, pub.VerifySignature(digest[:], sig[:len(sig)-1]))

			_, err = k.Sign([]byte("short"))
			assert.ErrorIs(t, err, ErrInvalidKey)

			k.Wipe()
			_, err = k.Sign(digest[:])
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestPrivateKeyWipe(t *testing.T) {
	k := randomKey(t, CurveP256)
	require.False(t, k.Wiped())

	k.Wipe()
	assert.True(t, k.Wiped())
	_, err := k.Public()
	assert.Error(t, err, "a wiped key must not produce a public key")
}

func TestPublicKeyPEMAndFingerprint(t *testing.T) {
	k := randomKey(t, CurveP256)
	pub, err := k.Public()
	require.NoError(t, err)

	pemBytes, err := pub.PEM()
	require.NoError(t, err)
	block, _ := pem.Decode(pemBytes)
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)

	fp := pub.Fingerprint()
	assert.Equal(t, fp, pub.Fingerprint())
	assert.Contains(t, fp, "zk1")

	other, err := randomKey(t, CurveP256).Public()
	require.NoError(t, err)
	assert.NotEqual(t, fp, other.Fingerprint())

	legacy, err := randomKey(t, CurveSecp256k1).Public()
	require.NoError(t, err)
	_, err = legacy.PEM()
	assert.ErrorIs(t, err, ErrUnsupportedCurve)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
	Wipe(nil)
}
