package cryptoutils

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// Curve names the elliptic curve a key pair lives on.
type Curve string

const (
	// CurveP256 is used by the current key scheme.
	CurveP256 Curve = "P-256"
	// CurveSecp256k1 is only used to recognise and migrate legacy keys.
	CurveSecp256k1 Curve = "secp256k1"
)

// ScalarSize is the private scalar length for both supported curves.
const ScalarSize = 32

var (
	ErrUnsupportedCurve = errors.New("unsupported curve")
	ErrCurveMismatch    = errors.New("curve mismatch")
	ErrInvalidKey       = errors.New("invalid key")
	ErrPrivateKeyExport = errors.New("private keys cannot be exported")
)

func (c Curve) Valid() bool {
	return c == CurveP256 || c == CurveSecp256k1
}

// PublicKey is the exportable half of a key pair: an uncompressed curve point.
type PublicKey struct {
	Curve Curve  `json:"curve"`
	Bytes []byte `json:"bytes"`
}

// Validate checks that the point decodes on its curve.
func (p PublicKey) Validate() error {
	switch p.Curve {
	case CurveP256:
		if _, err := ecdh.P256().NewPublicKey(p.Bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	case CurveSecp256k1:
		if _, err := crypto.UnmarshalPubkey(p.Bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCurve, p.Curve)
	}
	return nil
}

func (p PublicKey) Equal(other PublicKey) bool {
	return p.Curve == other.Curve && bytes.Equal(p.Bytes, other.Bytes)
}

func (p PublicKey) IsZero() bool {
	return p.Curve == "" && len(p.Bytes) == 0
}

// Fingerprint is a short, log-safe identifier of the key.
func (p PublicKey) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(p.Curve))
	h.Write(p.Bytes)
	sum := h.Sum(nil)
	return "zk1" + base58.Encode(sum[:20])
}

// VerifySignature checks sig over a 32-byte digest as produced by
// PrivateKey.Sign on the same curve.
func (p PublicKey) VerifySignature(digest, sig []byte) bool {
	if len(digest) != sha256.Size {
		return false
	}
	switch p.Curve {
	case CurveP256:
		x, y := elliptic.Unmarshal(elliptic.P256(), p.Bytes)
		if x == nil {
			return false
		}
		return ecdsa.VerifyASN1(&ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, digest, sig)
	case CurveSecp256k1:
		// [R || S || V]; the recovery byte is not needed to verify.
		if len(sig) != crypto.SignatureLength {
			return false
		}
		return crypto.VerifySignature(p.Bytes, digest, sig[:crypto.SignatureLength-1])
	default:
		return false
	}
}

// PEM encodes P-256 keys as a PKIX "PUBLIC KEY" block.
func (p PublicKey) PEM() ([]byte, error) {
	if p.Curve != CurveP256 {
		return nil, fmt.Errorf("%w: PEM export only supports %s", ErrUnsupportedCurve, CurveP256)
	}
	pub, err := ecdh.P256().NewPublicKey(p.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PrivateKey is a non-exportable private scalar. It refuses every
// serialization path and can be wiped in place.
type PrivateKey struct {
	curve Curve
	d     []byte
}

// NewPrivateKey copies d and validates it as a scalar on curve.
func NewPrivateKey(curve Curve, d []byte) (*PrivateKey, error) {
	if len(d) != ScalarSize {
		return nil, fmt.Errorf("%w: scalar must be %d bytes", ErrInvalidKey, ScalarSize)
	}
	switch curve {
	case CurveP256:
		if _, err := ecdh.P256().NewPrivateKey(d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	case CurveSecp256k1:
		if _, err := crypto.ToECDSA(d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurve, curve)
	}
	return &PrivateKey{curve: curve, d: bytes.Clone(d)}, nil
}

func (k *PrivateKey) Curve() Curve {
	return k.curve
}

// Public computes the matching public key.
func (k *PrivateKey) Public() (PublicKey, error) {
	switch k.curve {
	case CurveP256:
		priv, err := ecdh.P256().NewPrivateKey(k.d)
		if err != nil {
			return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return PublicKey{Curve: CurveP256, Bytes: priv.PublicKey().Bytes()}, nil
	case CurveSecp256k1:
		priv, err := crypto.ToECDSA(k.d)
		if err != nil {
			return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return PublicKey{Curve: CurveSecp256k1, Bytes: crypto.FromECDSAPub(&priv.PublicKey)}, nil
	default:
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnsupportedCurve, k.curve)
	}
}

// ECDH returns the x coordinate of d*peer. The caller owns the returned
// slice and should Wipe it once the session key has been expanded.
func (k *PrivateKey) ECDH(peer PublicKey) ([]byte, error) {
	if peer.Curve != k.curve {
		return nil, fmt.Errorf("%w: local %s, peer %s", ErrCurveMismatch, k.curve, peer.Curve)
	}

	switch k.curve {
	case CurveP256:
		priv, err := ecdh.P256().NewPrivateKey(k.d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		pub, err := ecdh.P256().NewPublicKey(peer.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return priv.ECDH(pub)
	case CurveSecp256k1:
		pub, err := crypto.UnmarshalPubkey(peer.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		x, _ := crypto.S256().ScalarMult(pub.X, pub.Y, k.d)
		if x.Sign() == 0 {
			return nil, fmt.Errorf("%w: degenerate shared point", ErrInvalidKey)
		}
		return x.FillBytes(make([]byte, ScalarSize)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurve, k.curve)
	}
}

// Sign signs a 32-byte digest: ASN.1 ECDSA on P-256, the 65-byte recoverable
// form on secp256k1.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: digest must be %d bytes", ErrInvalidKey, sha256.Size)
	}
	if k.Wiped() {
		return nil, fmt.Errorf("%w: key is wiped", ErrInvalidKey)
	}

	switch k.curve {
	case CurveP256:
		priv, err := ecdh.P256().NewPrivateKey(k.d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		x, y := elliptic.Unmarshal(elliptic.P256(), priv.PublicKey().Bytes())
		signer := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y},
			D:         new(big.Int).SetBytes(k.d),
		}
		return ecdsa.SignASN1(rand.Reader, signer, digest)
	case CurveSecp256k1:
		priv, err := crypto.ToECDSA(k.d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return crypto.Sign(digest, priv)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurve, k.curve)
	}
}

// Wipe zeroes the scalar. The key is unusable afterwards.
func (k *PrivateKey) Wipe() {
	if k == nil {
		return
	}
	Wipe(k.d)
}

// Wiped reports whether Wipe has been called.
func (k *PrivateKey) Wiped() bool {
	for _, b := range k.d {
		if b != 0 {
			return false
		}
	}
	return true
}

func (k *PrivateKey) String() string {
	return fmt.Sprintf("PrivateKey(%s, redacted)", k.curve)
}

func (k *PrivateKey) GoString() string {
	return k.String()
}

func (k *PrivateKey) MarshalJSON() ([]byte, error) {
	return nil, ErrPrivateKeyExport
}

func (k *PrivateKey) MarshalText() ([]byte, error) {
	return nil, ErrPrivateKeyExport
}

func (k *PrivateKey) MarshalBinary() ([]byte, error) {
	return nil, ErrPrivateKeyExport
}
