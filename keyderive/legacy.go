package keyderive

import (
	"crypto/sha256"
	"fmt"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
)

// LegacyDeriver reproduces the pre-migration scheme: a single SHA-256 of
// password||salt used directly as a secp256k1 scalar. It exists only so old
// keys can be recognised and migrated; new keys never use it.
type LegacyDeriver struct{}

func (LegacyDeriver) Derive(password string, salt []byte) (*interfaces.KeyPair, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", interfaces.ErrWeakInput)
	}

	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt)
	seed := h.Sum(nil)
	defer cryptoutils.Wipe(seed)

	priv, err := cryptoutils.NewPrivateKey(cryptoutils.CurveSecp256k1, seed)
	if err != nil {
		return nil, fmt.Errorf("legacy seed is not a valid scalar: %w", err)
	}
	pub, err := priv.Public()
	if err != nil {
		priv.Wipe()
		return nil, err
	}

	return &interfaces.KeyPair{
		Public:  pub,
		Private: priv,
		Scheme:  interfaces.SchemeLegacy,
	}, nil
}
