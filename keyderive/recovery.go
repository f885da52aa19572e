package keyderive

import (
	"fmt"
	"strings"

	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/tyler-smith/go-bip39"
)

// SaltMnemonic renders a per-user salt as a BIP-39 phrase. The salt is not
// secret, but a user who loses the local profile needs it, together with
// the password, to re-derive their keys.
func SaltMnemonic(salt []byte) (string, error) {
	mnemonic, err := bip39.NewMnemonic(salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrWeakInput, err)
	}
	return mnemonic, nil
}

// SaltFromMnemonic parses a phrase produced by SaltMnemonic.
func SaltFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid recovery phrase", interfaces.ErrWeakInput)
	}
	salt, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWeakInput, err)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: recovery phrase too short", interfaces.ErrWeakInput)
	}
	return salt, nil
}
