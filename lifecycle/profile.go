package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/keyderive"
)

// Version 2 added per-generation KDF parameters. Version 1 profiles load
// with none recorded.
const profileVersion = 2

// profile is the non-secret per-user state a device needs to re-derive
// keys from a password. The salt is not secret but it is not recoverable
// from the directory either; the recovery phrase is its only backup.
type profile struct {
	Version int               `json:"version"`
	UserID  interfaces.UserID `json:"user_id"`
	Salt    []byte            `json:"salt"`
	Scheme  interfaces.Scheme `json:"scheme"`
	// KDF holds the Argon2id parameters each current-scheme generation was
	// derived with, so the configured cost can change without locking
	// anyone out. New parameters take effect at the next generation.
	KDF map[uint64]cryptoutils.Argon2Params `json:"kdf,omitempty"`
}

func (m *Manager) profileKey() interfaces.BlobKey {
	return interfaces.BlobKeyFor("profiles", string(m.userID))
}

func (m *Manager) loadProfile(ctx context.Context) (*profile, error) {
	data, err := m.profiles.Get(ctx, m.profileKey())
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if p.Version < 1 || p.Version > profileVersion {
		return nil, fmt.Errorf("unsupported profile version %d", p.Version)
	}
	for generation, params := range p.KDF {
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("profile kdf for generation %d: %w", generation, err)
		}
	}
	if len(p.Salt) < keyderive.MinSaltSize {
		return nil, fmt.Errorf("%w: profile salt too short", interfaces.ErrWeakInput)
	}
	return &p, nil
}

func (m *Manager) saveProfile(ctx context.Context, salt []byte, scheme interfaces.Scheme, kdf map[uint64]cryptoutils.Argon2Params) error {
	data, err := json.Marshal(profile{
		Version: profileVersion,
		UserID:  m.userID,
		Salt:    salt,
		Scheme:  scheme,
		KDF:     kdf,
	})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := m.profiles.Put(ctx, m.profileKey(), data); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// userSalt returns the in-memory salt, loading it from the profile when
// this session has not seen it yet. Callers hold m.mu.
func (m *Manager) userSalt(ctx context.Context) ([]byte, error) {
	if m.salt != nil {
		return m.salt, nil
	}
	p, err := m.loadProfile(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no salt on this device, restore it from the recovery phrase", interfaces.ErrNotInitialized)
	}
	m.salt = p.Salt
	m.kdf = p.KDF
	return m.salt, nil
}

// withKDF returns the recorded parameters plus generation derived under
// the configured ones. m.kdf itself is only replaced once the profile
// holding the result is stored.
func (m *Manager) withKDF(generation uint64) map[uint64]cryptoutils.Argon2Params {
	kdf := maps.Clone(m.kdf)
	if kdf == nil {
		kdf = make(map[uint64]cryptoutils.Argon2Params)
	}
	kdf[generation] = m.deriver.Params()
	return kdf
}

// deriverFor returns a deriver with the parameters generation was derived
// with. Generations without a record use the configured parameters.
func (m *Manager) deriverFor(generation uint64) (*keyderive.Deriver, error) {
	params, ok := m.kdf[generation]
	if !ok || params == m.deriver.Params() {
		return m.deriver, nil
	}
	return m.deriver.WithParams(params)
}

// RecoveryPhrase encodes the user's salt as a BIP-39 mnemonic. Together
// with the password it is enough to re-derive every key generation on a
// new device.
func (m *Manager) RecoveryPhrase(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	salt, err := m.userSalt(ctx)
	if err != nil {
		return "", err
	}
	return keyderive.SaltMnemonic(salt)
}

// RestoreRecoveryPhrase installs the salt encoded in phrase on this device.
// It is only allowed before keys are loaded.
func (m *Manager) RestoreRecoveryPhrase(ctx context.Context, phrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != interfaces.StateUninitialized {
		return fmt.Errorf("%w: restore while %s", interfaces.ErrInvalidTransition, m.State())
	}

	salt, err := keyderive.SaltFromMnemonic(phrase)
	if err != nil {
		return err
	}
	scheme := interfaces.SchemeCurrent
	if record, err := m.directory.FetchPublicKey(ctx, m.userID); err == nil {
		scheme = record.Scheme
	}
	if err := m.saveProfile(ctx, salt, scheme, nil); err != nil {
		return err
	}
	m.salt = salt
	m.kdf = nil
	m.log.Info("Restored salt from recovery phrase")
	return nil
}
