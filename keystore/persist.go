package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
)

const keyringVersion = 1

type sealingParams struct {
	argon2 cryptoutils.Argon2Params
}

// sealedKeyring is the at-rest blob. Public metadata is in the clear; each
// private scalar is sealed with the generation bound as associated data.
type sealedKeyring struct {
	Version int                      `json:"version"`
	Salt    []byte                   `json:"salt"`
	KDF     cryptoutils.Argon2Params `json:"kdf"`
	Entries []sealedEntry            `json:"entries"`
}

type sealedEntry struct {
	Generation uint64                 `json:"generation"`
	Scheme     interfaces.Scheme      `json:"scheme"`
	CreatedAt  time.Time              `json:"created_at"`
	Public     cryptoutils.PublicKey  `json:"public_key"`
	Private    *cryptoutils.SealedBox `json:"private"`
}

// WithPersistence creates a copy of the store backed by a blob store. The
// copy shares no key material with the original.
func (s *Store) WithPersistence(blobs interfaces.BlobStore, key interfaces.BlobKey, params cryptoutils.Argon2Params) *Store {
	return &Store{
		pairs:   make(map[uint64]*interfaces.KeyPair),
		policy:  s.policy,
		log:     s.log,
		blobs:   blobs,
		blobKey: key,
		sealing: sealingParams{argon2: params},
	}
}

func (s *Store) Persistent() bool {
	return s.blobs != nil
}

func entryAAD(key interfaces.BlobKey, generation uint64) []byte {
	return fmt.Appendf(nil, "%s#%d", key, generation)
}

// Save seals every held private key under passphrase and writes the keyring.
func (s *Store) Save(ctx context.Context, passphrase string) error {
	if s.blobs == nil {
		return nil
	}

	sealer, err := cryptoutils.NewSealer([]byte(passphrase), s.sealing.argon2)
	if err != nil {
		return fmt.Errorf("failed to create sealer: %w", err)
	}

	s.mu.RLock()
	keyring := sealedKeyring{Version: keyringVersion, Salt: sealer.Salt(), KDF: sealer.Params()}
	for _, gen := range s.generations() {
		pair := s.pairs[gen]
		box, err := pair.Private.Seal(sealer, entryAAD(s.blobKey, gen))
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to seal generation %d: %w", gen, err)
		}
		keyring.Entries = append(keyring.Entries, sealedEntry{
			Generation: gen,
			Scheme:     pair.Scheme,
			CreatedAt:  pair.CreatedAt,
			Public:     pair.Public,
			Private:    box,
		})
	}
	s.mu.RUnlock()

	data, err := json.Marshal(keyring)
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %w", err)
	}

	if err := s.blobs.Put(ctx, s.blobKey, data); err != nil {
		return fmt.Errorf("failed to store keyring: %w", err)
	}

	s.log.Debug("Saved keyring",
		slog.String("backend", s.blobs.Name()),
		slog.Int("generations", len(keyring.Entries)))
	return nil
}

// Load replaces the in-memory contents with the persisted keyring. It
// returns false when nothing is persisted. A wrong passphrase yields
// cryptoutils.ErrAuthFailed and leaves the store untouched.
func (s *Store) Load(ctx context.Context, passphrase string) (bool, error) {
	if s.blobs == nil {
		return false, nil
	}

	data, err := s.blobs.Get(ctx, s.blobKey)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load keyring: %w", err)
	}

	var keyring sealedKeyring
	if err := json.Unmarshal(data, &keyring); err != nil {
		return false, fmt.Errorf("failed to decode keyring: %w", err)
	}
	if keyring.Version != keyringVersion {
		return false, fmt.Errorf("unsupported keyring version %d", keyring.Version)
	}

	sealer, err := cryptoutils.NewSealerWithSalt([]byte(passphrase), keyring.Salt, keyring.KDF)
	if err != nil {
		return false, fmt.Errorf("failed to create sealer: %w", err)
	}

	loaded := make(map[uint64]*interfaces.KeyPair, len(keyring.Entries))
	wipeLoaded := func() {
		for _, pair := range loaded {
			pair.Wipe()
		}
	}
	for _, entry := range keyring.Entries {
		priv, err := cryptoutils.OpenPrivateKey(sealer, entry.Public.Curve, entry.Private, entryAAD(s.blobKey, entry.Generation))
		if err != nil {
			wipeLoaded()
			return false, err
		}
		pub, err := priv.Public()
		if err != nil || !pub.Equal(entry.Public) {
			priv.Wipe()
			wipeLoaded()
			return false, fmt.Errorf("%w: generation %d does not match its public key", cryptoutils.ErrInvalidKey, entry.Generation)
		}
		loaded[entry.Generation] = &interfaces.KeyPair{
			Public:     entry.Public,
			Private:    priv,
			Generation: entry.Generation,
			Scheme:     entry.Scheme,
			CreatedAt:  entry.CreatedAt,
		}
	}

	s.mu.Lock()
	for _, pair := range s.pairs {
		pair.Wipe()
	}
	s.pairs = loaded
	s.recomputeCurrent()
	s.mu.Unlock()

	s.log.Debug("Loaded keyring",
		slog.String("backend", s.blobs.Name()),
		slog.Int("generations", len(loaded)))
	return len(loaded) > 0, nil
}

// Forget deletes the persisted keyring.
func (s *Store) Forget(ctx context.Context) error {
	if s.blobs == nil {
		return nil
	}
	if err := s.blobs.Delete(ctx, s.blobKey); err != nil {
		return fmt.Errorf("failed to delete keyring: %w", err)
	}
	return nil
}
