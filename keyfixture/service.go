// Package keyfixture provides a deterministic interfaces.KeyService for
// tests and demos. Keys are a plain hash of user, password and generation,
// so two fixtures with the same inputs always agree. It has no KDF cost,
// no persistence and no migration; never use it with real passwords.
package keyfixture

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/sessionkey"
)

type Service struct {
	userID    interfaces.UserID
	deviceID  interfaces.DeviceID
	directory interfaces.Directory
	sessions  *sessionkey.Deriver
	now       func() time.Time

	mu       sync.RWMutex
	state    interfaces.LifecycleState
	keys     map[uint64]*interfaces.KeyPair
	verifier [32]byte
}

var _ interfaces.KeyService = (*Service)(nil)

func New(userID interfaces.UserID, directory interfaces.Directory, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		userID:    userID,
		deviceID:  interfaces.DeviceID("fixture-" + string(userID)),
		directory: directory,
		sessions:  sessionkey.NewDeriver(now),
		now:       now,
		keys:      make(map[uint64]*interfaces.KeyPair),
	}
}

// KeyFor returns the pair the fixture derives for the given inputs.
func KeyFor(userID interfaces.UserID, password string, generation uint64) (*interfaces.KeyPair, error) {
	for counter := uint32(0); counter < 16; counter++ {
		h := sha256.New()
		h.Write([]byte("keyfixture"))
		h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(userID))))
		h.Write([]byte(userID))
		h.Write([]byte(password))
		h.Write(binary.BigEndian.AppendUint64(nil, generation))
		h.Write(binary.BigEndian.AppendUint32(nil, counter))
		seed := h.Sum(nil)

		priv, err := cryptoutils.NewPrivateKey(cryptoutils.CurveP256, seed)
		cryptoutils.Wipe(seed)
		if errors.Is(err, cryptoutils.ErrInvalidKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pub, err := priv.Public()
		if err != nil {
			return nil, err
		}
		return &interfaces.KeyPair{
			Public:     pub,
			Private:    priv,
			Generation: generation,
			Scheme:     interfaces.SchemeCurrent,
		}, nil
	}
	return nil, errors.New("no valid scalar")
}

func (s *Service) UserID() interfaces.UserID {
	return s.userID
}

func (s *Service) State() interfaces.LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func passwordVerifier(password string) [32]byte {
	return sha256.Sum256([]byte("keyfixture-verifier:" + password))
}

func (s *Service) InitializeKeys(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", interfaces.ErrWeakInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) > 0 {
		return interfaces.ErrAlreadyInitialized
	}

	var generation uint64
	existing, err := s.directory.FetchPublicKey(ctx, s.userID)
	switch {
	case err == nil && !existing.Revoked():
		return interfaces.ErrAlreadyInitialized
	case err == nil:
		generation = existing.Generation + 1
	case !errors.Is(err, interfaces.ErrNotFound):
		return err
	}

	return s.publish(ctx, password, generation)
}

func (s *Service) publish(ctx context.Context, password string, generation uint64) error {
	pair, err := KeyFor(s.userID, password, generation)
	if err != nil {
		return err
	}
	pair.CreatedAt = s.now().UTC()

	signer := pair
	if len(s.keys) > 0 {
		signer = s.keys[s.currentGeneration()]
	}
	record := pair.Record(s.userID, s.deviceID)
	if err := signer.SignRecord(&record); err != nil {
		pair.Wipe()
		return err
	}
	if err := s.directory.PublishPublicKey(ctx, s.userID, s.deviceID, record); err != nil {
		pair.Wipe()
		return err
	}
	s.keys[generation] = pair
	s.verifier = passwordVerifier(password)
	s.state = interfaces.StateActive
	return nil
}

func (s *Service) DeriveKeys(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == interfaces.StateRevoked {
		return interfaces.ErrRevoked
	}

	record, err := s.directory.FetchPublicKey(ctx, s.userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.ErrNotInitialized
	}
	if err != nil {
		return err
	}
	if record.Revoked() {
		return interfaces.ErrRevoked
	}

	pair, err := KeyFor(s.userID, password, record.Generation)
	if err != nil {
		return err
	}
	if !pair.Public.Equal(record.PublicKey) {
		pair.Wipe()
		return interfaces.ErrKeyMismatch
	}
	pair.CreatedAt = record.CreatedAt

	s.wipeAll()
	s.keys[record.Generation] = pair
	s.verifier = passwordVerifier(password)
	s.state = interfaces.StateActive
	return nil
}

func (s *Service) RotateKeys(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case interfaces.StateUninitialized:
		return interfaces.ErrNotInitialized
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	}
	if passwordVerifier(password) != s.verifier {
		return interfaces.ErrKeyMismatch
	}

	return s.publish(ctx, password, s.currentGeneration()+1)
}

func (s *Service) MigrateKeys(ctx context.Context, password string) error {
	if s.State() == interfaces.StateRevoked {
		return interfaces.ErrRevoked
	}
	return interfaces.ErrNoMigrationNeeded
}

func (s *Service) RevokeKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case interfaces.StateUninitialized:
		return interfaces.ErrNotInitialized
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	}

	for _, generation := range slices.Sorted(maps.Keys(s.keys)) {
		proof, err := s.keys[generation].SignRevocation(s.userID, generation)
		if err != nil {
			return err
		}
		if err := s.directory.RevokePublicKey(ctx, s.userID, generation, proof); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
	}
	s.wipeAll()
	s.state = interfaces.StateRevoked
	return nil
}

func (s *Service) ClearKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wipeAll()
	s.verifier = [32]byte{}
	s.state = interfaces.StateUninitialized
}

func (s *Service) HasKeys() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != interfaces.StateRevoked && len(s.keys) > 0
}

func (s *Service) HasValidKeys() bool {
	return s.HasKeys()
}

func (s *Service) NeedsMigration() bool {
	return false
}

func (s *Service) GetCurrentKeys() *interfaces.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != interfaces.StateActive || len(s.keys) == 0 {
		return nil
	}
	cp := *s.keys[s.currentGeneration()]
	return &cp
}

func (s *Service) GetUserPublicKey(ctx context.Context, userID interfaces.UserID) (*interfaces.KeyRecord, error) {
	return s.directory.FetchPublicKey(ctx, userID)
}

func (s *Service) SessionKey(ctx context.Context, peer interfaces.UserID, conversation interfaces.ConversationID) (*interfaces.SessionKey, error) {
	local := s.GetCurrentKeys()
	if local == nil {
		return nil, s.inactiveErr()
	}

	record, err := s.directory.FetchPublicKey(ctx, peer)
	if err != nil {
		return nil, err
	}
	if record.Revoked() {
		return nil, fmt.Errorf("%w: peer %q", interfaces.ErrRevoked, peer)
	}
	return s.sessions.Derive(local, peer, *record, conversation)
}

func (s *Service) SessionKeyFor(ctx context.Context, peer interfaces.UserID, conversation interfaces.ConversationID, localGeneration, peerGeneration uint64) (*interfaces.SessionKey, error) {
	s.mu.RLock()
	local, ok := s.keys[localGeneration]
	active := s.state == interfaces.StateActive
	s.mu.RUnlock()

	if !active {
		return nil, s.inactiveErr()
	}
	if !ok {
		return nil, fmt.Errorf("%w: local generation %d", interfaces.ErrGenerationNotFound, localGeneration)
	}

	record, err := s.directory.FetchPublicKeyGeneration(ctx, peer, peerGeneration)
	if err != nil {
		return nil, err
	}
	return s.sessions.Derive(local, peer, *record, conversation)
}

func (s *Service) inactiveErr() error {
	if s.State() == interfaces.StateRevoked {
		return interfaces.ErrRevoked
	}
	return interfaces.ErrNotInitialized
}

func (s *Service) currentGeneration() uint64 {
	gens := make([]uint64, 0, len(s.keys))
	for gen := range s.keys {
		gens = append(gens, gen)
	}
	return slices.Max(gens)
}

func (s *Service) wipeAll() {
	for _, pair := range s.keys {
		pair.Wipe()
	}
	s.keys = make(map[uint64]*interfaces.KeyPair)
}
