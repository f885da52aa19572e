package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/keyderive"
	"github.com/ruteri/zk-keyservice/keystore"
	"github.com/ruteri/zk-keyservice/metrics"
	"github.com/ruteri/zk-keyservice/sessionkey"
	"github.com/ruteri/zk-keyservice/storage"
	"go.uber.org/atomic"
)

// LegacyDeriver re-derives keys of the pre-migration scheme.
type LegacyDeriver interface {
	Derive(password string, salt []byte) (*interfaces.KeyPair, error)
}

// Reencrypter runs the one-time pass that moves locally stored data from
// the legacy key to its replacement during migration.
type Reencrypter interface {
	Reencrypt(ctx context.Context, from, to *interfaces.KeyPair) error
}

// Config wires a Manager. Only UserID and Directory are required.
type Config struct {
	UserID   interfaces.UserID
	DeviceID interfaces.DeviceID

	Deriver       *keyderive.Deriver
	LegacyDeriver LegacyDeriver
	Store         *keystore.Store
	Directory     interfaces.Directory
	Sessions      *sessionkey.Deriver
	Cache         *sessionkey.Cache
	// Profiles holds the per-user salt. Defaults to an in-memory backend,
	// which means DeriveKeys only works within the same process.
	Profiles    interfaces.BlobStore
	Reencrypter Reencrypter

	// RederiveHistory is how many generations before the published one
	// DeriveKeys re-derives, so messages sent during the rotation window
	// still decrypt after a fresh sign-in.
	RederiveHistory int

	Clock   func() time.Time
	Rand    io.Reader
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Manager is the session-scoped key service of one signed-in user. It is
// the only writer of its key store. Transitions are serialized by one
// mutex; reads are lock-free or take the store's read lock.
type Manager struct {
	userID   interfaces.UserID
	deviceID interfaces.DeviceID

	deriver     *keyderive.Deriver
	legacy      LegacyDeriver
	store       *keystore.Store
	directory   interfaces.Directory
	sessions    *sessionkey.Deriver
	cache       *sessionkey.Cache
	profiles    interfaces.BlobStore
	reencrypter Reencrypter
	rederive    int

	now     func() time.Time
	rand    io.Reader
	metrics *metrics.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	state atomic.Int32
	salt  []byte
	kdf   map[uint64]cryptoutils.Argon2Params
}

var _ interfaces.KeyService = (*Manager)(nil)

func New(cfg Config) (*Manager, error) {
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}

	m := &Manager{
		userID:      cfg.UserID,
		deviceID:    cfg.DeviceID,
		deriver:     cfg.Deriver,
		legacy:      cfg.LegacyDeriver,
		store:       cfg.Store,
		directory:   cfg.Directory,
		sessions:    cfg.Sessions,
		cache:       cfg.Cache,
		profiles:    cfg.Profiles,
		reencrypter: cfg.Reencrypter,
		rederive:    cfg.RederiveHistory,
		now:         cfg.Clock,
		rand:        cfg.Rand,
		metrics:     cfg.Metrics,
		log:         cfg.Log,
	}

	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With(slog.String("userID", string(m.userID)))
	if m.deviceID == "" {
		m.deviceID = interfaces.DeviceID(uuid.NewString())
	}
	if m.deriver == nil {
		deriver, err := keyderive.NewDeriver(cryptoutils.DefaultArgon2Params, keyderive.DefaultPolicy)
		if err != nil {
			return nil, err
		}
		m.deriver = deriver
	}
	if m.legacy == nil {
		m.legacy = keyderive.LegacyDeriver{}
	}
	if m.store == nil {
		m.store = keystore.New(keystore.DefaultPolicy, m.log)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sessions == nil {
		m.sessions = sessionkey.NewDeriver(m.now)
	}
	if m.cache == nil {
		m.cache = sessionkey.NewCache()
	}
	if m.profiles == nil {
		m.profiles = storage.NewMemoryBackend("profiles", m.log)
	}
	if m.rand == nil {
		m.rand = rand.Reader
	}
	if m.rederive <= 0 {
		m.rederive = 1
	}

	m.metrics.SetState(interfaces.StateUninitialized)
	return m, nil
}

func (m *Manager) UserID() interfaces.UserID {
	return m.userID
}

func (m *Manager) DeviceID() interfaces.DeviceID {
	return m.deviceID
}

func (m *Manager) State() interfaces.LifecycleState {
	return interfaces.LifecycleState(m.state.Load())
}

func (m *Manager) setState(state interfaces.LifecycleState) {
	prev := interfaces.LifecycleState(m.state.Swap(int32(state)))
	m.metrics.SetState(state)
	if prev != state {
		m.log.Debug("Key lifecycle state changed",
			slog.String("from", prev.String()),
			slog.String("to", state.String()))
	}
}

func (m *Manager) observe(op string, started time.Time, err *error) {
	m.metrics.ObserveTransition(op, started, *err)
	if *err != nil {
		m.log.Warn("Key lifecycle operation failed", slog.String("op", op), "err", *err)
	}
}

// InitializeKeys creates the first key pair of a user, or the first one
// after a revocation. A fresh salt is drawn every time.
func (m *Manager) InitializeKeys(ctx context.Context, password string) (err error) {
	defer m.observe("initialize", time.Now(), &err)

	if err := m.deriver.CheckPassword(password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch state := m.State(); state {
	case interfaces.StateUninitialized, interfaces.StateRevoked:
	default:
		return fmt.Errorf("%w: keys are %s", interfaces.ErrAlreadyInitialized, state)
	}
	if m.store.Len() > 0 {
		return interfaces.ErrAlreadyInitialized
	}

	var generation uint64
	existing, err := m.directory.FetchPublicKey(ctx, m.userID)
	switch {
	case err == nil && !existing.Revoked():
		return fmt.Errorf("%w: generation %d is published", interfaces.ErrAlreadyInitialized, existing.Generation)
	case err == nil:
		generation = existing.Generation + 1
	case errors.Is(err, interfaces.ErrNotFound):
	default:
		return err
	}

	salt, err := keyderive.NewSalt(m.rand)
	if err != nil {
		return err
	}

	pair, err := m.deriver.DeriveGeneration(password, salt, generation)
	if err != nil {
		return err
	}
	pair.CreatedAt = m.now().UTC()

	snap := m.store.Snapshot()
	if err := m.store.Put(pair); err != nil {
		pair.Wipe()
		return err
	}
	// Nothing is live, so the first generation vouches for itself.
	record, err := pair.SignedRecord(m.userID, m.deviceID)
	if err != nil {
		m.store.Restore(snap)
		return err
	}
	if err := m.directory.PublishPublicKey(ctx, m.userID, m.deviceID, record); err != nil {
		m.store.Restore(snap)
		return err
	}
	kdf := map[uint64]cryptoutils.Argon2Params{generation: m.deriver.Params()}
	if err := m.saveProfile(ctx, salt, interfaces.SchemeCurrent, kdf); err != nil {
		m.revokeBestEffort(ctx, pair)
		m.store.Restore(snap)
		return err
	}

	m.salt = salt
	m.kdf = kdf
	m.setState(interfaces.StateActive)
	m.persist(ctx, password)

	m.log.Info("Initialized keys",
		slog.Uint64("generation", generation),
		slog.String("fingerprint", pair.Public.Fingerprint()))
	return nil
}

// DeriveKeys unlocks the published keys on sign-in. The password must
// re-derive, or unseal, exactly the key the directory publishes.
func (m *Manager) DeriveKeys(ctx context.Context, password string) (err error) {
	defer m.observe("derive", time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch state := m.State(); state {
	case interfaces.StateUninitialized, interfaces.StateActive:
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	default:
		return fmt.Errorf("%w: derive while %s", interfaces.ErrInvalidTransition, state)
	}

	record, err := m.directory.FetchPublicKey(ctx, m.userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("%w: nothing published", interfaces.ErrNotInitialized)
	}
	if err != nil {
		return err
	}
	if record.Revoked() {
		return fmt.Errorf("%w: generation %d", interfaces.ErrRevoked, record.Generation)
	}

	if m.loadKeyring(ctx, password, record) {
		m.setState(interfaces.StateActive)
		return nil
	}

	salt, err := m.userSalt(ctx)
	if err != nil {
		return err
	}

	pair, err := m.deriveFor(record.Scheme, password, salt, record.Generation)
	if err != nil {
		return err
	}
	if !pair.Public.Equal(record.PublicKey) {
		pair.Wipe()
		return interfaces.ErrKeyMismatch
	}
	pair.CreatedAt = record.CreatedAt

	m.store.Clear()
	m.cache.Purge()
	if err := m.store.Put(pair); err != nil {
		return err
	}
	m.rederivePrevious(ctx, password, salt, record)
	m.store.Prune(m.now())
	m.recordKDF(ctx, salt, record)

	m.setState(interfaces.StateActive)
	m.persist(ctx, password)

	m.log.Info("Derived keys",
		slog.Uint64("generation", record.Generation),
		slog.String("scheme", record.Scheme.String()))
	return nil
}

// loadKeyring tries the sealed local keyring first. It reports true only
// if the keyring holds exactly the published generation.
func (m *Manager) loadKeyring(ctx context.Context, password string, record *interfaces.KeyRecord) bool {
	if !m.store.Persistent() {
		return false
	}

	loaded, err := m.store.Load(ctx, password)
	if err != nil {
		m.log.Warn("Could not open local keyring, deriving instead", "err", err)
		return false
	}
	if !loaded {
		return false
	}

	current := m.store.Current()
	if current == nil || current.Generation != record.Generation || !current.Public.Equal(record.PublicKey) {
		m.log.Warn("Local keyring is stale, deriving instead")
		m.store.Clear()
		return false
	}
	m.cache.Purge()
	return true
}

func (m *Manager) rederivePrevious(ctx context.Context, password string, salt []byte, published *interfaces.KeyRecord) {
	if published.Scheme != interfaces.SchemeCurrent {
		return
	}
	for i := 1; i <= m.rederive && uint64(i) <= published.Generation; i++ {
		generation := published.Generation - uint64(i)
		record, err := m.directory.FetchPublicKeyGeneration(ctx, m.userID, generation)
		if err != nil || record.Revoked() || record.Scheme != interfaces.SchemeCurrent {
			continue
		}
		pair, err := m.deriveFor(interfaces.SchemeCurrent, password, salt, generation)
		if err != nil {
			continue
		}
		if !pair.Public.Equal(record.PublicKey) {
			pair.Wipe()
			m.log.Warn("Previous generation does not re-derive, skipping", slog.Uint64("generation", generation))
			continue
		}
		pair.CreatedAt = record.CreatedAt
		if err := m.store.Put(pair); err != nil {
			pair.Wipe()
		}
	}
}

// RotateKeys publishes generation+1. The previous generation stays in the
// store so in-flight messages from peers who have not seen the rotation
// still decrypt, and existing session keys remain usable.
func (m *Manager) RotateKeys(ctx context.Context, password string) (err error) {
	defer m.observe("rotate", time.Now(), &err)

	if m.State() == interfaces.StateRotating {
		return interfaces.ErrRotationInProgress
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return err
	}

	current := m.store.Current()
	if current == nil {
		return interfaces.ErrNotInitialized
	}
	if current.Scheme != interfaces.SchemeCurrent {
		return interfaces.ErrMigrationRequired
	}

	salt, err := m.userSalt(ctx)
	if err != nil {
		return err
	}
	if err := m.verify(password, salt, current); err != nil {
		return err
	}

	m.setState(interfaces.StateRotating)
	defer func() {
		m.setState(interfaces.StateActive)
	}()

	next, err := m.deriver.DeriveGeneration(password, salt, current.Generation+1)
	if err != nil {
		return err
	}
	next.CreatedAt = m.now().UTC()

	snap := m.store.Snapshot()
	if err := m.store.Put(next); err != nil {
		next.Wipe()
		return err
	}
	// The profile goes first: a recorded but unpublished generation is
	// overwritten by the next attempt, a published but unrecorded one
	// might not re-derive.
	kdf := m.withKDF(next.Generation)
	if err := m.saveProfile(ctx, salt, interfaces.SchemeCurrent, kdf); err != nil {
		m.store.Restore(snap)
		return err
	}
	record := next.Record(m.userID, m.deviceID)
	if err := current.SignRecord(&record); err != nil {
		m.store.Restore(snap)
		return err
	}
	if err := m.directory.PublishPublicKey(ctx, m.userID, m.deviceID, record); err != nil {
		m.store.Restore(snap)
		return err
	}
	m.kdf = kdf

	for _, generation := range m.store.Prune(m.now()) {
		m.cache.InvalidateLocalGeneration(generation)
	}
	m.persist(ctx, password)

	m.log.Info("Rotated keys",
		slog.Uint64("generation", next.Generation),
		slog.String("fingerprint", next.Public.Fingerprint()))
	return nil
}

// RevokeKeys revokes every generation this user ever published, oldest
// first, then drops all local key material. Irreversible once it returns
// nil; on error the keys stay active and the call can be repeated.
func (m *Manager) RevokeKeys(ctx context.Context) (err error) {
	defer m.observe("revoke", time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch state := m.State(); state {
	case interfaces.StateActive, interfaces.StateRotating:
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	case interfaces.StateUninitialized:
		return interfaces.ErrNotInitialized
	default:
		return fmt.Errorf("%w: revoke while %s", interfaces.ErrInvalidTransition, state)
	}

	current := m.store.Current()
	if current == nil {
		return interfaces.ErrNotInitialized
	}

	// Oldest first: a failure part way leaves the current generation
	// published, which is what the directory then serves. The current key
	// signs every proof, so it has to be revoked last.
	for generation := uint64(0); generation <= current.Generation; generation++ {
		proof, err := current.SignRevocation(m.userID, generation)
		if err != nil {
			return err
		}
		err = m.directory.RevokePublicKey(ctx, m.userID, generation, proof)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
	}

	m.store.Clear()
	m.cache.Purge()
	if err := m.store.Forget(ctx); err != nil {
		m.log.Warn("Failed to delete local keyring", "err", err)
	}
	m.setState(interfaces.StateRevoked)

	m.log.Info("Revoked keys", slog.Uint64("generation", current.Generation))
	return nil
}

// MigrateKeys replaces a legacy-scheme key with a current-scheme one at the
// next generation. The legacy private key is kept only until the
// re-encryption pass has finished. Any failure undoes the transition.
func (m *Manager) MigrateKeys(ctx context.Context, password string) (err error) {
	defer m.observe("migrate", time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	switch prev {
	case interfaces.StateUninitialized, interfaces.StateActive:
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	default:
		return fmt.Errorf("%w: migrate while %s", interfaces.ErrInvalidTransition, prev)
	}

	legacy, recovered, err := m.legacyPair(ctx, password, prev)
	if err != nil {
		return err
	}
	if err := m.deriver.CheckPassword(password); err != nil {
		if recovered {
			legacy.Wipe()
		}
		return err
	}

	m.setState(interfaces.StateMigrating)
	snap := m.store.Snapshot()
	rollback := func() {
		m.store.Restore(snap)
		if recovered {
			legacy.Wipe()
		}
		m.setState(prev)
	}

	if recovered {
		if err := m.store.Put(legacy); err != nil {
			rollback()
			return err
		}
	}

	generation, err := m.nextFreeGeneration(ctx, legacy.Generation+1)
	if err != nil {
		rollback()
		return err
	}
	next, err := m.deriver.DeriveGeneration(password, m.salt, generation)
	if err != nil {
		rollback()
		return err
	}
	next.CreatedAt = m.now().UTC()
	if err := m.store.Put(next); err != nil {
		next.Wipe()
		rollback()
		return err
	}

	record := next.Record(m.userID, m.deviceID)
	if err := legacy.SignRecord(&record); err != nil {
		rollback()
		return err
	}
	if err := m.directory.PublishPublicKey(ctx, m.userID, m.deviceID, record); err != nil {
		rollback()
		return err
	}

	if m.reencrypter != nil {
		if err := m.reencrypter.Reencrypt(ctx, legacy, next); err != nil {
			m.revokeBestEffort(ctx, next)
			rollback()
			return fmt.Errorf("re-encryption failed: %w", err)
		}
	}

	kdf := m.withKDF(generation)
	if err := m.saveProfile(ctx, m.salt, interfaces.SchemeCurrent, kdf); err != nil {
		m.revokeBestEffort(ctx, next)
		rollback()
		return err
	}
	m.kdf = kdf

	m.revokeBestEffort(ctx, legacy)
	m.store.Drop(legacy.Generation)
	m.cache.InvalidateLocalGeneration(legacy.Generation)
	m.setState(interfaces.StateActive)
	m.persist(ctx, password)

	m.log.Info("Migrated keys",
		slog.Uint64("from", legacy.Generation),
		slog.Uint64("to", generation),
		slog.String("fingerprint", next.Public.Fingerprint()))
	return nil
}

// legacyPair finds the key to migrate: the legacy current key in the store,
// or, before sign-in completed, the published legacy key re-derived from
// the password. recovered reports the latter case.
func (m *Manager) legacyPair(ctx context.Context, password string, state interfaces.LifecycleState) (*interfaces.KeyPair, bool, error) {
	salt, err := m.userSalt(ctx)
	if err != nil {
		return nil, false, err
	}

	if current := m.store.Current(); current != nil {
		if current.Scheme != interfaces.SchemeLegacy {
			return nil, false, interfaces.ErrNoMigrationNeeded
		}
		if err := m.verify(password, salt, current); err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	if state == interfaces.StateActive {
		return nil, false, interfaces.ErrNoMigrationNeeded
	}

	record, err := m.directory.FetchPublicKey(ctx, m.userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, false, interfaces.ErrNotInitialized
	}
	if err != nil {
		return nil, false, err
	}
	if record.Revoked() {
		return nil, false, interfaces.ErrRevoked
	}
	if record.Scheme != interfaces.SchemeLegacy {
		return nil, false, interfaces.ErrNoMigrationNeeded
	}

	pair, err := m.deriveFor(interfaces.SchemeLegacy, password, salt, record.Generation)
	if err != nil {
		return nil, false, err
	}
	if !pair.Public.Equal(record.PublicKey) {
		pair.Wipe()
		return nil, false, interfaces.ErrKeyMismatch
	}
	pair.CreatedAt = record.CreatedAt
	return pair, true, nil
}

// nextFreeGeneration skips generations a failed migration published and
// then revoked; a revoked record cannot be re-activated.
func (m *Manager) nextFreeGeneration(ctx context.Context, from uint64) (uint64, error) {
	for generation := from; ; generation++ {
		record, err := m.directory.FetchPublicKeyGeneration(ctx, m.userID, generation)
		if errors.Is(err, interfaces.ErrNotFound) {
			return generation, nil
		}
		if err != nil {
			return 0, err
		}
		if !record.Revoked() {
			return generation, nil
		}
	}
}

// ClearKeys ends the session: key material and session keys are wiped,
// nothing is revoked and the persisted keyring stays for the next sign-in.
func (m *Manager) ClearKeys() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.Clear()
	m.cache.Purge()
	m.salt = nil
	m.kdf = nil
	m.setState(interfaces.StateUninitialized)
	m.log.Debug("Cleared keys")
}

func (m *Manager) HasKeys() bool {
	return m.State() != interfaces.StateRevoked && m.store.Len() > 0
}

// HasValidKeys reports present, unrevoked, current-scheme keys.
func (m *Manager) HasValidKeys() bool {
	if m.State() == interfaces.StateRevoked {
		return false
	}
	current := m.store.Current()
	return current != nil && current.Scheme == interfaces.SchemeCurrent
}

// NeedsMigration looks at local keys only. Before sign-in MigrateKeys can
// still discover a legacy key from the directory.
func (m *Manager) NeedsMigration() bool {
	if m.State() == interfaces.StateRevoked {
		return false
	}
	current := m.store.Current()
	return current != nil && current.Scheme == interfaces.SchemeLegacy
}

func (m *Manager) GetCurrentKeys() *interfaces.KeyPair {
	switch m.State() {
	case interfaces.StateUninitialized, interfaces.StateRevoked:
		return nil
	}
	return m.store.Current()
}

// History returns the retained generations in ascending order. Like
// GetCurrentKeys, the pairs share their private handles with the store and
// must not be wiped by the caller.
func (m *Manager) History() []*interfaces.KeyPair {
	switch m.State() {
	case interfaces.StateUninitialized, interfaces.StateRevoked:
		return nil
	}
	return m.store.History()
}

func (m *Manager) GetUserPublicKey(ctx context.Context, userID interfaces.UserID) (*interfaces.KeyRecord, error) {
	return m.directory.FetchPublicKey(ctx, userID)
}

func (m *Manager) requireActive() error {
	switch state := m.State(); state {
	case interfaces.StateActive:
		return nil
	case interfaces.StateUninitialized:
		return interfaces.ErrNotInitialized
	case interfaces.StateRevoked:
		return interfaces.ErrRevoked
	case interfaces.StateRotating:
		return interfaces.ErrRotationInProgress
	default:
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidTransition, state)
	}
}

func (m *Manager) deriveFor(scheme interfaces.Scheme, password string, salt []byte, generation uint64) (*interfaces.KeyPair, error) {
	switch scheme {
	case interfaces.SchemeCurrent:
		deriver, err := m.deriverFor(generation)
		if err != nil {
			return nil, err
		}
		return deriver.DeriveGeneration(password, salt, generation)
	case interfaces.SchemeLegacy:
		pair, err := m.legacy.Derive(password, salt)
		if err != nil {
			return nil, err
		}
		pair.Generation = generation
		return pair, nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %d", interfaces.ErrInvalidRecord, scheme)
	}
}

// verify checks that password re-derives pair.
func (m *Manager) verify(password string, salt []byte, pair *interfaces.KeyPair) error {
	check, err := m.deriveFor(pair.Scheme, password, salt, pair.Generation)
	if err != nil {
		return err
	}
	defer check.Wipe()
	if !check.Public.Equal(pair.Public) {
		return interfaces.ErrKeyMismatch
	}
	return nil
}

// recordKDF backfills the parameters of a generation that re-derived
// under the configured ones but had no record, as profiles written before
// parameters were recorded do.
func (m *Manager) recordKDF(ctx context.Context, salt []byte, record *interfaces.KeyRecord) {
	if record.Scheme != interfaces.SchemeCurrent {
		return
	}
	if _, ok := m.kdf[record.Generation]; ok {
		return
	}
	kdf := m.withKDF(record.Generation)
	if err := m.saveProfile(ctx, salt, record.Scheme, kdf); err != nil {
		m.log.Warn("Failed to record kdf parameters", slog.Uint64("generation", record.Generation), "err", err)
		return
	}
	m.kdf = kdf
}

// revokeBestEffort revokes pair's generation with a proof signed by pair.
func (m *Manager) revokeBestEffort(ctx context.Context, pair *interfaces.KeyPair) {
	proof, err := pair.SignRevocation(m.userID, pair.Generation)
	if err == nil {
		err = m.directory.RevokePublicKey(ctx, m.userID, pair.Generation, proof)
	}
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		m.log.Error("Failed to revoke generation",
			slog.Uint64("generation", pair.Generation),
			"err", err)
	}
}

// persist writes the sealed keyring. Failures only cost the fast unlock
// path, so they are logged and not returned.
func (m *Manager) persist(ctx context.Context, password string) {
	if !m.store.Persistent() {
		return
	}
	if err := m.store.Save(ctx, password); err != nil {
		m.log.Warn("Failed to persist keyring", "err", err)
	}
}
