package lifecycle

import (
	"context"
	"fmt"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// SessionKey returns the key for sending to peer: our current generation
// against the peer's currently published one. A peer whose keys are all
// revoked cannot be written to.
func (m *Manager) SessionKey(ctx context.Context, peer interfaces.UserID, conversation interfaces.ConversationID) (*interfaces.SessionKey, error) {
	local, err := m.sessionLocal()
	if err != nil {
		return nil, err
	}

	record, err := m.directory.FetchPublicKey(ctx, peer)
	if err != nil {
		return nil, err
	}
	if record.Revoked() {
		return nil, fmt.Errorf("%w: peer %q", interfaces.ErrRevoked, peer)
	}

	return m.sessionKey(local, peer, record, conversation)
}

// SessionKeyFor returns the key for an explicit pair of generations, as
// named in a received message. Any retained local generation works, and
// the peer generation is fetched even if it was revoked since, so messages
// sent before a rotation or revocation still decrypt.
func (m *Manager) SessionKeyFor(ctx context.Context, peer interfaces.UserID, conversation interfaces.ConversationID, localGeneration, peerGeneration uint64) (*interfaces.SessionKey, error) {
	if _, err := m.sessionLocal(); err != nil {
		return nil, err
	}

	id := interfaces.SessionKeyID{
		ConversationID:  conversation,
		LocalGeneration: localGeneration,
		PeerGeneration:  peerGeneration,
	}
	if key, ok := m.cache.Get(peer, id); ok {
		m.metrics.SessionCacheLookup(true)
		return key, nil
	}

	local, ok := m.store.Generation(localGeneration)
	if !ok {
		return nil, fmt.Errorf("%w: local generation %d", interfaces.ErrGenerationNotFound, localGeneration)
	}

	record, err := m.directory.FetchPublicKeyGeneration(ctx, peer, peerGeneration)
	if err != nil {
		return nil, err
	}

	return m.sessionKey(local, peer, record, conversation)
}

func (m *Manager) sessionLocal() (*interfaces.KeyPair, error) {
	switch m.State() {
	case interfaces.StateUninitialized:
		return nil, interfaces.ErrNotInitialized
	case interfaces.StateRevoked:
		return nil, interfaces.ErrRevoked
	}
	local := m.store.Current()
	if local == nil {
		return nil, interfaces.ErrNotInitialized
	}
	return local, nil
}

func (m *Manager) sessionKey(local *interfaces.KeyPair, peer interfaces.UserID, record *interfaces.KeyRecord, conversation interfaces.ConversationID) (*interfaces.SessionKey, error) {
	id := interfaces.SessionKeyID{
		ConversationID:  conversation,
		LocalGeneration: local.Generation,
		PeerGeneration:  record.Generation,
	}
	if key, ok := m.cache.Get(peer, id); ok {
		m.metrics.SessionCacheLookup(true)
		return key, nil
	}
	m.metrics.SessionCacheLookup(false)

	key, err := m.sessions.Derive(local, peer, *record, conversation)
	if err != nil {
		return nil, err
	}
	m.cache.Put(key)
	return key, nil
}
