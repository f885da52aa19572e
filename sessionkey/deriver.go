package sessionkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every derived session key.
const KeySize = 32

var sessionInfo = []byte("zk-keyservice session v1")

// Deriver expands an ECDH shared secret into a conversation-scoped
// symmetric key. It holds no key material between calls.
type Deriver struct {
	now func() time.Time
}

func NewDeriver(now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{now: now}
}

// Derive computes the session key between local and peer for conversation.
// Both sides arrive at the same key: the HKDF salt orders the two parties
// canonically and binds both generations, so a rotation on either side
// yields a different key.
func (d *Deriver) Derive(local *interfaces.KeyPair, peerUser interfaces.UserID, peer interfaces.KeyRecord, conversation interfaces.ConversationID) (*interfaces.SessionKey, error) {
	if local == nil || local.Private == nil {
		return nil, interfaces.ErrNotInitialized
	}
	if local.Public.Curve != peer.PublicKey.Curve {
		return nil, fmt.Errorf("%w: local %s, peer %s", interfaces.ErrIncompatibleCurve, local.Public.Curve, peer.PublicKey.Curve)
	}

	shared, err := local.Private.ECDH(peer.PublicKey)
	if err != nil {
		if errors.Is(err, cryptoutils.ErrCurveMismatch) {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrIncompatibleCurve, err)
		}
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	defer cryptoutils.Wipe(shared)

	key := make([]byte, KeySize)
	salt := transcript(conversation, local.Public.Bytes, local.Generation, peer.PublicKey.Bytes, peer.Generation)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, sessionInfo), key); err != nil {
		return nil, fmt.Errorf("failed to expand session key: %w", err)
	}
	defer cryptoutils.Wipe(key)

	id := interfaces.SessionKeyID{
		ConversationID:  conversation,
		LocalGeneration: local.Generation,
		PeerGeneration:  peer.Generation,
	}
	return interfaces.NewSessionKey(id, peerUser, key, d.now()), nil
}

func transcript(conversation interfaces.ConversationID, pubA []byte, genA uint64, pubB []byte, genB uint64) []byte {
	a := binary.BigEndian.AppendUint64(bytes.Clone(pubA), genA)
	b := binary.BigEndian.AppendUint64(bytes.Clone(pubB), genB)
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	h := sha256.New()
	h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(conversation))))
	h.Write([]byte(conversation))
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}
