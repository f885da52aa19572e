package messenger

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/msgcrypt"
)

const EnvelopeVersion = 1

// Envelope is what travels through the untrusted transport. Everything but
// the ciphertext is in the clear and authenticated as associated data, so
// a relay cannot re-address a message or claim other key generations.
type Envelope struct {
	Version             int                       `json:"version"`
	ConversationID      interfaces.ConversationID `json:"conversation_id"`
	Sender              interfaces.UserID         `json:"sender"`
	Recipient           interfaces.UserID         `json:"recipient"`
	SenderGeneration    uint64                    `json:"sender_generation"`
	RecipientGeneration uint64                    `json:"recipient_generation"`
	Cipher              msgcrypt.Cipher           `json:"cipher"`
	Nonce               []byte                    `json:"nonce"`
	Ciphertext          []byte                    `json:"ciphertext"`
}

// AssociatedData is the canonical encoding of the header.
func (e *Envelope) AssociatedData() []byte {
	var ad []byte
	ad = binary.BigEndian.AppendUint32(ad, uint32(e.Version))
	for _, field := range []string{string(e.ConversationID), string(e.Sender), string(e.Recipient), string(e.Cipher)} {
		ad = binary.BigEndian.AppendUint32(ad, uint32(len(field)))
		ad = append(ad, field...)
	}
	ad = binary.BigEndian.AppendUint64(ad, e.SenderGeneration)
	ad = binary.BigEndian.AppendUint64(ad, e.RecipientGeneration)
	return ad
}

// Messenger is the send/receive data flow on top of a key service.
type Messenger struct {
	keys    interfaces.KeyService
	cryptor *msgcrypt.Cryptor
	log     *slog.Logger
}

func New(keys interfaces.KeyService, cryptor *msgcrypt.Cryptor, log *slog.Logger) *Messenger {
	return &Messenger{keys: keys, cryptor: cryptor, log: log}
}

// Seal encrypts plaintext for recipient under our current generation and
// the recipient's currently published one.
func (m *Messenger) Seal(ctx context.Context, recipient interfaces.UserID, conversation interfaces.ConversationID, plaintext []byte) (*Envelope, error) {
	key, err := m.keys.SessionKey(ctx, recipient, conversation)
	if err != nil {
		return nil, fmt.Errorf("no session key for %q: %w", recipient, err)
	}
	defer key.Wipe()

	env := &Envelope{
		Version:             EnvelopeVersion,
		ConversationID:      conversation,
		Sender:              m.keys.UserID(),
		Recipient:           recipient,
		SenderGeneration:    key.LocalGeneration,
		RecipientGeneration: key.PeerGeneration,
		Cipher:              m.cryptor.Cipher(),
	}

	sealed, err := m.cryptor.Seal(key, plaintext, env.AssociatedData())
	if err != nil {
		return nil, err
	}
	env.Nonce = sealed.Nonce
	env.Ciphertext = sealed.Ciphertext
	return env, nil
}

// Open decrypts an envelope addressed to us. The generations named in the
// header pick the keys, so messages sealed before either side rotated
// still open as long as our generation is retained.
func (m *Messenger) Open(ctx context.Context, env *Envelope) ([]byte, error) {
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", interfaces.ErrAuthentication, env.Version)
	}
	if env.Recipient != m.keys.UserID() {
		return nil, fmt.Errorf("%w: envelope is addressed to %q", interfaces.ErrAuthentication, env.Recipient)
	}

	cryptor := m.cryptor
	if env.Cipher != cryptor.Cipher() {
		var err error
		if cryptor, err = msgcrypt.New(env.Cipher); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
		}
	}

	key, err := m.keys.SessionKeyFor(ctx, env.Sender, env.ConversationID, env.RecipientGeneration, env.SenderGeneration)
	if err != nil {
		return nil, fmt.Errorf("no session key for %q: %w", env.Sender, err)
	}
	defer key.Wipe()

	plaintext, err := cryptor.Open(key, &msgcrypt.Sealed{Nonce: env.Nonce, Ciphertext: env.Ciphertext}, env.AssociatedData())
	if err != nil {
		m.log.Warn("Rejected message",
			slog.String("sender", string(env.Sender)),
			slog.String("conversationID", string(env.ConversationID)),
			slog.Uint64("senderGeneration", env.SenderGeneration),
			slog.Uint64("recipientGeneration", env.RecipientGeneration))
		return nil, err
	}
	return plaintext, nil
}
