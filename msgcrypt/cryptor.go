package msgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/zk-keyservice/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey is returned for a nil, wiped or wrongly sized session key.
var ErrInvalidKey = errors.New("session key is wiped or invalid")

// Cipher names an AEAD construction. Which one is used is policy and comes
// from configuration.
type Cipher string

const (
	AES256GCM         Cipher = "aes-256-gcm"
	ChaCha20Poly1305  Cipher = "chacha20-poly1305"
	XChaCha20Poly1305 Cipher = "xchacha20-poly1305"

	DefaultCipher = AES256GCM
)

func (c Cipher) Valid() bool {
	switch c {
	case AES256GCM, ChaCha20Poly1305, XChaCha20Poly1305:
		return true
	}
	return false
}

func (c Cipher) NonceSize() int {
	switch c {
	case XChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	case ChaCha20Poly1305:
		return chacha20poly1305.NonceSize
	default:
		return 12
	}
}

// Sealed is one encrypted payload. The nonce travels with the ciphertext.
type Sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Cryptor encrypts message payloads under a session key. It is stateless
// apart from the randomness source and safe for concurrent use.
type Cryptor struct {
	cipher Cipher
	rand   io.Reader
}

func New(c Cipher) (*Cryptor, error) {
	if c == "" {
		c = DefaultCipher
	}
	if !c.Valid() {
		return nil, fmt.Errorf("unsupported cipher %q", c)
	}
	return &Cryptor{cipher: c, rand: rand.Reader}, nil
}

// WithRand creates a copy reading nonces from r. Tests only.
func (c *Cryptor) WithRand(r io.Reader) *Cryptor {
	return &Cryptor{cipher: c.cipher, rand: r}
}

func (c *Cryptor) Cipher() Cipher {
	return c.cipher
}

func (c *Cryptor) Encrypt(key *interfaces.SessionKey, plaintext []byte) (*Sealed, error) {
	return c.Seal(key, plaintext, nil)
}

func (c *Cryptor) Decrypt(key *interfaces.SessionKey, ciphertext, nonce []byte) ([]byte, error) {
	return c.Open(key, &Sealed{Nonce: nonce, Ciphertext: ciphertext}, nil)
}

// Seal encrypts plaintext with a fresh random nonce, authenticating
// associatedData alongside it.
func (c *Cryptor) Seal(key *interfaces.SessionKey, plaintext, associatedData []byte) (*Sealed, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Sealed{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, associatedData),
	}, nil
}

// Open authenticates and decrypts. Every failure, including a malformed
// nonce or a wiped key, is reported as ErrAuthentication with no plaintext.
// Seal refuses a wiped key with ErrInvalidKey.
func (c *Cryptor) Open(key *interfaces.SessionKey, sealed *Sealed, associatedData []byte) ([]byte, error) {
	if sealed == nil {
		return nil, interfaces.ErrAuthentication
	}
	aead, err := c.aead(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthentication, err)
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", interfaces.ErrAuthentication)
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, associatedData)
	if err != nil {
		return nil, interfaces.ErrAuthentication
	}
	return plaintext, nil
}

func (c *Cryptor) aead(key *interfaces.SessionKey) (cipher.AEAD, error) {
	if key.Wiped() || len(key.Bytes()) != 32 {
		return nil, ErrInvalidKey
	}

	switch c.cipher {
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key.Bytes())
	case XChaCha20Poly1305:
		return chacha20poly1305.NewX(key.Bytes())
	default:
		block, err := aes.NewCipher(key.Bytes())
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}
