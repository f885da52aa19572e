package cryptoutils

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2Params are the Argon2id cost parameters. They are policy and come
// from configuration; DefaultArgon2Params is only a starting point.
type Argon2Params struct {
	Time      uint32 `json:"time" yaml:"time"`
	MemoryKiB uint32 `json:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `json:"threads" yaml:"threads"`
}

var DefaultArgon2Params = Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 2}

func (p Argon2Params) Validate() error {
	if p.Time == 0 {
		return errors.New("argon2 time must be positive")
	}
	if p.Threads == 0 {
		return errors.New("argon2 threads must be positive")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2 memory must be at least %d KiB", 8*uint32(p.Threads))
	}
	return nil
}

// Key runs Argon2id over secret and salt.
func (p Argon2Params) Key(secret, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, keyLen)
}

const sealerSaltSize = 16

var ErrAuthFailed = errors.New("sealed box authentication failed")

// SealedBox is an XChaCha20-Poly1305 ciphertext with its nonce.
type SealedBox struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Sealer encrypts small blobs under a passphrase-derived key. The Argon2id
// run happens once per Sealer, so one Sealer is used for a whole keyring.
type Sealer struct {
	aead   cipher.AEAD
	salt   []byte
	params Argon2Params
}

// NewSealer derives a sealing key from passphrase under a fresh random salt.
func NewSealer(passphrase []byte, params Argon2Params) (*Sealer, error) {
	salt := make([]byte, sealerSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return NewSealerWithSalt(passphrase, salt, params)
}

// NewSealerWithSalt re-derives the sealing key recorded alongside a sealed blob.
func NewSealerWithSalt(passphrase, salt []byte, params Argon2Params) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < sealerSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", sealerSaltSize)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := params.Key(passphrase, salt, chacha20poly1305.KeySize)
	defer Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aead: %w", err)
	}
	return &Sealer{aead: aead, salt: append([]byte(nil), salt...), params: params}, nil
}

func (s *Sealer) Salt() []byte {
	return append([]byte(nil), s.salt...)
}

func (s *Sealer) Params() Argon2Params {
	return s.params
}

func (s *Sealer) Seal(plaintext, aad []byte) (*SealedBox, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return &SealedBox{Nonce: nonce, Ciphertext: s.aead.Seal(nil, nonce, plaintext, aad)}, nil
}

func (s *Sealer) Open(box *SealedBox, aad []byte) ([]byte, error) {
	if box == nil || len(box.Nonce) != s.aead.NonceSize() {
		return nil, ErrAuthFailed
	}
	plaintext, err := s.aead.Open(nil, box.Nonce, box.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Seal encrypts the scalar for at-rest storage. This is the only way a
// private key leaves memory.
func (k *PrivateKey) Seal(s *Sealer, aad []byte) (*SealedBox, error) {
	if k.Wiped() {
		return nil, fmt.Errorf("%w: key has been wiped", ErrInvalidKey)
	}
	return s.Seal(k.d, aad)
}

// OpenPrivateKey reverses PrivateKey.Seal.
func OpenPrivateKey(s *Sealer, curve Curve, box *SealedBox, aad []byte) (*PrivateKey, error) {
	d, err := s.Open(box, aad)
	if err != nil {
		return nil, err
	}
	defer Wipe(d)
	return NewPrivateKey(curve, d)
}
