package keyderive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/interfaces"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the size of a freshly generated per-user salt.
	SaltSize = 16
	// MinSaltSize is the shortest salt Derive accepts.
	MinSaltSize = 16

	seedSize       = 32
	maxScalarTries = 64
)

var (
	scalarInfo        = []byte("zk-keyservice/p256-scalar/v1")
	generationSaltTag = []byte("zk-keyservice/generation-salt/v1")
)

// Deriver turns a password and salt into a P-256 key pair. It is a pure
// function of its inputs and safe for concurrent use.
type Deriver struct {
	params cryptoutils.Argon2Params
	policy Policy
}

func NewDeriver(params cryptoutils.Argon2Params, policy Policy) (*Deriver, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kdf parameters: %w", err)
	}
	return &Deriver{params: params, policy: policy}, nil
}

// WithPolicy creates a copy of the deriver enforcing a different password policy.
func (d *Deriver) WithPolicy(policy Policy) *Deriver {
	return &Deriver{params: d.params, policy: policy}
}

// WithParams creates a copy of the deriver with different Argon2id costs.
func (d *Deriver) WithParams(params cryptoutils.Argon2Params) (*Deriver, error) {
	return NewDeriver(params, d.policy)
}

func (d *Deriver) Params() cryptoutils.Argon2Params {
	return d.params
}

func (d *Deriver) CheckPassword(password string) error {
	return d.policy.Check(password)
}

// Derive runs Argon2id over (password, salt) and deterministically maps the
// resulting seed onto a P-256 scalar. The returned pair has generation 0
// and a zero CreatedAt; the caller stamps both.
func (d *Deriver) Derive(password string, salt []byte) (*interfaces.KeyPair, error) {
	if err := d.policy.Check(password); err != nil {
		return nil, err
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", interfaces.ErrWeakInput, MinSaltSize)
	}

	pw := []byte(password)
	seed := d.params.Key(pw, salt, seedSize)
	cryptoutils.Wipe(pw)
	defer cryptoutils.Wipe(seed)

	priv, err := scalarFromSeed(seed)
	if err != nil {
		return nil, err
	}

	pub, err := priv.Public()
	if err != nil {
		priv.Wipe()
		return nil, err
	}

	return &interfaces.KeyPair{
		Public:  pub,
		Private: priv,
		Scheme:  interfaces.SchemeCurrent,
	}, nil
}

// DeriveGeneration derives the pair for one generation of a user. Every
// generation has its own salt, so rotating with an unchanged password still
// yields a fresh key pair, and any retained generation can be re-derived.
func (d *Deriver) DeriveGeneration(password string, userSalt []byte, generation uint64) (*interfaces.KeyPair, error) {
	if len(userSalt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", interfaces.ErrWeakInput, MinSaltSize)
	}
	pair, err := d.Derive(password, GenerationSalt(userSalt, generation))
	if err != nil {
		return nil, err
	}
	pair.Generation = generation
	return pair, nil
}

// GenerationSalt binds the per-user salt to a generation number.
func GenerationSalt(userSalt []byte, generation uint64) []byte {
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], generation)

	h := sha256.New()
	h.Write(generationSaltTag)
	h.Write(userSalt)
	h.Write(gen[:])
	return h.Sum(nil)
}

// NewSalt reads a fresh per-user salt from r, or crypto/rand when r is nil.
func NewSalt(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// scalarFromSeed expands the seed with HKDF until a candidate falls inside
// the P-256 scalar range. The first candidate is almost always valid.
func scalarFromSeed(seed []byte) (*cryptoutils.PrivateKey, error) {
	candidate := make([]byte, cryptoutils.ScalarSize)
	defer cryptoutils.Wipe(candidate)

	for counter := uint32(0); counter < maxScalarTries; counter++ {
		info := binary.BigEndian.AppendUint32(append([]byte(nil), scalarInfo...), counter)
		if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, info), candidate); err != nil {
			return nil, fmt.Errorf("failed to expand seed: %w", err)
		}

		priv, err := cryptoutils.NewPrivateKey(cryptoutils.CurveP256, candidate)
		if err == nil {
			return priv, nil
		}
		if !errors.Is(err, cryptoutils.ErrInvalidKey) {
			return nil, err
		}
	}
	return nil, errors.New("could not map seed onto a valid scalar")
}
