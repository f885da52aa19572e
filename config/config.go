// Package config loads the key service policy file. Every value has a
// default, so a missing file or a partial one is fine.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/keyderive"
	"github.com/ruteri/zk-keyservice/keystore"
	"github.com/ruteri/zk-keyservice/msgcrypt"
	"github.com/ruteri/zk-keyservice/ratelimiter"
	"gopkg.in/yaml.v3"
)

const (
	EnvCipher       = "ZK_KEYSERVICE_CIPHER"
	EnvKDFMemoryKiB = "ZK_KEYSERVICE_KDF_MEMORY_KIB"
)

type Config struct {
	// KDF is the cost of deriving a key pair from a password.
	KDF cryptoutils.Argon2Params `yaml:"kdf"`
	// Keyring is the cost of sealing the local keyring blob.
	Keyring   cryptoutils.Argon2Params `yaml:"keyring"`
	Password  keyderive.Policy         `yaml:"password"`
	Retention keystore.Policy          `yaml:"retention"`
	Cipher    msgcrypt.Cipher          `yaml:"cipher"`

	RederiveHistory int             `yaml:"rederive_history"`
	Directory       DirectoryConfig `yaml:"directory"`
}

type DirectoryConfig struct {
	PublishRPS   float64       `yaml:"publish_rps"`
	PublishBurst int           `yaml:"publish_burst"`
	IdleTTL      time.Duration `yaml:"idle_ttl"`
}

func Default() *Config {
	return &Config{
		KDF:             cryptoutils.DefaultArgon2Params,
		Keyring:         cryptoutils.DefaultArgon2Params,
		Password:        keyderive.DefaultPolicy,
		Retention:       keystore.DefaultPolicy,
		Cipher:          msgcrypt.DefaultCipher,
		RederiveHistory: 1,
		Directory: DirectoryConfig{
			PublishRPS:   0.2,
			PublishBurst: 5,
			IdleTTL:      10 * time.Minute,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnvOverrides() error {
	if cipher := strings.TrimSpace(os.Getenv(EnvCipher)); cipher != "" {
		c.Cipher = msgcrypt.Cipher(cipher)
	}
	if raw := strings.TrimSpace(os.Getenv(EnvKDFMemoryKiB)); raw != "" {
		mem, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvKDFMemoryKiB, err)
		}
		c.KDF.MemoryKiB = uint32(mem)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.KDF.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kdf: %w", err))
	}
	if err := c.Keyring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("keyring: %w", err))
	}
	if c.Password.MinLength < 1 {
		errs = append(errs, errors.New("password: min_length must be positive"))
	}
	if c.Retention.MaxGenerations < 0 || c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention: limits must not be negative"))
	}
	if !c.Cipher.Valid() {
		errs = append(errs, fmt.Errorf("cipher: unsupported %q", c.Cipher))
	}
	if c.RederiveHistory < 0 {
		errs = append(errs, errors.New("rederive_history must not be negative"))
	}
	if c.Directory.PublishRPS < 0 || c.Directory.PublishBurst < 0 {
		errs = append(errs, errors.New("directory: rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Deriver() (*keyderive.Deriver, error) {
	return keyderive.NewDeriver(c.KDF, c.Password)
}

func (c *Config) Cryptor() (*msgcrypt.Cryptor, error) {
	return msgcrypt.New(c.Cipher)
}

func (c *Config) Store(log *slog.Logger) *keystore.Store {
	return keystore.New(c.Retention, log)
}

// PublishLimiter is nil, meaning unlimited, when the rate is zero.
func (c *Config) PublishLimiter() *ratelimiter.KeyLimiter {
	return ratelimiter.New(c.Directory.PublishRPS, c.Directory.PublishBurst, c.Directory.IdleTTL)
}
