package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/zk-keyservice/cryptoutils"
	"github.com/ruteri/zk-keyservice/msgcrypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, cryptoutils.DefaultArgon2Params, cfg.KDF)
	assert.NotNil(t, cfg.PublishLimiter())
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
kdf:
  time: 1
  memory_kib: 64
  threads: 1
cipher: xchacha20-poly1305
retention:
  max_generations: 2
  max_age: 48h
password:
  min_length: 8
  require_symbol: false
directory:
  publish_rps: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cryptoutils.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1}, cfg.KDF)
	assert.Equal(t, cryptoutils.DefaultArgon2Params, cfg.Keyring, "untouched sections keep defaults")
	assert.Equal(t, msgcrypt.XChaCha20Poly1305, cfg.Cipher)
	assert.Equal(t, 2, cfg.Retention.MaxGenerations)
	assert.Equal(t, 48*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, 8, cfg.Password.MinLength)
	assert.False(t, cfg.Password.RequireSymbol)
	assert.True(t, cfg.Password.RequireUpper)
	assert.Nil(t, cfg.PublishLimiter(), "zero rate disables limiting")

	deriver, err := cfg.Deriver()
	require.NoError(t, err)
	assert.Equal(t, cfg.KDF, deriver.Params())

	cryptor, err := cfg.Cryptor()
	require.NoError(t, err)
	assert.Equal(t, msgcrypt.XChaCha20Poly1305, cryptor.Cipher())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown cipher", "cipher: rot13\n"},
		{"zero kdf time", "kdf: {time: 0, memory_kib: 64, threads: 1}\n"},
		{"negative retention", "retention: {max_generations: -1}\n"},
		{"empty password policy", "password: {min_length: 0}\n"},
		{"malformed yaml", "kdf: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvCipher, string(msgcrypt.ChaCha20Poly1305))
	t.Setenv(EnvKDFMemoryKiB, "128")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, msgcrypt.ChaCha20Poly1305, cfg.Cipher)
	assert.Equal(t, uint32(128), cfg.KDF.MemoryKiB)

	t.Setenv(EnvKDFMemoryKiB, "lots")
	_, err = Load("")
	assert.Error(t, err)
}
