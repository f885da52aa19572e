package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/zk-keyservice/interfaces"
)

// VaultBackend implements a storage backend on a HashiCorp Vault KV v2
// mount. Blobs are stored base64-encoded under a "content" field.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "zk-keyservice")
//   - token: Vault token; empty means VAULT_TOKEN from the environment
//   - clientCert: optional TLS client certificate for cert auth listeners
//   - log: Structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath, token string, clientCert *tls.Certificate, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}

	if clientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{*clientCert}},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(config.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) secretPath(kind string, key interfaces.BlobKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, key), nil
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, key), nil
}

// Get reads the latest version of the secret stored under key.
func (b *VaultBackend) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	start := time.Now()
	path, err := b.secretPath("data", key)
	if err != nil {
		return nil, err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		b.log.Debug("Blob not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", path)
	}

	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data at %s: %w", path, err)
	}

	b.log.Debug("Fetched blob from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return decoded, nil
}

// Put writes a new version of the secret under key.
func (b *VaultBackend) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	start := time.Now()
	path, err := b.secretPath("data", key)
	if err != nil {
		return err
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored blob in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Delete removes every version and the metadata of the secret under key.
func (b *VaultBackend) Delete(ctx context.Context, key interfaces.BlobKey) error {
	path, err := b.secretPath("metadata", key)
	if err != nil {
		return err
	}

	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		b.log.Error("Failed to delete from Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
