package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a storage backend from a location.
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000
//   - vault://host:8200/mount/path?tls=false (token from VAULT_TOKEN unless ?token= is set)
//   - memory://name
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.BlobStore, error) {
	switch location.Scheme {
	case "s3":
		return sf.createS3Backend(location)
	case "file":
		return sf.createFileBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	case "memory":
		return NewMemoryBackend(location.Host, sf.log), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Invalid locations are logged and skipped; at least one must succeed.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.BlobStore, error) {
	backends := make([]interfaces.BlobStore, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// FromURIs parses raw URI strings and builds a (multi) backend from them.
func (sf *StorageBackendFactory) FromURIs(uris []string) (interfaces.BlobStore, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return sf.CreateMultiBackend(locations)
}

func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.BlobStore, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", location.Host))

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if location.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(location.Auth, ":")
	} else {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	return NewS3Backend(location.Host, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.BlobStore, error) {
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	sf.log.Debug("Creating file backend", slog.String("path", path))
	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.BlobStore, error) {
	segments := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if segments[0] == "" {
		return nil, fmt.Errorf("%w: vault URI needs a mount path, e.g. vault://host:8200/secret/zk", interfaces.ErrInvalidLocationURI)
	}
	mountPath := segments[0]
	dataPath := ""
	if len(segments) == 2 {
		dataPath = segments[1]
	}

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}
	address := ""
	if location.Host != "" {
		address = fmt.Sprintf("%s://%s", scheme, location.Host)
	}

	sf.log.Debug("Creating Vault backend",
		slog.String("address", address),
		slog.String("mount", mountPath))
	return NewVaultBackend(address, mountPath, dataPath, location.GetParam("token"), nil, sf.log)
}
