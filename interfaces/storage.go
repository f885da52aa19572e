package interfaces

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// BlobKey addresses a mutable blob in a BlobStore, e.g. "keyrings/YWxpY2U".
// Keys are slash-separated segments of [A-Za-z0-9._-].
type BlobKey string

var blobKeySegment = regexp.MustCompile(`^[A-Za-z0-9_\-][A-Za-z0-9._\-]*$`)

// BlobKeyFor builds a key in namespace for an arbitrary identifier.
// The identifier is base64url-encoded so it is always a single safe segment.
func BlobKeyFor(namespace string, id string) BlobKey {
	return BlobKey(namespace + "/" + base64.RawURLEncoding.EncodeToString([]byte(id)))
}

func (k BlobKey) Validate() error {
	if k == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidBlobKey)
	}
	for _, segment := range strings.Split(string(k), "/") {
		if !blobKeySegment.MatchString(segment) {
			return fmt.Errorf("%w: bad segment %q", ErrInvalidBlobKey, segment)
		}
	}
	return nil
}

func (k BlobKey) String() string {
	return string(k)
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "vault", "memory":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	ErrInvalidBlobKey = errors.New("invalid blob key")
)

// BlobStore is the opaque persistence collaborator. The core never
// interprets where or how blobs are kept; at-rest protection of key
// material is applied before a blob reaches the store.
type BlobStore interface {
	// Get returns ErrContentNotFound when nothing is stored under key.
	Get(ctx context.Context, key BlobKey) ([]byte, error)

	// Put replaces whatever is stored under key.
	Put(ctx context.Context, key BlobKey, data []byte) error

	// Delete is idempotent; deleting a missing key is not an error.
	Delete(ctx context.Context, key BlobKey) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// BlobStoreFactory creates storage backends.
type BlobStoreFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, vault://, memory://
	StorageBackendFor(location StorageBackendLocation) (BlobStore, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (BlobStore, error)
}
