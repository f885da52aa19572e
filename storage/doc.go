// Package storage provides BlobStore backends for opaque, mutable blobs:
// sealed keyrings, user profiles and directory documents.
//
// Backends:
//
//   - FileBackend for local state (one file per key, atomic replace)
//   - MemoryBackend for tests and single-process demos
//   - S3Backend for S3-compatible object storage
//   - VaultBackend for HashiCorp Vault KV v2
//   - MultiStorageBackend for redundancy across several of the above
//
// # Storage URI Format
//
// Backends are configured with URIs:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// For example:
//
//   - file:///var/lib/zk-keyservice
//   - file://./keyctl-data
//   - s3://ACCESS:SECRET@bucket/prefix?region=eu-west-1&endpoint=http://minio:9000
//   - vault://vault.example.com:8200/secret/zk?tls=true
//   - memory://scratch
//
// The stores never see plaintext key material; the key store seals blobs
// before handing them over.
//
// # Multi-backend
//
// MultiStorageBackend writes to every available backend and reads from the
// first that has the key. A read fails with ErrContentNotFound only if every
// backend answered "not found"; any other failure makes it
// ErrBackendUnavailable.
package storage
