// Package interfaces defines the types, errors and boundary interfaces shared
// by the key service packages.
//
// # Key material
//
// KeyPair holds one generation of a user's keys. Its private half is a
// cryptoutils.PrivateKey that refuses serialization; only KeyRecord, the
// server-visible projection, ever crosses the network.
//
// # Boundaries
//
// Directory is the public key directory. BlobStore is the opaque local
// persistence collaborator used by the key store and by the persistent
// directory. KeyService is the caller-facing API of a signed-in session.
//
// # Errors
//
// Every failure maps onto one of the sentinel errors in errors.go, and
// Classify collapses them into the three messages a user may see.
package interfaces
