package interfaces

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	publishDomain    = "zk-keyservice/publish/v1"
	revocationDomain = "zk-keyservice/revoke/v1"
)

type digestWriter struct {
	buf []byte
}

func newDigestWriter(domain string) *digestWriter {
	w := &digestWriter{}
	w.field([]byte(domain))
	return w
}

func (w *digestWriter) field(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *digestWriter) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *digestWriter) sum() []byte {
	sum := sha256.Sum256(w.buf)
	return sum[:]
}

// PublishDigest is what the signature of a published record covers. The
// device id, signature and revocation stamp are not part of it.
func (r KeyRecord) PublishDigest() []byte {
	w := newDigestWriter(publishDomain)
	w.field([]byte(r.UserID))
	w.u64(r.Generation)
	w.u64(uint64(r.Scheme))
	w.field([]byte(r.PublicKey.Curve))
	w.field(r.PublicKey.Bytes)
	w.u64(uint64(r.CreatedAt.Unix()))
	w.u64(uint64(r.CreatedAt.Nanosecond()))
	return w.sum()
}

// RevocationDigest is what a revocation proof signs.
func RevocationDigest(userID UserID, generation uint64) []byte {
	w := newDigestWriter(revocationDomain)
	w.field([]byte(userID))
	w.u64(generation)
	return w.sum()
}

// SignRecord sets record.Signature using this pair's private key. A record
// for the first live generation is signed by its own pair; every later one
// by the pair currently live in the directory.
func (p *KeyPair) SignRecord(record *KeyRecord) error {
	sig, err := p.Private.Sign(record.PublishDigest())
	if err != nil {
		return fmt.Errorf("failed to sign generation %d: %w", record.Generation, err)
	}
	record.Signature = sig
	return nil
}

// SignRevocation returns the proof RevokePublicKey requires for generation.
func (p *KeyPair) SignRevocation(userID UserID, generation uint64) ([]byte, error) {
	sig, err := p.Private.Sign(RevocationDigest(userID, generation))
	if err != nil {
		return nil, fmt.Errorf("failed to sign revocation of generation %d: %w", generation, err)
	}
	return sig, nil
}

// SignedRecord is Record plus a self-signature, the form for a user's first
// live generation.
func (p *KeyPair) SignedRecord(userID UserID, deviceID DeviceID) (KeyRecord, error) {
	record := p.Record(userID, deviceID)
	if err := p.SignRecord(&record); err != nil {
		return KeyRecord{}, err
	}
	return record, nil
}
