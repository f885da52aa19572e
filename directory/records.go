package directory

import (
	"fmt"
	"slices"
	"time"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// recordSet is every generation ever published for one user, kept sorted
// by generation.
type recordSet []interfaces.KeyRecord

func (s recordSet) find(generation uint64) int {
	for i := range s {
		if s[i].Generation == generation {
			return i
		}
	}
	return -1
}

// live is the highest non-revoked generation.
func (s recordSet) live() (interfaces.KeyRecord, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Revoked() {
			return s[i], true
		}
	}
	return interfaces.KeyRecord{}, false
}

// publish adds record. Re-publishing an identical key for a generation is
// a no-op; a different key for a known generation is refused. A new record
// must be signed by the live key, or by itself when nothing is live.
func (s recordSet) publish(record interfaces.KeyRecord) (recordSet, bool, error) {
	if i := s.find(record.Generation); i >= 0 {
		existing := s[i]
		if existing.PublicKey.Equal(record.PublicKey) && existing.Scheme == record.Scheme {
			return s, false, nil
		}
		return s, false, fmt.Errorf("%w: generation %d", interfaces.ErrGenerationExists, record.Generation)
	}

	signer := record.PublicKey
	if current, ok := s.live(); ok {
		signer = current.PublicKey
	}
	if !signer.VerifySignature(record.PublishDigest(), record.Signature) {
		return s, false, fmt.Errorf("%w: publish of generation %d", interfaces.ErrUnauthorized, record.Generation)
	}

	record.RevokedAt = nil
	out := append(slices.Clone(s), record)
	slices.SortFunc(out, func(a, b interfaces.KeyRecord) int {
		switch {
		case a.Generation < b.Generation:
			return -1
		case a.Generation > b.Generation:
			return 1
		}
		return 0
	})
	return out, true, nil
}

// latest is the highest non-revoked generation, else the highest revoked.
func (s recordSet) latest() (*interfaces.KeyRecord, bool) {
	if len(s) == 0 {
		return nil, false
	}
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Revoked() {
			return cloneRecord(s[i]), true
		}
	}
	return cloneRecord(s[len(s)-1]), true
}

func (s recordSet) generation(generation uint64) (*interfaces.KeyRecord, bool) {
	if i := s.find(generation); i >= 0 {
		return cloneRecord(s[i]), true
	}
	return nil, false
}

// revoke stamps RevokedAt. Revoking twice keeps the first timestamp. proof
// must verify under the live key or the revoked generation's own key.
func (s recordSet) revoke(userID interfaces.UserID, generation uint64, proof []byte, now time.Time) (recordSet, bool, error) {
	i := s.find(generation)
	if i < 0 {
		return s, false, fmt.Errorf("%w: generation %d", interfaces.ErrNotFound, generation)
	}
	if s[i].Revoked() {
		return s, false, nil
	}

	digest := interfaces.RevocationDigest(userID, generation)
	authorized := s[i].PublicKey.VerifySignature(digest, proof)
	if current, ok := s.live(); ok && !authorized {
		authorized = current.PublicKey.VerifySignature(digest, proof)
	}
	if !authorized {
		return s, false, fmt.Errorf("%w: revocation of generation %d", interfaces.ErrUnauthorized, generation)
	}

	out := slices.Clone(s)
	revokedAt := now.UTC()
	out[i].RevokedAt = &revokedAt
	return out, true, nil
}

func cloneRecord(r interfaces.KeyRecord) *interfaces.KeyRecord {
	cp := r
	cp.PublicKey.Bytes = slices.Clone(r.PublicKey.Bytes)
	cp.Signature = slices.Clone(r.Signature)
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// checkPublish validates an incoming record against the call's identifiers.
func checkPublish(userID interfaces.UserID, deviceID interfaces.DeviceID, record interfaces.KeyRecord) (interfaces.KeyRecord, error) {
	if record.UserID == "" {
		record.UserID = userID
	}
	if record.DeviceID == "" {
		record.DeviceID = deviceID
	}
	if record.UserID != userID {
		return record, fmt.Errorf("%w: record for %q published as %q", interfaces.ErrInvalidRecord, record.UserID, userID)
	}
	if err := record.Validate(); err != nil {
		return record, err
	}
	return record, nil
}
