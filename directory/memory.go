package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// Memory is an in-process directory. It backs the fixture key service and
// tests, and is a valid store for a throwaway directory server.
type Memory struct {
	mu      sync.RWMutex
	records map[interfaces.UserID]recordSet
	now     func() time.Time
	log     *slog.Logger
}

func NewMemory(now func() time.Time, log *slog.Logger) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		records: make(map[interfaces.UserID]recordSet),
		now:     now,
		log:     log,
	}
}

func (d *Memory) PublishPublicKey(ctx context.Context, userID interfaces.UserID, deviceID interfaces.DeviceID, record interfaces.KeyRecord) error {
	record, err := checkPublish(userID, deviceID, record)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	updated, changed, err := d.records[userID].publish(record)
	if err != nil {
		return err
	}
	d.records[userID] = updated
	if changed {
		d.log.Debug("Published public key",
			slog.String("userID", string(userID)),
			slog.Uint64("generation", record.Generation),
			slog.String("fingerprint", record.PublicKey.Fingerprint()))
	}
	return nil
}

func (d *Memory) FetchPublicKey(ctx context.Context, userID interfaces.UserID) (*interfaces.KeyRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[userID].latest()
	if !ok {
		return nil, fmt.Errorf("%w: no keys for %q", interfaces.ErrNotFound, userID)
	}
	return record, nil
}

func (d *Memory) FetchPublicKeyGeneration(ctx context.Context, userID interfaces.UserID, generation uint64) (*interfaces.KeyRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[userID].generation(generation)
	if !ok {
		return nil, fmt.Errorf("%w: generation %d for %q", interfaces.ErrNotFound, generation, userID)
	}
	return record, nil
}

func (d *Memory) RevokePublicKey(ctx context.Context, userID interfaces.UserID, generation uint64, proof []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated, changed, err := d.records[userID].revoke(userID, generation, proof, d.now())
	if err != nil {
		return err
	}
	d.records[userID] = updated
	if changed {
		d.log.Info("Revoked public key",
			slog.String("userID", string(userID)),
			slog.Uint64("generation", generation))
	}
	return nil
}
