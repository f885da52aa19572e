package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/zk-keyservice/interfaces"
)

const blobNamespace = "directory"

// Persistent keeps one JSON document per user in a BlobStore, so a
// directory server can sit on top of files, S3 or Vault. Writes are
// serialized in-process; running several servers against one bucket is not
// supported.
type Persistent struct {
	mu    sync.Mutex
	blobs interfaces.BlobStore
	now   func() time.Time
	log   *slog.Logger
}

func NewPersistent(blobs interfaces.BlobStore, now func() time.Time, log *slog.Logger) *Persistent {
	if now == nil {
		now = time.Now
	}
	return &Persistent{blobs: blobs, now: now, log: log}
}

type userDocument struct {
	UserID  interfaces.UserID      `json:"user_id"`
	Records []interfaces.KeyRecord `json:"records"`
}

func (d *Persistent) load(ctx context.Context, userID interfaces.UserID) (recordSet, error) {
	data, err := d.blobs.Get(ctx, interfaces.BlobKeyFor(blobNamespace, string(userID)))
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDirectoryUnavailable, err)
	}

	var doc userDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: corrupt record for %q: %v", interfaces.ErrDirectoryUnavailable, userID, err)
	}
	return recordSet(doc.Records), nil
}

func (d *Persistent) store(ctx context.Context, userID interfaces.UserID, records recordSet) error {
	data, err := json.Marshal(userDocument{UserID: userID, Records: records})
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := d.blobs.Put(ctx, interfaces.BlobKeyFor(blobNamespace, string(userID)), data); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrDirectoryUnavailable, err)
	}
	return nil
}

func (d *Persistent) PublishPublicKey(ctx context.Context, userID interfaces.UserID, deviceID interfaces.DeviceID, record interfaces.KeyRecord) error {
	record, err := checkPublish(userID, deviceID, record)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.load(ctx, userID)
	if err != nil {
		return err
	}
	updated, changed, err := records.publish(record)
	if err != nil || !changed {
		return err
	}
	if err := d.store(ctx, userID, updated); err != nil {
		d.log.Error("Failed to persist published key",
			slog.String("userID", string(userID)),
			slog.Uint64("generation", record.Generation),
			"err", err)
		return err
	}

	d.log.Info("Published public key",
		slog.String("userID", string(userID)),
		slog.Uint64("generation", record.Generation),
		slog.String("fingerprint", record.PublicKey.Fingerprint()))
	return nil
}

func (d *Persistent) FetchPublicKey(ctx context.Context, userID interfaces.UserID) (*interfaces.KeyRecord, error) {
	records, err := d.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	record, ok := records.latest()
	if !ok {
		return nil, fmt.Errorf("%w: no keys for %q", interfaces.ErrNotFound, userID)
	}
	return record, nil
}

func (d *Persistent) FetchPublicKeyGeneration(ctx context.Context, userID interfaces.UserID, generation uint64) (*interfaces.KeyRecord, error) {
	records, err := d.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	record, ok := records.generation(generation)
	if !ok {
		return nil, fmt.Errorf("%w: generation %d for %q", interfaces.ErrNotFound, generation, userID)
	}
	return record, nil
}

func (d *Persistent) RevokePublicKey(ctx context.Context, userID interfaces.UserID, generation uint64, proof []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.load(ctx, userID)
	if err != nil {
		return err
	}
	updated, changed, err := records.revoke(userID, generation, proof, d.now())
	if err != nil || !changed {
		return err
	}
	if err := d.store(ctx, userID, updated); err != nil {
		return err
	}

	d.log.Info("Revoked public key",
		slog.String("userID", string(userID)),
		slog.Uint64("generation", generation))
	return nil
}
