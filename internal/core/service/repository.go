package service

import (
	"context"

	"github.com/keispace/crdtsync/internal/core/domain"
)

// UpdateLog defines the storage interface for update records.
//
// Implemented by wal.Log.
type UpdateLog interface {
	// Append stores payload under the next seq of docID and returns it.
	Append(ctx context.Context, docID string, payload []byte, origin domain.Origin) (int64, error)

	// LoadSince returns the records with seq > afterSeq in ascending order.
	LoadSince(ctx context.Context, docID string, afterSeq int64) ([]domain.UpdateRecord, error)

	// DeleteUpTo removes the records with seq <= seq and returns the count.
	DeleteUpTo(ctx context.Context, docID string, seq int64) (int, error)

	// MaxSeq returns the highest seq ever assigned, 0 if none.
	MaxSeq(ctx context.Context, docID string) (int64, error)

	// Reset removes every record of docID.
	Reset(ctx context.Context, docID string) error
}

// SnapshotStore defines the storage interface for snapshot records.
//
// Implemented by snapshot.Store.
type SnapshotStore interface {
	// Get returns the snapshot, or nil when the document has none.
	Get(ctx context.Context, docID string) (*domain.SnapshotRecord, error)

	// Upsert replaces the snapshot wholesale.
	Upsert(ctx context.Context, docID string, payload []byte, lastSeq int64) error

	// Reset removes the snapshot.
	Reset(ctx context.Context, docID string) error

	// List returns the IDs of the documents holding a snapshot.
	List(ctx context.Context) ([]string, error)
}

// Recorder receives operation outcomes for metrics.
//
// Implemented by metric.Metrics.
type Recorder interface {
	UpdateAppended(origin domain.Origin, size int)
	Compacted(docID string, result *domain.CompactResult, err error)
	SyncFinished(docID string, result *domain.SyncResult, err error, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) UpdateAppended(domain.Origin, int)                       {}
func (nopRecorder) Compacted(string, *domain.CompactResult, error)          {}
func (nopRecorder) SyncFinished(string, *domain.SyncResult, error, float64) {}
