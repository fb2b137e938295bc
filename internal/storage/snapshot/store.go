package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/storage"
)

var magicBytes = []byte("CSSNAP")

const (
	headerVersion = 1
	checksumSize  = sha256.Size
)

// Errors for snapshot operations.
var (
	ErrCorrupted        = errors.New("snapshot: corrupted record")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
)

var msgpackHandle = &codec.MsgpackHandle{}

type wireSnapshot struct {
	LastSeq   int64  `codec:"w"`
	UpdatedAt int64  `codec:"t"` // Unix milliseconds
	Payload   []byte `codec:"p"`
}

// Store is the snapshot store. It is safe for concurrent use.
type Store struct {
	kv     storage.KVEngine
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the update-time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a snapshot store on top of kv.
func New(kv storage.KVEngine, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the snapshot of docID, or (nil, nil) when the document was
// never initialized.
func (s *Store) Get(ctx context.Context, docID string) (*domain.SnapshotRecord, error) {
	data, err := s.kv.Get(ctx, storage.SnapshotKey(docID))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("read snapshot %s: %w", docID, err))
	}

	rec, err := decode(docID, data)
	if err != nil {
		return nil, domain.ErrStorageUnavailable.Wrap(err)
	}
	return rec, nil
}

// Upsert replaces the snapshot of docID.
func (s *Store) Upsert(ctx context.Context, docID string, payload []byte, lastSeq int64) error {
	if len(payload) == 0 {
		return domain.ErrInvalidPayload.WithDetails("empty snapshot payload")
	}
	if lastSeq < 0 {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("negative watermark %d", lastSeq))
	}

	data, err := encode(&wireSnapshot{
		LastSeq:   lastSeq,
		UpdatedAt: s.now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return domain.ErrInternal.Wrap(err)
	}

	if err := s.kv.Write(ctx, storage.NewBatch().Set(storage.SnapshotKey(docID), data)); err != nil {
		return domain.ErrStorageUnavailable.Wrap(fmt.Errorf("write snapshot %s: %w", docID, err))
	}

	s.logger.Debug("snapshot stored",
		"doc_id", docID,
		"last_seq", lastSeq,
		"size", len(payload))
	return nil
}

// Reset deletes the snapshot of docID.
func (s *Store) Reset(ctx context.Context, docID string) error {
	if err := s.kv.Write(ctx, storage.NewBatch().Delete(storage.SnapshotKey(docID))); err != nil {
		return domain.ErrStorageUnavailable.Wrap(fmt.Errorf("delete snapshot %s: %w", docID, err))
	}
	return nil
}

// List returns the IDs of every document holding a snapshot, in key order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := storage.SnapshotPrefix()

	var ids []string
	err := s.kv.Scan(ctx, prefix, func(key, _ []byte) bool {
		ids = append(ids, string(key[len(prefix):]))
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("list snapshots: %w", err))
	}
	return ids, nil
}

func encode(w *wireSnapshot) ([]byte, error) {
	var body []byte
	if err := codec.NewEncoderBytes(&body, msgpackHandle).Encode(w); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}

	out := make([]byte, 0, len(magicBytes)+1+len(body)+checksumSize)
	out = append(out, magicBytes...)
	out = append(out, headerVersion)
	out = append(out, body...)

	sum := sha256.Sum256(out)
	return append(out, sum[:]...), nil
}

func decode(docID string, data []byte) (*domain.SnapshotRecord, error) {
	headerLen := len(magicBytes) + 1
	if len(data) < headerLen+checksumSize {
		return nil, fmt.Errorf("%w: %s too short (%d bytes)", ErrCorrupted, docID, len(data))
	}
	if !bytes.Equal(data[:len(magicBytes)], magicBytes) {
		return nil, fmt.Errorf("%w: %s bad magic", ErrCorrupted, docID)
	}
	if v := data[len(magicBytes)]; v != headerVersion {
		return nil, fmt.Errorf("%w: %s unsupported version %d", ErrCorrupted, docID, v)
	}

	dataLen := len(data) - checksumSize
	sum := sha256.Sum256(data[:dataLen])
	if !bytes.Equal(sum[:], data[dataLen:]) {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, docID)
	}

	var w wireSnapshot
	if err := codec.NewDecoderBytes(data[headerLen:dataLen], msgpackHandle).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, docID, err)
	}

	return &domain.SnapshotRecord{
		DocID:     docID,
		Payload:   w.Payload,
		LastSeq:   w.LastSeq,
		UpdatedAt: time.UnixMilli(w.UpdatedAt),
	}, nil
}
