package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Document constraints.
const (
	MaxDocIDLength = 128

	// ReplicaIDPrefix is the prefix for generated replica IDs.
	ReplicaIDPrefix = "csrp-"
)

// Origin records where an update record came from.
type Origin string

const (
	// OriginLocal marks an edit made on this node.
	OriginLocal Origin = "local"
	// OriginRemote marks an update pushed to this node by a peer or client.
	OriginRemote Origin = "remote"
	// OriginPull marks a diff fetched from a peer during a sync round.
	OriginPull Origin = "pull"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginLocal, OriginRemote, OriginPull:
		return true
	default:
		return false
	}
}

// ParseOrigin converts s to an Origin. An empty string maps to OriginRemote,
// which is what the update endpoint assumes for unlabelled submissions.
func ParseOrigin(s string) (Origin, error) {
	if s == "" {
		return OriginRemote, nil
	}
	o := Origin(strings.ToLower(s))
	if !o.Valid() {
		return "", ErrInvalidArgument.WithDetails("unknown origin: " + s)
	}
	return o, nil
}

// UpdateRecord is one incremental change stored in the update log.
// Records are immutable once written.
type UpdateRecord struct {
	DocID      string
	Seq        int64
	Payload    []byte
	Origin     Origin
	ReceivedAt time.Time
}

// SnapshotRecord is the merged state of a document up to LastSeq.
type SnapshotRecord struct {
	DocID     string
	Payload   []byte
	LastSeq   int64
	UpdatedAt time.Time
}

// CompactResult describes one compaction run.
type CompactResult struct {
	Applied         int   `json:"applied"`
	Deleted         int   `json:"deleted"`
	BeforeWatermark int64 `json:"before_last_seq"`
	AfterWatermark  int64 `json:"after_last_seq"`
	SnapshotSize    int   `json:"snapshot_bytes"`
}

// Noop reports whether the compaction folded nothing.
func (r *CompactResult) Noop() bool {
	return r.Applied == 0 && r.Deleted == 0
}

// SyncResult describes one pull-then-push round against a peer.
type SyncResult struct {
	// Local is the result of the compaction run before pulling.
	Local *CompactResult `json:"local"`

	// PulledBytes is the size of the diff received from the peer (0 if none).
	PulledBytes int `json:"pulled_bytes"`

	// PulledSeq is the local seq assigned to the pulled diff (0 if none).
	PulledSeq int64 `json:"pulled_seq"`

	// PushedBytes is the size of the diff sent to the peer (0 if none).
	PushedBytes int `json:"pushed_bytes"`

	// PushedSeq is the seq the peer assigned to the pushed diff (0 if none).
	PushedSeq int64 `json:"pushed_seq"`

	// Remote is the peer's compaction result after the push (nil if nothing pushed).
	Remote *CompactResult `json:"remote,omitempty"`
}

// InitResult describes a document (re-)initialization.
type InitResult struct {
	DocID        string `json:"doc_id"`
	LastSeq      int64  `json:"seq"`
	SnapshotSize int    `json:"snapshot_bytes"`
}

// ValidateDocID checks a document identifier.
// IDs are used inside storage keys, so NUL and '/' are rejected.
func ValidateDocID(id string) error {
	if id == "" {
		return ErrInvalidDocID.WithDetails("document id is required")
	}
	if len(id) > MaxDocIDLength {
		return ErrInvalidDocID.WithDetails("document id too long")
	}
	if strings.ContainsAny(id, "\x00/") {
		return ErrInvalidDocID.WithDetails("document id contains reserved characters")
	}
	return nil
}

// GenerateReplicaID returns a new replica identifier: csrp-{ulid_lowercase}.
func GenerateReplicaID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return ReplicaIDPrefix + strings.ToLower(id.String())
}
