package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/keispace/crdtsync/internal/core/domain"
)

// crcSize is the size of the record checksum.
const crcSize = 4

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
)

var msgpackHandle = &codec.MsgpackHandle{}

// wireRecord is the persisted body of an update record.
//
// ReceivedAt uses Unix milliseconds.
type wireRecord struct {
	Origin     string `codec:"o"`
	ReceivedAt int64  `codec:"t"`
	Payload    []byte `codec:"p"`
}

func encodeRecord(rec *domain.UpdateRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("wal: record is nil")
	}

	var body []byte
	enc := codec.NewEncoderBytes(&body, msgpackHandle)
	err := enc.Encode(&wireRecord{
		Origin:     string(rec.Origin),
		ReceivedAt: rec.ReceivedAt.UnixMilli(),
		Payload:    rec.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("wal: encode record: %w", err)
	}

	out := make([]byte, crcSize, crcSize+len(body))
	binary.BigEndian.PutUint32(out, crc32.ChecksumIEEE(body))
	return append(out, body...), nil
}

func decodeRecord(docID string, seq int64, data []byte) (*domain.UpdateRecord, error) {
	if len(data) <= crcSize {
		return nil, fmt.Errorf("%w: seq %d too short (%d bytes)", ErrCorruptedEntry, seq, len(data))
	}

	want := binary.BigEndian.Uint32(data[:crcSize])
	if got := crc32.ChecksumIEEE(data[crcSize:]); got != want {
		return nil, fmt.Errorf("%w: seq %d", ErrChecksumMismatch, seq)
	}

	var w wireRecord
	if err := codec.NewDecoderBytes(data[crcSize:], msgpackHandle).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: seq %d: %v", ErrCorruptedEntry, seq, err)
	}

	return &domain.UpdateRecord{
		DocID:      docID,
		Seq:        seq,
		Payload:    w.Payload,
		Origin:     domain.Origin(w.Origin),
		ReceivedAt: time.UnixMilli(w.ReceivedAt),
	}, nil
}
