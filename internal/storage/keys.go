package storage

import (
	"encoding/binary"
	"fmt"
)

// Key layout:
//
//	u/<doc>\x00<seq:8 BE>  update record
//	q/<doc>                update sequence counter (highest seq assigned)
//	s/<doc>                snapshot record
//	m/<name>               node metadata
const (
	prefixUpdate   = "u/"
	prefixSequence = "q/"
	prefixSnapshot = "s/"
	prefixMeta     = "m/"

	docSeparator = 0x00
)

// UpdatePrefix returns the key prefix of every update record of docID.
func UpdatePrefix(docID string) []byte {
	k := make([]byte, 0, len(prefixUpdate)+len(docID)+1)
	k = append(k, prefixUpdate...)
	k = append(k, docID...)
	return append(k, docSeparator)
}

// UpdateKey returns the key of one update record. Keys of the same document
// sort by seq.
func UpdateKey(docID string, seq int64) []byte {
	return binary.BigEndian.AppendUint64(UpdatePrefix(docID), uint64(seq))
}

// ParseUpdateKey extracts the seq from an update key of docID.
func ParseUpdateKey(docID string, key []byte) (int64, error) {
	prefix := UpdatePrefix(docID)
	if len(key) != len(prefix)+8 || string(key[:len(prefix)]) != string(prefix) {
		return 0, fmt.Errorf("storage: malformed update key %q", key)
	}
	return int64(binary.BigEndian.Uint64(key[len(prefix):])), nil
}

// SequenceKey returns the key of the update sequence counter of docID.
func SequenceKey(docID string) []byte {
	return []byte(prefixSequence + docID)
}

// SnapshotKey returns the key of the snapshot record of docID.
func SnapshotKey(docID string) []byte {
	return []byte(prefixSnapshot + docID)
}

// SnapshotPrefix returns the prefix shared by every snapshot key.
func SnapshotPrefix() []byte {
	return []byte(prefixSnapshot)
}

// MetaKey returns the key of a node metadata entry.
func MetaKey(name string) []byte {
	return []byte(prefixMeta + name)
}

// EncodeSeq encodes a sequence counter value.
func EncodeSeq(seq int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(seq))
}

// DecodeSeq decodes a sequence counter value.
func DecodeSeq(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("storage: malformed sequence value (%d bytes)", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
