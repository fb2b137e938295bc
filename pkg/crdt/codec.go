package crdt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// ErrMalformed is returned for payloads that cannot be decoded.
var ErrMalformed = errors.New("crdt: malformed payload")

const formatVersion = 1

var (
	updateMagic = []byte{'c', 'u', formatVersion}
	vectorMagic = []byte{'c', 'v', formatVersion}
)

var msgpackHandle = &codec.MsgpackHandle{}

type updateBody struct {
	Ops []Op `codec:"ops"`
}

type vectorEntry struct {
	Replica string `codec:"r"`
	Seq     uint64 `codec:"n"`
}

type vectorBody struct {
	Entries []vectorEntry `codec:"sv"`
}

func encodeFramed(magic []byte, v any) []byte {
	var body []byte
	enc := codec.NewEncoderBytes(&body, msgpackHandle)
	// encoding plain structs into a byte slice cannot fail
	enc.MustEncode(v)

	out := make([]byte, 0, len(magic)+len(body))
	out = append(out, magic...)
	return append(out, body...)
}

func decodeFramed(magic, data []byte, v any) error {
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return fmt.Errorf("%w: bad header", ErrMalformed)
	}
	dec := codec.NewDecoderBytes(data[len(magic):], msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// sortOps orders ops by (replica, seq) so encodings are deterministic.
func sortOps(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Replica != ops[j].Replica {
			return ops[i].Replica < ops[j].Replica
		}
		return ops[i].Seq < ops[j].Seq
	})
}

// EncodeUpdate encodes a set of ops as an update payload.
func EncodeUpdate(ops []Op) []byte {
	sorted := make([]Op, len(ops))
	copy(sorted, ops)
	sortOps(sorted)
	return encodeFramed(updateMagic, &updateBody{Ops: sorted})
}

// DecodeUpdate decodes and validates an update payload.
func DecodeUpdate(data []byte) ([]Op, error) {
	var body updateBody
	if err := decodeFramed(updateMagic, data, &body); err != nil {
		return nil, err
	}
	for i := range body.Ops {
		if err := body.Ops[i].validate(); err != nil {
			return nil, err
		}
	}
	return body.Ops, nil
}

// Vector maps replica IDs to the highest contiguous seq known for them.
type Vector map[string]uint64

// Encode returns the wire form of the vector.
func (v Vector) Encode() []byte {
	entries := make([]vectorEntry, 0, len(v))
	for r, n := range v {
		entries = append(entries, vectorEntry{Replica: r, Seq: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Replica < entries[j].Replica })
	return encodeFramed(vectorMagic, &vectorBody{Entries: entries})
}

// DecodeVector parses a state vector. Empty input is the empty vector.
func DecodeVector(data []byte) (Vector, error) {
	if len(data) == 0 {
		return Vector{}, nil
	}
	var body vectorBody
	if err := decodeFramed(vectorMagic, data, &body); err != nil {
		return nil, err
	}
	v := make(Vector, len(body.Entries))
	for _, e := range body.Entries {
		if e.Replica == "" {
			return nil, fmt.Errorf("%w: vector entry without replica", ErrMalformed)
		}
		v[e.Replica] = e.Seq
	}
	return v, nil
}
