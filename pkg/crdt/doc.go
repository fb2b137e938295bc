// Package crdt implements a small op-based replicated document.
//
// A document is a set of named root containers (maps and lists). Every
// change is an operation identified by (replica, seq) and stamped with a
// Lamport clock. Merging two documents is the union of their operation sets,
// which makes it commutative, associative and idempotent.
//
// Map keys are last-writer-wins registers ordered by (clock, replica).
// Counter keys accumulate add deltas on top of the winning register value.
// Lists order appended values by (clock, replica).
//
// Payloads are opaque to callers: updates, full states and state vectors
// are framed msgpack documents.
package crdt

import (
	"sync"

	"github.com/keispace/crdtsync/pkg/doctree"
)

// Doc is a replicated document. It is safe for concurrent use.
type Doc struct {
	mu sync.RWMutex

	ops map[ID]*Op

	// contiguous holds, per replica, the highest seq such that every lower
	// seq is present. maxSeq holds the highest seq seen at all.
	contiguous Vector
	maxSeq     Vector
	clock      uint64
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{
		ops:        make(map[ID]*Op),
		contiguous: make(Vector),
		maxSeq:     make(Vector),
	}
}

// Apply merges an update (or a full state) into the document.
func (d *Doc) Apply(payload []byte) error {
	ops, err := DecodeUpdate(payload)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range ops {
		d.insert(&ops[i])
	}
	return nil
}

func (d *Doc) insert(op *Op) {
	id := op.ID()
	if _, ok := d.ops[id]; ok {
		return
	}
	d.ops[id] = op

	if op.Clock > d.clock {
		d.clock = op.Clock
	}
	if op.Seq > d.maxSeq[op.Replica] {
		d.maxSeq[op.Replica] = op.Seq
	}
	next := d.contiguous[op.Replica]
	for {
		if _, ok := d.ops[ID{Replica: op.Replica, Seq: next + 1}]; !ok {
			break
		}
		next++
	}
	d.contiguous[op.Replica] = next
}

// StateVector returns the encoded contiguous version vector.
func (d *Doc) StateVector() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contiguous.Encode()
}

// Vector returns a copy of the contiguous version vector.
func (d *Doc) Vector() Vector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v := make(Vector, len(d.contiguous))
	for r, n := range d.contiguous {
		v[r] = n
	}
	return v
}

// Diff returns an update holding every op not covered by stateVector,
// or nil when there is nothing to send.
func (d *Doc) Diff(stateVector []byte) ([]byte, error) {
	sv, err := DecodeVector(stateVector)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	var ops []Op
	for id, op := range d.ops {
		if id.Seq > sv[id.Replica] {
			ops = append(ops, *op)
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return EncodeUpdate(ops), nil
}

// FullState returns the whole document as a single update.
func (d *Doc) FullState() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ops := make([]Op, 0, len(d.ops))
	for _, op := range d.ops {
		ops = append(ops, *op)
	}
	return EncodeUpdate(ops)
}

// Len returns the number of ops held.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ops)
}

// Project returns the tree view of the document.
func (d *Doc) Project() doctree.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return project(d.ops)
}
