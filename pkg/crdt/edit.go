package crdt

import (
	"errors"
	"fmt"

	"github.com/keispace/crdtsync/pkg/doctree"
)

// Edit errors.
var (
	ErrNoReplica        = errors.New("crdt: replica id required")
	ErrUnknownContainer = errors.New("crdt: unknown container")
	ErrContainerType    = errors.New("crdt: wrong container type")
)

// Tx collects the operations of one edit.
type Tx struct {
	doc      *Doc
	replica  string
	seq      uint64
	clock    uint64
	ops      []Op
	declared map[string]ContainerType // containers declared by this tx
}

// Edit runs fn against the document on behalf of replica. When fn succeeds
// the generated ops are applied locally and returned as an update payload;
// nil is returned when fn generated nothing. When fn fails nothing is
// applied.
func (d *Doc) Edit(replica string, fn func(tx *Tx) error) ([]byte, error) {
	if replica == "" {
		return nil, ErrNoReplica
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &Tx{
		doc:      d,
		replica:  replica,
		seq:      d.maxSeq[replica],
		clock:    d.clock,
		declared: make(map[string]ContainerType),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if len(tx.ops) == 0 {
		return nil, nil
	}
	for i := range tx.ops {
		d.insert(&tx.ops[i])
	}
	return EncodeUpdate(tx.ops), nil
}

func (tx *Tx) next(op Op) {
	tx.seq++
	tx.clock++
	op.Replica = tx.replica
	op.Seq = tx.seq
	op.Clock = tx.clock
	tx.ops = append(tx.ops, op)
}

// containerType returns the effective type of a container, taking ops of
// this transaction into account. Caller holds the document lock.
func (tx *Tx) containerType(name string) (ContainerType, bool) {
	if t, ok := tx.declared[name]; ok {
		return t, true
	}
	var winner *Op
	for _, op := range tx.doc.ops {
		if op.Kind == OpDeclare && op.Container == name {
			if winner == nil || op.after(winner) {
				winner = op
			}
		}
	}
	if winner == nil {
		return 0, false
	}
	return winner.Type, true
}

func (tx *Tx) expect(name string, want ContainerType) error {
	t, ok := tx.containerType(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContainer, name)
	}
	if t != want {
		return fmt.Errorf("%w: %q", ErrContainerType, name)
	}
	return nil
}

// Declare creates a root container. Declaring an existing container with
// the same type is a no-op.
func (tx *Tx) Declare(name string, t ContainerType) error {
	if name == "" {
		return fmt.Errorf("%w: empty container name", ErrUnknownContainer)
	}
	if t != ContainerMap && t != ContainerList {
		return fmt.Errorf("%w: %d", ErrContainerType, t)
	}
	if cur, ok := tx.containerType(name); ok && cur == t {
		return nil
	}
	tx.declared[name] = t
	tx.next(Op{Kind: OpDeclare, Container: name, Type: t})
	return nil
}

// Set assigns key in a map container.
func (tx *Tx) Set(container, key string, v doctree.Value) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if err := tx.expect(container, ContainerMap); err != nil {
		return err
	}
	tx.next(Op{Kind: OpSet, Container: container, Key: key, Value: v})
	return nil
}

// Delete removes key from a map container.
func (tx *Tx) Delete(container, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if err := tx.expect(container, ContainerMap); err != nil {
		return err
	}
	tx.next(Op{Kind: OpDelete, Container: container, Key: key})
	return nil
}

// Add adds delta to a counter key in a map container.
func (tx *Tx) Add(container, key string, delta int64) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if err := tx.expect(container, ContainerMap); err != nil {
		return err
	}
	tx.next(Op{Kind: OpAdd, Container: container, Key: key, Delta: delta})
	return nil
}

// Append adds v at the end of a list container.
func (tx *Tx) Append(container string, v doctree.Value) error {
	if err := tx.expect(container, ContainerList); err != nil {
		return err
	}
	tx.next(Op{Kind: OpAppend, Container: container, Value: v})
	return nil
}
