package crdt

import (
	"fmt"

	"github.com/keispace/crdtsync/pkg/doctree"
)

// OpKind enumerates operation types.
type OpKind uint8

const (
	// OpDeclare creates a named root container.
	OpDeclare OpKind = iota + 1
	// OpSet assigns a map key (last writer wins).
	OpSet
	// OpDelete removes a map key (last writer wins).
	OpDelete
	// OpAdd adds a delta to a counter key.
	OpAdd
	// OpAppend appends a value to a list.
	OpAppend
)

func (k OpKind) String() string {
	switch k {
	case OpDeclare:
		return "declare"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpAdd:
		return "add"
	case OpAppend:
		return "append"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// ContainerType is the type of a root container.
type ContainerType uint8

const (
	ContainerMap ContainerType = iota + 1
	ContainerList
)

// ID identifies an operation: the replica that created it and the
// per-replica sequence number.
type ID struct {
	Replica string
	Seq     uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Replica, id.Seq)
}

// Op is a single replicated operation.
type Op struct {
	Replica   string        `codec:"r"`
	Seq       uint64        `codec:"n"`
	Clock     uint64        `codec:"c"`
	Kind      OpKind        `codec:"k"`
	Container string        `codec:"o"`
	Type      ContainerType `codec:"x,omitempty"`
	Key       string        `codec:"y,omitempty"`
	Value     doctree.Value `codec:"v"`
	Delta     int64         `codec:"d,omitempty"`
}

// ID returns the op identifier.
func (o *Op) ID() ID {
	return ID{Replica: o.Replica, Seq: o.Seq}
}

// after reports whether o wins over p under (clock, replica, seq) ordering.
func (o *Op) after(p *Op) bool {
	if o.Clock != p.Clock {
		return o.Clock > p.Clock
	}
	if o.Replica != p.Replica {
		return o.Replica > p.Replica
	}
	return o.Seq > p.Seq
}

func (o *Op) validate() error {
	if o.Replica == "" {
		return fmt.Errorf("%w: op without replica", ErrMalformed)
	}
	if o.Seq == 0 {
		return fmt.Errorf("%w: op %s has zero seq", ErrMalformed, o.Replica)
	}
	if o.Clock == 0 {
		return fmt.Errorf("%w: op %s has zero clock", ErrMalformed, o.ID())
	}
	if o.Container == "" {
		return fmt.Errorf("%w: op %s has no container", ErrMalformed, o.ID())
	}
	switch o.Kind {
	case OpDeclare:
		if o.Type != ContainerMap && o.Type != ContainerList {
			return fmt.Errorf("%w: op %s declares unknown container type %d", ErrMalformed, o.ID(), o.Type)
		}
	case OpSet, OpDelete, OpAdd:
		if o.Key == "" {
			return fmt.Errorf("%w: %s op %s has no key", ErrMalformed, o.Kind, o.ID())
		}
	case OpAppend:
	default:
		return fmt.Errorf("%w: op %s has unknown kind %d", ErrMalformed, o.ID(), o.Kind)
	}
	if o.Value.Type > doctree.TypeString {
		return fmt.Errorf("%w: op %s has unknown value type %d", ErrMalformed, o.ID(), o.Value.Type)
	}
	return nil
}
