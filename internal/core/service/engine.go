package service

import (
	"fmt"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/pkg/crdt"
	"github.com/keispace/crdtsync/pkg/doctree"
)

// Document is one in-memory replica of a document.
//
// Payloads and state vectors are opaque to the services.
type Document interface {
	// Apply merges an update. Applying the same update twice, or updates
	// in any order, yields the same state.
	Apply(payload []byte) error

	// StateVector summarizes everything the document knows.
	StateVector() []byte

	// Diff returns the update holding everything the document knows beyond
	// stateVector, or nil when there is nothing new.
	Diff(stateVector []byte) ([]byte, error)

	// FullState is the diff against an empty state vector.
	FullState() []byte

	// Project returns a read-only tree view of the document.
	Project() doctree.Node
}

// Engine creates documents and checks payloads.
type Engine interface {
	// NewDocument returns an empty document.
	NewDocument() Document

	// Validate reports whether payload is a well-formed update.
	Validate(payload []byte) error

	// Genesis returns the full state of the initial document shape.
	Genesis() ([]byte, error)
}

// MutationKind selects a server-side edit.
type MutationKind string

const (
	// MutationIncrement adds Delta to the counter at Key.
	MutationIncrement MutationKind = "increment"
	// MutationSet overwrites the field at Key with Value.
	MutationSet MutationKind = "set"
	// MutationAppend appends Value to the item list.
	MutationAppend MutationKind = "append"
)

// Mutation is a server-side edit of a document.
type Mutation struct {
	Kind  MutationKind
	Key   string
	Delta int64
	Value doctree.Value
}

// Mutator is implemented by engines that can turn a Mutation into an
// update payload. writer identifies the editing replica.
type Mutator interface {
	Mutate(doc Document, writer string, m Mutation) ([]byte, error)
}

// crdtEngine adapts pkg/crdt to Engine and Mutator.
type crdtEngine struct {
	engine *crdt.Engine
}

// NewCRDTEngine returns the op-based CRDT engine. A nil shape selects
// crdt.DefaultShape.
func NewCRDTEngine(shape crdt.Shape) Engine {
	return &crdtEngine{engine: crdt.NewEngine(shape)}
}

func (e *crdtEngine) NewDocument() Document {
	return e.engine.NewDoc()
}

func (e *crdtEngine) Validate(payload []byte) error {
	return e.engine.Validate(payload)
}

func (e *crdtEngine) Genesis() ([]byte, error) {
	return e.engine.Genesis()
}

func (e *crdtEngine) Mutate(doc Document, writer string, m Mutation) ([]byte, error) {
	d, ok := doc.(*crdt.Doc)
	if !ok {
		return nil, domain.ErrInternal.WithDetails(fmt.Sprintf("unexpected document type %T", doc))
	}

	update, err := d.Edit(writer, func(tx *crdt.Tx) error {
		switch m.Kind {
		case MutationIncrement:
			key := m.Key
			if key == "" {
				key = crdt.CountKey
			}
			return tx.Add(crdt.RootContainer, key, m.Delta)
		case MutationSet:
			if m.Key == "" {
				return domain.ErrMissingArgument.WithDetails("field key is required")
			}
			return tx.Set(crdt.RootContainer, m.Key, m.Value)
		case MutationAppend:
			return tx.Append(crdt.ItemsContainer, m.Value)
		default:
			return domain.ErrInvalidArgument.WithDetails("unknown mutation: " + string(m.Kind))
		}
	})
	if err != nil {
		if domain.IsDomainError(err, "") {
			return nil, err
		}
		// Undeclared containers and type clashes mean the document was
		// never initialized with the expected shape.
		return nil, domain.ErrDocNotInitialized.Wrap(err)
	}
	return update, nil
}
