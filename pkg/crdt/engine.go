package crdt

import (
	"fmt"

	"github.com/keispace/crdtsync/pkg/doctree"
)

// GenesisReplica is the replica ID used for the initial shape. Every node
// produces identical genesis ops, so freshly initialized documents share a
// state vector.
const GenesisReplica = "genesis"

// Default shape container and key names.
const (
	RootContainer  = "root"
	ItemsContainer = "items"
	CountKey       = "count"
	MessageKey     = "message"
)

// Shape builds the initial contents of a document.
type Shape func(tx *Tx) error

// DefaultShape is root = {count: 1, message: "hello"} and items = [].
func DefaultShape(tx *Tx) error {
	if err := tx.Declare(RootContainer, ContainerMap); err != nil {
		return err
	}
	if err := tx.Declare(ItemsContainer, ContainerList); err != nil {
		return err
	}
	if err := tx.Set(RootContainer, CountKey, doctree.Int(1)); err != nil {
		return err
	}
	return tx.Set(RootContainer, MessageKey, doctree.String("hello"))
}

// Engine creates documents and validates payloads.
type Engine struct {
	shape Shape
}

// NewEngine returns an engine whose genesis state is built by shape.
// A nil shape selects DefaultShape.
func NewEngine(shape Shape) *Engine {
	if shape == nil {
		shape = DefaultShape
	}
	return &Engine{shape: shape}
}

// NewDoc returns an empty document.
func (e *Engine) NewDoc() *Doc {
	return NewDoc()
}

// Validate reports whether payload is a well-formed update carrying at
// least one op. Full states of empty documents decode fine but are not
// accepted as updates.
func (e *Engine) Validate(payload []byte) error {
	ops, err := DecodeUpdate(payload)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return fmt.Errorf("%w: update has no ops", ErrMalformed)
	}
	return nil
}

// Genesis returns the full state of a document holding only the initial
// shape.
func (e *Engine) Genesis() ([]byte, error) {
	doc := NewDoc()
	if _, err := doc.Edit(GenesisReplica, e.shape); err != nil {
		return nil, err
	}
	return doc.FullState(), nil
}
