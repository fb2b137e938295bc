package crdt

import (
	"sort"

	"github.com/keispace/crdtsync/pkg/doctree"
)

type keyState struct {
	register *Op // winning set or delete
	adds     []*Op
}

type containerState struct {
	decl   *Op
	keys   map[string]*keyState
	values []*Op
}

func project(ops map[ID]*Op) doctree.Node {
	containers := make(map[string]*containerState)
	get := func(name string) *containerState {
		c, ok := containers[name]
		if !ok {
			c = &containerState{keys: make(map[string]*keyState)}
			containers[name] = c
		}
		return c
	}

	for _, op := range ops {
		c := get(op.Container)
		switch op.Kind {
		case OpDeclare:
			if c.decl == nil || op.after(c.decl) {
				c.decl = op
			}
		case OpSet, OpDelete:
			ks := c.key(op.Key)
			if ks.register == nil || op.after(ks.register) {
				ks.register = op
			}
		case OpAdd:
			ks := c.key(op.Key)
			ks.adds = append(ks.adds, op)
		case OpAppend:
			c.values = append(c.values, op)
		}
	}

	entries := make([]doctree.Entry, 0, len(containers))
	for name, c := range containers {
		// ops against a container nobody declared stay invisible until the
		// declaring op arrives
		if c.decl == nil {
			continue
		}
		var node doctree.Node
		if c.decl.Type == ContainerList {
			node = c.list()
		} else {
			node = c.mapping()
		}
		entries = append(entries, doctree.Entry{Key: name, Value: node})
	}
	return doctree.Mapping(entries...)
}

func (c *containerState) key(k string) *keyState {
	ks, ok := c.keys[k]
	if !ok {
		ks = &keyState{}
		c.keys[k] = ks
	}
	return ks
}

func (c *containerState) mapping() doctree.Node {
	entries := make([]doctree.Entry, 0, len(c.keys))
	for k, ks := range c.keys {
		v, ok := ks.value()
		if !ok {
			continue
		}
		entries = append(entries, doctree.Entry{Key: k, Value: doctree.Scalar(v)})
	}
	return doctree.Mapping(entries...)
}

func (c *containerState) list() doctree.Node {
	sorted := make([]*Op, len(c.values))
	copy(sorted, c.values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[j].after(sorted[i]) })

	items := make([]doctree.Node, 0, len(sorted))
	for _, op := range sorted {
		items = append(items, doctree.Scalar(op.Value))
	}
	return doctree.Sequence(items...)
}

// value resolves a map key. Adds ordered after the winning register are
// summed on top of its integer value; earlier adds were overwritten by it.
func (ks *keyState) value() (doctree.Value, bool) {
	var (
		sum     int64
		counted bool
	)
	for _, add := range ks.adds {
		if ks.register == nil || add.after(ks.register) {
			sum += add.Delta
			counted = true
		}
	}

	reg := ks.register
	switch {
	case reg == nil:
		return doctree.Int(sum), counted
	case reg.Kind == OpDelete:
		if !counted {
			return doctree.Value{}, false
		}
		return doctree.Int(sum), true
	case !counted:
		return reg.Value, true
	case reg.Value.Type == doctree.TypeInt:
		return doctree.Int(reg.Value.Int + sum), true
	default:
		return doctree.Int(sum), true
	}
}
