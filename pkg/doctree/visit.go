package doctree

// Visitor receives callbacks while a tree is walked depth-first.
//
// Enter/Leave calls are balanced; mapping children are preceded by a Key
// call carrying their key.
type Visitor interface {
	Scalar(v Value)
	EnterMapping(size int)
	Key(key string)
	LeaveMapping()
	EnterSequence(size int)
	LeaveSequence()
}

// Walk visits n and all its descendants.
func Walk(n Node, v Visitor) {
	switch n.Kind {
	case KindScalar:
		v.Scalar(n.Scalar)
	case KindMapping:
		v.EnterMapping(len(n.Mapping))
		for _, e := range n.Mapping {
			v.Key(e.Key)
			Walk(e.Value, v)
		}
		v.LeaveMapping()
	case KindSequence:
		v.EnterSequence(len(n.Sequence))
		for _, child := range n.Sequence {
			Walk(child, v)
		}
		v.LeaveSequence()
	}
}

// Render converts a tree into plain Go values suitable for encoding/json:
// map[string]any for mappings, []any for sequences and scalars as returned
// by Value.Native.
func Render(n Node) any {
	r := &renderer{}
	Walk(n, r)
	return r.result
}

// frame is one open container on the renderer stack.
type frame struct {
	mapping map[string]any
	seq     []any
	key     string
}

type renderer struct {
	stack  []*frame
	result any
}

func (r *renderer) emit(x any) {
	if len(r.stack) == 0 {
		r.result = x
		return
	}
	top := r.stack[len(r.stack)-1]
	if top.mapping != nil {
		top.mapping[top.key] = x
		return
	}
	top.seq = append(top.seq, x)
}

func (r *renderer) Scalar(v Value) { r.emit(v.Native()) }

func (r *renderer) EnterMapping(size int) {
	r.stack = append(r.stack, &frame{mapping: make(map[string]any, size)})
}

func (r *renderer) Key(key string) { r.stack[len(r.stack)-1].key = key }

func (r *renderer) LeaveMapping() {
	top := r.pop()
	r.emit(top.mapping)
}

func (r *renderer) EnterSequence(size int) {
	r.stack = append(r.stack, &frame{seq: make([]any, 0, size)})
}

func (r *renderer) LeaveSequence() {
	top := r.pop()
	r.emit(top.seq)
}

func (r *renderer) pop() *frame {
	top := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return top
}

// CountLeaves returns the number of scalar leaves in the tree.
func CountLeaves(n Node) int {
	c := &leafCounter{}
	Walk(n, c)
	return c.n
}

type leafCounter struct{ n int }

func (c *leafCounter) Scalar(Value)      { c.n++ }
func (c *leafCounter) EnterMapping(int)  {}
func (c *leafCounter) Key(string)        {}
func (c *leafCounter) LeaveMapping()     {}
func (c *leafCounter) EnterSequence(int) {}
func (c *leafCounter) LeaveSequence()    {}
