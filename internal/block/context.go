package block

import (
	"sort"

	"kin/internal/eval"
)

// Binding is one materialized name in a Context.
type Binding struct {
	Name  string
	Value eval.Value
	Line  int // end-marker line of the block that produced the value
	Batch int // 1-based batch number
}

// Context is the live name -> value mapping built across batches. It is
// owned by the run loop and only ever grows or overwrites; nothing is
// removed.
type Context struct {
	bindings map[string]Binding
	order    []string // first-bound order
	line     int
	batches  int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{bindings: make(map[string]Binding)}
}

// Get returns the value bound to name.
func (c *Context) Get(name string) (eval.Value, bool) {
	b, ok := c.bindings[name]
	return b.Value, ok
}

// Lookup returns the raw value bound to name. It matches eval.LookupFunc.
func (c *Context) Lookup(name string) (any, bool) {
	b, ok := c.bindings[name]
	return b.Value.Raw, ok
}

// Binding returns the full binding record for name.
func (c *Context) Binding(name string) (Binding, bool) {
	b, ok := c.bindings[name]
	return b, ok
}

// Names returns bound names in the order they were first bound.
func (c *Context) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SortedNames returns bound names in lexical order.
func (c *Context) SortedNames() []string {
	out := c.Names()
	sort.Strings(out)
	return out
}

// Bindings returns every binding in first-bound order.
func (c *Context) Bindings() []Binding {
	out := make([]Binding, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.bindings[name])
	}
	return out
}

// Len returns the number of bound names.
func (c *Context) Len() int { return len(c.order) }

// Line returns the number of input lines consumed by completed batches.
func (c *Context) Line() int { return c.line }

// Batches returns the number of completed batches.
func (c *Context) Batches() int { return c.batches }

// Values returns a snapshot of raw values keyed by name.
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.bindings))
	for name, b := range c.bindings {
		out[name] = b.Value.Raw
	}
	return out
}

func (c *Context) set(b Binding) {
	if _, ok := c.bindings[b.Name]; !ok {
		c.order = append(c.order, b.Name)
	}
	c.bindings[b.Name] = b
}

// commit applies a completed batch.
func (c *Context) commit(bindings []Binding, line int) {
	c.batches++
	for _, b := range bindings {
		b.Batch = c.batches
		c.set(b)
	}
	c.line = line
}
