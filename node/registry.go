package node

import (
	"fmt"
	"sync"

	"gen-rpc/gen"
	"gen-rpc/term"
)

// Registry maps node names to the live nodes of this OS process.
// Replies look their node up here at reply time.
type Registry struct {
	mu     sync.RWMutex
	byName map[term.Atom]*Node
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[term.Atom]*Node)}
}

// Register adds n. A second node with the same name is an error.
func (r *Registry) Register(n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[n.Name()]; ok {
		return fmt.Errorf("node: %s already registered", n.Name())
	}
	r.byName[n.Name()] = n
	return nil
}

func (r *Registry) Unregister(name term.Atom) {
	r.mu.Lock()
	delete(r.byName, name)
	r.mu.Unlock()
}

// Lookup implements gen.Registry.
func (r *Registry) Lookup(name term.Atom) (gen.Node, error) {
	n, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gen.ErrNodeNotFound, name)
	}
	return n, nil
}

// Get returns the concrete node.
func (r *Registry) Get(name term.Atom) (*Node, bool) {
	r.mu.RLock()
	n, ok := r.byName[name]
	r.mu.RUnlock()
	return n, ok
}
