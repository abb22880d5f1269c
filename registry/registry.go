// Package registry is the directory nodes use to find each other's listen address.
package registry

import (
	"context"
	"errors"
	"sync"

	"gen-rpc/term"
)

// ErrNodeUnknown is returned by Resolve when no live node is registered under the name.
var ErrNodeUnknown = errors.New("registry: node unknown")

// NodeInstance is what a node publishes about itself.
type NodeInstance struct {
	Name     term.Atom `json:"name"`
	Addr     string    `json:"addr"`     // Routable host:port of the distribution listener
	Creation uint32    `json:"creation"` // Distinguishes restarts of a node with the same name
}

type Directory interface {
	Register(ctx context.Context, instance NodeInstance, ttl int64) error
	Deregister(ctx context.Context, name term.Atom) error
	Resolve(ctx context.Context, name term.Atom) (NodeInstance, error)
	Watch(ctx context.Context) <-chan []NodeInstance
}

// StaticDirectory is an in-memory Directory for tests and single-host setups.
// TTLs are ignored.
type StaticDirectory struct {
	mu       sync.RWMutex
	nodes    map[term.Atom]NodeInstance
	watchers []chan []NodeInstance
}

func NewStaticDirectory(instances ...NodeInstance) *StaticDirectory {
	d := &StaticDirectory{nodes: make(map[term.Atom]NodeInstance)}
	for _, inst := range instances {
		d.nodes[inst.Name] = inst
	}
	return d
}

func (d *StaticDirectory) Register(_ context.Context, instance NodeInstance, _ int64) error {
	d.mu.Lock()
	d.nodes[instance.Name] = instance
	d.mu.Unlock()
	d.notify()
	return nil
}

func (d *StaticDirectory) Deregister(_ context.Context, name term.Atom) error {
	d.mu.Lock()
	delete(d.nodes, name)
	d.mu.Unlock()
	d.notify()
	return nil
}

func (d *StaticDirectory) Resolve(_ context.Context, name term.Atom) (NodeInstance, error) {
	d.mu.RLock()
	inst, ok := d.nodes[name]
	d.mu.RUnlock()
	if !ok {
		return NodeInstance{}, ErrNodeUnknown
	}
	return inst, nil
}

// Watch emits the full node list after every change until ctx is done.
// A slow reader only ever sees the latest list.
func (d *StaticDirectory) Watch(ctx context.Context) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)
	d.mu.Lock()
	d.watchers = append(d.watchers, ch)
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, w := range d.watchers {
			if w == ch {
				d.watchers = append(d.watchers[:i], d.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (d *StaticDirectory) notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]NodeInstance, 0, len(d.nodes))
	for _, inst := range d.nodes {
		list = append(list, inst)
	}
	for _, w := range d.watchers {
		select {
		case <-w:
		default:
		}
		w <- list
	}
}
