// Package term defines the values exchanged between processes: atoms, process
// identities, references and the composite shapes (tuples, lists, byte strings)
// that envelopes are built from.
//
// Terms are plain Go values. A term is one of:
//
//	Atom, Pid, Reference, Tuple, List, Binary,
//	string, int64 (and other Go integers), float64, bool, nil
//
// Tuple is the fixed-arity composite, List the ordered sequence. Nothing in this
// package interprets a term beyond its type.
package term

import (
	"fmt"
	"strings"
)

// Atom is a symbolic constant, compared by name.
type Atom string

// Tuple is a fixed-arity ordered composite, e.g. {'$gen_call', From, Msg}.
type Tuple []any

// List is an ordered sequence of terms.
type List []any

// Binary is a byte string.
type Binary []byte

// Pid identifies an addressable process on a node.
// Pid is comparable and safe to use as a map key.
type Pid struct {
	Node     Atom
	ID       uint32
	Serial   uint32
	Creation uint32
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.ID, p.Serial)
}

// Reference is a node-scoped unique value used to correlate a request with its reply.
type Reference struct {
	Node     Atom
	Creation uint32
	ID       [3]uint32
}

func (r Reference) String() string {
	return fmt.Sprintf("#Ref<%s.%d.%d.%d>", r.Node, r.ID[0], r.ID[1], r.ID[2])
}

func (a Atom) String() string { return string(a) }

func (t Tuple) String() string {
	return "{" + join(t) + "}"
}

func (l List) String() string {
	return "[" + join(l) + "]"
}

func join(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if s, ok := it.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(it)
	}
	return strings.Join(parts, ",")
}
