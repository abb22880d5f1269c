package server

import (
	"context"

	"gen-rpc/gen"
	"gen-rpc/node"
	"gen-rpc/term"
)

// Call performs rpc:call(Node, Module, Function, Args) from proc: it sends a
// gen:call envelope to rex on node and waits for the reply carrying the same ref.
//
// proc should be dedicated to the call; other messages arriving meanwhile are
// discarded. An exit reply is returned as *ExitError.
func Call(ctx context.Context, proc *node.Process, target term.Atom, mod, fun string, args term.List) (any, error) {
	ref := proc.Node().MakeRef()
	envelope := term.Tuple{
		gen.GenCall,
		term.Tuple{proc.Pid(), ref},
		term.Tuple{term.Atom("call"), term.Atom(mod), term.Atom(fun), args, proc.Pid()},
	}
	if err := proc.SendName(target, RexName, envelope); err != nil {
		return nil, err
	}

	for {
		d, err := proc.Receive(ctx)
		if err != nil {
			return nil, err
		}
		t, ok := d.Message.(term.Tuple)
		if !ok {
			continue
		}
		switch {
		case len(t) == 2 && t[0] == any(ref):
			return t[1], nil
		case len(t) == 5 && t[0] == gen.MonitorExit && t[3] == any(ref):
			return nil, &ExitError{Reason: t[4]}
		}
	}
}
