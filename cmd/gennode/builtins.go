package main

import (
	"context"

	"gen-rpc/node"
	"gen-rpc/server"
	"gen-rpc/term"
)

// erlangModule answers the handful of erlang BIFs remote shells probe a node with.
type erlangModule struct {
	node *node.Node
	rex  *node.Process
}

// Node is erlang:node/0.
func (m *erlangModule) Node(ctx context.Context, args term.List) (any, error) {
	if len(args) != 0 {
		return nil, &server.ExitError{Reason: term.Atom("badarg")}
	}
	return m.node.Name(), nil
}

// Whereis is erlang:whereis/1.
func (m *erlangModule) Whereis(ctx context.Context, args term.List) (any, error) {
	if len(args) != 1 {
		return nil, &server.ExitError{Reason: term.Atom("badarg")}
	}
	name, ok := args[0].(term.Atom)
	if !ok {
		return nil, &server.ExitError{Reason: term.Atom("badarg")}
	}
	if pid, ok := m.node.Whereis(name); ok {
		return pid, nil
	}
	return term.Atom("undefined"), nil
}

// Self is erlang:self/0 as seen by the dispatcher.
func (m *erlangModule) Self(ctx context.Context, args term.List) (any, error) {
	return m.rex.Pid(), nil
}

// Length is erlang:length/1.
func (m *erlangModule) Length(ctx context.Context, args term.List) (any, error) {
	if len(args) != 1 {
		return nil, &server.ExitError{Reason: term.Atom("badarg")}
	}
	list, ok := term.AsList(args[0])
	if !ok {
		return nil, &server.ExitError{Reason: term.Atom("badarg")}
	}
	return int64(len(list)), nil
}
