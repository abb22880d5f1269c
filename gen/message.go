// Package gen recognizes gen:call style envelopes and routes their replies.
//
// An incoming call looks like
//
//	{'$gen_call', {From, Ref}, {call, Module, Function, Args, GroupLeader}}
//
// and a generic correlated message like {'$gen_call', {From, Ref}, Message}.
// ParseCall and ParseMessage recognize these shapes; a Replier sends the answer
// back to From, tagged with Ref, through the node the request arrived on.
//
// This is a low level package. Dispatching calls to handlers lives in package server.
package gen

import (
	"fmt"

	"gen-rpc/term"
)

// Request is the part of an incoming envelope needed to route a reply.
type Request interface {
	Sender() term.Pid
	Ref() any
	NodeName() term.Atom
}

type base struct {
	sender   term.Pid
	ref      any
	nodeName term.Atom
}

// Sender is the process replies go to.
func (b *base) Sender() term.Pid { return b.sender }

// Ref is the caller generated correlation token, returned unchanged in the reply.
func (b *base) Ref() any { return b.ref }

// NodeName is the local node the envelope was received on.
func (b *base) NodeName() term.Atom { return b.nodeName }

// IncomingMessage is a generic {'$gen_call', {From, Ref}, Message} envelope,
// for example net_kernel's is_auth.
type IncomingMessage struct {
	base
	payload any
}

// Payload is the third element of the envelope, untouched.
func (m *IncomingMessage) Payload() any { return m.payload }

func (m *IncomingMessage) String() string {
	return fmt.Sprintf("IncomingMessage(%v)", m.payload)
}

// IncomingCall is an rpc:call style request.
type IncomingCall struct {
	base
	module      string
	function    string
	args        term.List
	groupLeader term.Pid
}

// Module is the module name, whatever form it arrived in.
func (c *IncomingCall) Module() string { return c.module }

// Function is the function name, whatever form it arrived in.
func (c *IncomingCall) Function() string { return c.function }

// Args returns a copy of the call arguments in call-site order.
func (c *IncomingCall) Args() term.List {
	out := make(term.List, len(c.args))
	copy(out, c.args)
	return out
}

// GroupLeader is the caller's group leader.
func (c *IncomingCall) GroupLeader() term.Pid { return c.groupLeader }

func (c *IncomingCall) String() string {
	return "IncomingCall(" + c.module + ":" + c.function + c.args.String() + ")"
}
