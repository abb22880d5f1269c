package gen

import "gen-rpc/term"

// GenCall is the tag every gen:call envelope starts with.
const GenCall term.Atom = "$gen_call"

// ParseCall recognizes {'$gen_call', {From, Ref}, {call, Module, Function, Args, GroupLeader}}
// received on node nodeName. Module and Function may be atoms, binaries or strings.
//
// Sender and group leader must be pids and Args must be a list. These checks are
// stricter than the wire contract, which leaves all three unexamined; they fail
// with RejectCorrelation, RejectGroupLeader and RejectArgs.
//
// Any other shape yields a *Rejection. ParseCall never panics, so callers can try it
// first and fall back to ParseMessage.
func ParseCall(msg any, nodeName term.Atom) (*IncomingCall, error) {
	b, body, rej := parseEnvelope(msg, nodeName)
	if rej != nil {
		return nil, rej
	}

	// The first element of the body is conventionally the atom 'call'; it is not checked.
	mfa, ok := body.(term.Tuple)
	if !ok || len(mfa) != 5 {
		return nil, reject(RejectCallBodyArity, "expecting a 5-tuple (with a 'call' atom)")
	}

	mod, err := term.ToString(mfa[1])
	if err != nil {
		return nil, reject(RejectModule, "module: %v", err)
	}
	fun, err := term.ToString(mfa[2])
	if err != nil {
		return nil, reject(RejectFunction, "function: %v", err)
	}
	args, ok := term.AsList(mfa[3])
	if !ok {
		return nil, reject(RejectArgs, "args must be a list, got %T", mfa[3])
	}
	gl, ok := mfa[4].(term.Pid)
	if !ok {
		return nil, reject(RejectGroupLeader, "group leader must be a pid, got %T", mfa[4])
	}

	argv := make(term.List, len(args))
	copy(argv, args)

	return &IncomingCall{
		base:        b,
		module:      mod,
		function:    fun,
		args:        argv,
		groupLeader: gl,
	}, nil
}

// ParseMessage recognizes {'$gen_call', {From, Ref}, Message} with any Message.
func ParseMessage(msg any, nodeName term.Atom) (*IncomingMessage, error) {
	b, payload, rej := parseEnvelope(msg, nodeName)
	if rej != nil {
		return nil, rej
	}
	return &IncomingMessage{base: b, payload: payload}, nil
}

// parseEnvelope checks the outer 3-tuple, the tag and the {From, Ref} pair and returns
// the third element unexamined.
func parseEnvelope(msg any, nodeName term.Atom) (base, any, *Rejection) {
	t, ok := msg.(term.Tuple)
	if !ok {
		return base{}, nil, reject(RejectNotTuple, "expected composite, got %T", msg)
	}
	if len(t) != 3 {
		return base{}, nil, reject(RejectArity, "expected a 3-tuple, got %d elements", len(t))
	}
	if tag, ok := t[0].(term.Atom); !ok || tag != GenCall {
		return base{}, nil, reject(RejectTag, "tag mismatch: only {'$gen_call', _, _} messages allowed")
	}

	pair, ok := t[1].(term.Tuple)
	if !ok || len(pair) != 2 {
		return base{}, nil, reject(RejectCorrelation, "expected {From, Ref} pair")
	}
	sender, ok := pair[0].(term.Pid)
	if !ok {
		return base{}, nil, reject(RejectCorrelation, "From must be a pid, got %T", pair[0])
	}

	return base{sender: sender, ref: pair[1], nodeName: nodeName}, t[2], nil
}
