package gen

import (
	"errors"
	"reflect"
	"testing"

	"gen-rpc/term"
)

type sent struct {
	sender, receiver term.Pid
	message          any
}

type command struct {
	node    term.Atom
	message any
}

type fakeNode struct {
	sends    []sent
	commands []command
	err      error
}

func (n *fakeNode) Send(sender, receiver term.Pid, message any) error {
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sent{sender, receiver, message})
	return nil
}

func (n *fakeNode) DistCommand(receiverNode term.Atom, message any) error {
	if n.err != nil {
		return n.err
	}
	n.commands = append(n.commands, command{receiverNode, message})
	return nil
}

type fakeRegistry map[term.Atom]*fakeNode

func (r fakeRegistry) Lookup(name term.Atom) (Node, error) {
	if n, ok := r[name]; ok {
		return n, nil
	}
	return nil, ErrNodeNotFound
}

var local = term.Pid{Node: "n1", ID: 7}

func parsedCall(t *testing.T, node term.Atom) *IncomingCall {
	t.Helper()
	call, err := ParseCall(callEnvelope("m", "f", term.List{}), node)
	if err != nil {
		t.Fatal(err)
	}
	return call
}

func TestReply(t *testing.T) {
	n1, n2 := &fakeNode{}, &fakeNode{}
	r := NewReplier(fakeRegistry{"n1": n1, "n2": n2})

	if err := r.Reply(parsedCall(t, "n1"), local, term.Atom("ok")); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if len(n1.sends) != 1 || len(n2.sends) != 0 {
		t.Fatalf("expect exactly one send on n1, got n1=%d n2=%d", len(n1.sends), len(n2.sends))
	}
	got := n1.sends[0]
	if got.sender != local || got.receiver != pidA {
		t.Fatalf("expect %v -> %v, got %v -> %v", local, pidA, got.sender, got.receiver)
	}
	if !reflect.DeepEqual(got.message, term.Tuple{ref1, term.Atom("ok")}) {
		t.Fatalf("unexpected reply message: %v", got.message)
	}
	if len(n1.commands) != 0 {
		t.Fatal("Reply must not issue distribution commands")
	}
}

func TestReplyGenericMessage(t *testing.T) {
	n1 := &fakeNode{}
	r := NewReplier(fakeRegistry{"n1": n1})
	m, err := ParseMessage(term.Tuple{GenCall, term.Tuple{pidA, ref1}, term.Atom("ping")}, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Reply(m, local, term.Atom("pong")); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(n1.sends[0].message, term.Tuple{ref1, term.Atom("pong")}) {
		t.Fatalf("unexpected reply: %v", n1.sends[0].message)
	}
}

func TestReplyExit(t *testing.T) {
	n1 := &fakeNode{}
	r := NewReplier(fakeRegistry{"n1": n1})
	reason := term.Tuple{term.Atom("error"), "boom"}

	if err := r.ReplyExit(parsedCall(t, "n1"), local, reason); err != nil {
		t.Fatalf("ReplyExit failed: %v", err)
	}
	if len(n1.commands) != 1 || len(n1.sends) != 0 {
		t.Fatalf("expect one command and no sends, got %d/%d", len(n1.commands), len(n1.sends))
	}
	cmd := n1.commands[0]
	if cmd.node != pidA.Node {
		t.Fatalf("expect command to %s, got %s", pidA.Node, cmd.node)
	}
	want := term.Tuple{MonitorExit, local, pidA, ref1, reason}
	if !reflect.DeepEqual(cmd.message, want) {
		t.Fatalf("expect %v, got %v", want, cmd.message)
	}
}

func TestReplyNodeMissing(t *testing.T) {
	r := NewReplier(fakeRegistry{})
	call := parsedCall(t, "gone")

	if err := r.Reply(call, local, 1); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expect ErrNodeNotFound, got %v", err)
	}
	if err := r.ReplyExit(call, local, 1); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expect ErrNodeNotFound, got %v", err)
	}
}

func TestReplySendError(t *testing.T) {
	boom := errors.New("queue full")
	r := NewReplier(fakeRegistry{"n1": &fakeNode{err: boom}})
	call := parsedCall(t, "n1")

	if err := r.Reply(call, local, 1); !errors.Is(err, boom) {
		t.Fatalf("expect send error to propagate, got %v", err)
	}
	if err := r.ReplyExit(call, local, 1); !errors.Is(err, boom) {
		t.Fatalf("expect command error to propagate, got %v", err)
	}
}
