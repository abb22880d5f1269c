package node

import (
	"context"

	"gen-rpc/term"
)

// Delivery is one message in a process mailbox.
type Delivery struct {
	From    term.Pid
	Message any
}

// Process is a mailbox with an address. Whoever spawned it reads Inbox.
type Process struct {
	pid   term.Pid
	name  term.Atom
	node  *Node
	inbox chan Delivery
}

func (p *Process) Pid() term.Pid { return p.pid }

// Name is the registered name, empty if the process is anonymous.
func (p *Process) Name() term.Atom { return p.name }

func (p *Process) Node() *Node { return p.node }

// Inbox is closed when the process is closed.
func (p *Process) Inbox() <-chan Delivery { return p.inbox }

// Receive waits for the next delivery.
func (p *Process) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-p.inbox:
		if !ok {
			return Delivery{}, ErrProcessClosed
		}
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Send sends message from this process.
func (p *Process) Send(to term.Pid, message any) error {
	return p.node.Send(p.pid, to, message)
}

// SendName sends message from this process to the process registered as name on node.
func (p *Process) SendName(node, name term.Atom, message any) error {
	return p.node.SendName(p.pid, node, name, message)
}

// Close unregisters the process and closes its inbox. Later sends to it fail.
func (p *Process) Close() {
	p.node.remove(p)
}
