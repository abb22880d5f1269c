// Package node is the local process runtime: named nodes owning processes with
// bounded mailboxes, and the bridge between those mailboxes and package dist.
package node

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"gen-rpc/gen"
	"gen-rpc/protocol"
	"gen-rpc/term"
)

var (
	ErrMailboxFull     = errors.New("node: mailbox full")
	ErrProcessClosed   = errors.New("node: process closed")
	ErrNameTaken       = errors.New("node: name already registered")
	ErrNoDistribution  = errors.New("node: distribution not configured")
	ErrWrongNode       = errors.New("node: pid belongs to another node")
	ErrUnknownCommand  = errors.New("node: unknown distribution command")
	ErrInvalidReceiver = errors.New("node: receiver must be a pid or a registered name")
)

// Outbound carries frames to other nodes; *dist.Pool implements it.
type Outbound interface {
	Send(node term.Atom, msgType protocol.MsgType, body any) error
}

type Options struct {
	Creation    uint32
	MailboxSize int
	Outbound    Outbound // nil for a node that never talks to other nodes
	Logger      *zap.Logger
}

// Node owns a set of processes and routes messages to them.
type Node struct {
	name     term.Atom
	creation uint32
	out      Outbound
	logger   *zap.Logger
	mailbox  int

	mu    sync.RWMutex
	procs map[term.Pid]*Process
	names map[term.Atom]*Process

	pidSeq  atomic.Uint32
	refSeq  atomic.Uint64
	refSalt uint32
}

func New(name term.Atom, opts Options) *Node {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var salt [4]byte
	_, _ = rand.Read(salt[:])
	return &Node{
		name:     name,
		creation: opts.Creation,
		out:      opts.Outbound,
		logger:   opts.Logger.With(zap.String("node", string(name))),
		mailbox:  opts.MailboxSize,
		procs:    make(map[term.Pid]*Process),
		names:    make(map[term.Atom]*Process),
		refSalt:  binary.BigEndian.Uint32(salt[:]),
	}
}

func (n *Node) Name() term.Atom { return n.name }

func (n *Node) Creation() uint32 { return n.creation }

// Spawn creates a process. A non-empty name registers it under that name.
func (n *Node) Spawn(name term.Atom) (*Process, error) {
	p := &Process{
		pid:   term.Pid{Node: n.name, ID: n.pidSeq.Add(1), Creation: n.creation},
		name:  name,
		node:  n,
		inbox: make(chan Delivery, n.mailbox),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if name != "" {
		if _, ok := n.names[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		n.names[name] = p
	}
	n.procs[p.pid] = p
	return p, nil
}

// Whereis returns the pid registered under name.
func (n *Node) Whereis(name term.Atom) (term.Pid, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.names[name]; ok {
		return p.pid, true
	}
	return term.Pid{}, false
}

// MakeRef returns a reference unique within this node's lifetime.
func (n *Node) MakeRef() term.Reference {
	c := n.refSeq.Add(1)
	return term.Reference{
		Node:     n.name,
		Creation: n.creation,
		ID:       [3]uint32{uint32(c), uint32(c >> 32), n.refSalt},
	}
}

func (n *Node) remove(p *Process) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.procs[p.pid] != p {
		return
	}
	delete(n.procs, p.pid)
	if p.name != "" && n.names[p.name] == p {
		delete(n.names, p.name)
	}
	close(p.inbox)
}

// Send implements gen.Node. Messages to local pids go straight to the mailbox;
// anything else is queued for the receiver's node.
func (n *Node) Send(sender, receiver term.Pid, message any) error {
	if receiver.Node == n.name {
		return n.deliverPid(sender, receiver, message)
	}
	if n.out == nil {
		return ErrNoDistribution
	}
	return n.out.Send(receiver.Node, protocol.MsgTypeSend, term.Tuple{sender, receiver, message})
}

// SendName sends to the process registered as name on node, which may be this node.
func (n *Node) SendName(sender term.Pid, node, name term.Atom, message any) error {
	if node == n.name {
		return n.deliverName(sender, name, message)
	}
	if n.out == nil {
		return ErrNoDistribution
	}
	return n.out.Send(node, protocol.MsgTypeSend, term.Tuple{sender, name, message})
}

// DistCommand implements gen.Node. A command for this node is applied in place.
func (n *Node) DistCommand(receiverNode term.Atom, command any) error {
	if receiverNode == n.name {
		return n.DeliverControl(command)
	}
	if n.out == nil {
		return ErrNoDistribution
	}
	return n.out.Send(receiverNode, protocol.MsgTypeControl, term.Tuple{receiverNode, command})
}

// DeliverSend implements dist.Deliverer.
func (n *Node) DeliverSend(sender term.Pid, receiver any, message any) error {
	switch r := receiver.(type) {
	case term.Pid:
		if r.Node != n.name {
			return fmt.Errorf("%w: %s", ErrWrongNode, r)
		}
		return n.deliverPid(sender, r, message)
	case term.Atom:
		return n.deliverName(sender, r, message)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidReceiver, receiver)
	}
}

// DeliverControl implements dist.Deliverer. The only command understood is
// {monitor_p_exit, From, To, Ref, Reason}, which is put in To's mailbox as is;
// the caller waiting on Ref interprets it.
func (n *Node) DeliverControl(command any) error {
	t, ok := command.(term.Tuple)
	if !ok || len(t) != 5 || t[0] != gen.MonitorExit {
		return fmt.Errorf("%w: %v", ErrUnknownCommand, command)
	}
	from, ok1 := t[1].(term.Pid)
	to, ok2 := t[2].(term.Pid)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: %v", ErrUnknownCommand, command)
	}
	if to.Node != n.name {
		return fmt.Errorf("%w: %s", ErrWrongNode, to)
	}
	return n.deliverPid(from, to, t)
}

// deliverPid puts message in the mailbox of pid. A message to a process that no
// longer exists is dropped, like any message to a dead process.
func (n *Node) deliverPid(sender, pid term.Pid, message any) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.procs[pid]
	if !ok {
		n.logger.Debug("dropping message to unknown pid", zap.Stringer("pid", pid))
		return nil
	}
	return p.push(sender, message)
}

func (n *Node) deliverName(sender term.Pid, name term.Atom, message any) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.names[name]
	if !ok {
		n.logger.Debug("dropping message to unregistered name", zap.String("name", string(name)))
		return nil
	}
	return p.push(sender, message)
}

// push must be called with n.mu held (read) so the inbox cannot be closed underneath.
func (p *Process) push(sender term.Pid, message any) error {
	select {
	case p.inbox <- Delivery{From: sender, Message: message}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, p.pid)
	}
}
