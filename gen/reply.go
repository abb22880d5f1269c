package gen

import (
	"errors"
	"fmt"

	"gen-rpc/term"
)

// MonitorExit is the distribution command carrying an exit reply:
// {monitor_p_exit, From, To, Ref, Reason}.
const MonitorExit term.Atom = "monitor_p_exit"

// ErrNodeNotFound is returned by a Registry that has no node under the requested name.
var ErrNodeNotFound = errors.New("gen: node not found")

// Node is the part of a local node a reply is sent through.
type Node interface {
	// Send enqueues an ordinary message from sender to receiver.
	Send(sender, receiver term.Pid, message any) error
	// DistCommand enqueues a node-addressed control message.
	DistCommand(receiverNode term.Atom, message any) error
}

// Registry finds live local nodes by name. Lookup must be safe for concurrent use.
type Registry interface {
	Lookup(name term.Atom) (Node, error)
}

// Replier sends replies for requests received on nodes known to its Registry.
// It holds no other state and is safe for concurrent use.
type Replier struct {
	registry Registry
}

// NewReplier returns a Replier that resolves nodes through reg.
func NewReplier(reg Registry) *Replier {
	return &Replier{registry: reg}
}

// Reply sends {Ref, result} to the request's sender, appearing to come from local.
// It returns once the message is enqueued; there is no delivery confirmation.
func (r *Replier) Reply(req Request, local term.Pid, result any) error {
	n, err := r.node(req)
	if err != nil {
		return err
	}
	if err := n.Send(local, req.Sender(), term.Tuple{req.Ref(), result}); err != nil {
		return fmt.Errorf("gen: reply to %s: %w", req.Sender(), err)
	}
	return nil
}

// ReplyExit answers with an exit signal that the caller's monitor on local turns into
// an exit with reason on the calling side. If the caller did not monitor local the
// signal is ignored remotely; that is not an error here.
func (r *Replier) ReplyExit(req Request, local term.Pid, reason any) error {
	n, err := r.node(req)
	if err != nil {
		return err
	}
	cmd := term.Tuple{MonitorExit, local, req.Sender(), req.Ref(), reason}
	if err := n.DistCommand(req.Sender().Node, cmd); err != nil {
		return fmt.Errorf("gen: exit reply to %s: %w", req.Sender(), err)
	}
	return nil
}

func (r *Replier) node(req Request) (Node, error) {
	n, err := r.registry.Lookup(req.NodeName())
	if err != nil {
		return nil, fmt.Errorf("gen: reply via %q: %w", req.NodeName(), err)
	}
	return n, nil
}
