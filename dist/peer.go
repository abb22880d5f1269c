// Package dist carries messages between nodes over TCP.
//
// Each node dials one outbound connection per remote node (a Peer) and accepts
// inbound connections from the others (an Acceptor). Connections are one-way:
// a node only writes on connections it dialed and only reads on ones it accepted.
//
//	process ──Send──┐                        ┌── Acceptor.handleConn ──→ Deliverer
//	process ──Send──┼──→ Peer.queue ──→ conn ┤
//	process ──Exit──┘       (writeLoop)       └── (on the remote node)
//
// Enqueueing never blocks. There is no retry: when a connection fails, the frames
// still queued on it are dropped and the next send dials again.
package dist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"gen-rpc/codec"
	"gen-rpc/protocol"
	"gen-rpc/registry"
	"gen-rpc/term"
)

var (
	// ErrQueueFull is returned when a peer's outbound queue has no room.
	ErrQueueFull = errors.New("dist: outbound queue full")
	// ErrPeerClosed is returned when sending on a peer whose connection is gone.
	ErrPeerClosed = errors.New("dist: peer closed")
)

// Resolver finds the listen address of a node by name.
type Resolver interface {
	Resolve(ctx context.Context, name term.Atom) (registry.NodeInstance, error)
}

type outFrame struct {
	msgType protocol.MsgType
	body    []byte
}

// Peer is the outbound connection from the local node to one remote node.
type Peer struct {
	local  term.Atom
	remote term.Atom
	codec  codec.Codec
	queue  chan outFrame
	logger *zap.Logger

	resolver    Resolver
	dialTimeout time.Duration
	heartbeat   time.Duration

	seq       uint32 // Only touched by writeLoop
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Peer)
}

func newPeer(cfg *PoolConfig, remote term.Atom, onClose func(*Peer)) *Peer {
	return &Peer{
		local:       cfg.LocalNode,
		remote:      remote,
		codec:       codec.GetCodec(cfg.Codec),
		queue:       make(chan outFrame, cfg.QueueSize),
		logger:      cfg.Logger.With(zap.String("peer", string(remote))),
		resolver:    cfg.Resolver,
		dialTimeout: cfg.DialTimeout,
		heartbeat:   cfg.Heartbeat,
		done:        make(chan struct{}),
		onClose:     onClose,
	}
}

// Remote is the name of the node this peer sends to.
func (p *Peer) Remote() term.Atom { return p.remote }

// Enqueue encodes body and queues it for the writer. Encoding errors are returned
// to the caller; a full queue returns ErrQueueFull instead of blocking.
func (p *Peer) Enqueue(msgType protocol.MsgType, body any) error {
	data, err := p.codec.Encode(body)
	if err != nil {
		return fmt.Errorf("dist: encode %s frame for %s: %w", msgType, p.remote, err)
	}

	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.queue <- outFrame{msgType: msgType, body: data}:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrQueueFull
	}
}

// Close stops the writer and drops whatever is still queued.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.onClose != nil {
			p.onClose(p)
		}
	})
}

// run dials the remote node and drains the queue until the connection fails,
// the peer is closed or ctx is done.
func (p *Peer) run(ctx context.Context) {
	defer p.Close()

	conn, err := p.dial(ctx)
	if err != nil {
		p.logger.Warn("dial failed, dropping queued frames", zap.Error(err), zap.Int("dropped", len(p.queue)))
		return
	}
	defer conn.Close()

	// A dead peer process closes its end; notice it without waiting for the next write.
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				p.Close()
				return
			}
		}
	}()

	if err := p.write(conn, protocol.MsgTypeHello, mustEncode(p.codec, p.local)); err != nil {
		p.logger.Warn("hello failed", zap.Error(err))
		return
	}
	p.logger.Debug("peer connected", zap.String("addr", conn.RemoteAddr().String()))

	p.writeLoop(ctx, conn)
}

func (p *Peer) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	inst, err := p.resolver.Resolve(ctx, p.remote)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p.remote, err)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", inst.Addr)
}

// writeLoop is the only writer on conn, so frames from different senders never
// interleave. Heartbeats share the loop for the same reason.
func (p *Peer) writeLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case f := <-p.queue:
			if err := p.write(conn, f.msgType, f.body); err != nil {
				p.logger.Warn("write failed, dropping queued frames", zap.Error(err), zap.Int("dropped", len(p.queue)+1))
				return
			}
		case <-ticker.C:
			if err := p.write(conn, protocol.MsgTypeHeartbeat, nil); err != nil {
				p.logger.Warn("heartbeat failed", zap.Error(err))
				return
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Peer) write(conn net.Conn, msgType protocol.MsgType, body []byte) error {
	p.seq++
	header := protocol.Header{
		CodecType: byte(p.codec.Type()),
		MsgType:   msgType,
		Seq:       p.seq,
	}
	return protocol.Encode(conn, &header, body)
}

func mustEncode(c codec.Codec, v any) []byte {
	b, err := c.Encode(v)
	if err != nil {
		panic(fmt.Sprintf("dist: encode %T: %v", v, err))
	}
	return b
}
