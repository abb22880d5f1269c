package dist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gen-rpc/codec"
	"gen-rpc/protocol"
	"gen-rpc/term"
)

type PoolConfig struct {
	LocalNode   term.Atom
	Resolver    Resolver
	Codec       codec.CodecType
	QueueSize   int           // Outbound frames buffered per peer
	DialTimeout time.Duration // Resolve + dial budget
	Heartbeat   time.Duration
	Logger      *zap.Logger
}

func (c *PoolConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Pool holds one Peer per remote node, created on first use.
type Pool struct {
	cfg    PoolConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peers  map[term.Atom]*Peer
	closed bool
}

func NewPool(cfg PoolConfig) *Pool {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[term.Atom]*Peer),
	}
}

// Send queues a frame for node. It returns once the frame is queued, not delivered.
// After Close it returns ErrPeerClosed.
func (p *Pool) Send(node term.Atom, msgType protocol.MsgType, body any) error {
	peer, err := p.peer(node)
	if err != nil {
		return err
	}
	return peer.Enqueue(msgType, body)
}

func (p *Pool) peer(node term.Atom) (*Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPeerClosed
	}

	if peer, ok := p.peers[node]; ok {
		select {
		case <-peer.done:
		default:
			return peer, nil
		}
	}

	peer := newPeer(&p.cfg, node, p.forget)
	p.peers[node] = peer
	go peer.run(p.ctx)
	return peer, nil
}

func (p *Pool) forget(peer *Peer) {
	p.mu.Lock()
	if p.peers[peer.remote] == peer {
		delete(p.peers, peer.remote)
	}
	p.mu.Unlock()
}

// Disconnect closes the peer for node, if any.
func (p *Pool) Disconnect(node term.Atom) {
	p.mu.Lock()
	peer, ok := p.peers[node]
	p.mu.Unlock()
	if ok {
		peer.Close()
	}
}

// Close disconnects every peer.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	p.closed = true
	peers := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.Unlock()
	for _, peer := range peers {
		peer.Close()
	}
}
