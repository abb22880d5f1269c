package dist

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gen-rpc/codec"
	"gen-rpc/protocol"
	"gen-rpc/term"
)

// Deliverer receives decoded frames from remote nodes.
type Deliverer interface {
	// DeliverSend hands an ordinary message to a local process. receiver is a Pid
	// or the Atom a process is registered under.
	DeliverSend(sender term.Pid, receiver any, message any) error
	// DeliverControl hands a distribution command to the local node.
	DeliverControl(command any) error
}

// Acceptor serves inbound connections from other nodes.
//
// Frame processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames in order)
//	  → Hello (must be first) → Send / Control → codec.Decode → Deliverer
//
// Frames on one connection are delivered in the order they were sent.
type Acceptor struct {
	deliver  Deliverer
	logger   *zap.Logger
	listener net.Listener
	wg       sync.WaitGroup // Tracks live connections for graceful shutdown
	shutdown atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewAcceptor(deliver Deliverer, logger *zap.Logger) *Acceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acceptor{
		deliver: deliver,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listener. It is separate from Serve so callers can learn the
// bound address (e.g. for ":0") before publishing it.
func (a *Acceptor) Listen(network, address string) (net.Addr, error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	a.listener = l
	return l.Addr(), nil
}

// Serve runs the accept loop until Shutdown. It returns nil after a clean shutdown.
func (a *Acceptor) Serve() error {
	if a.listener == nil {
		return errors.New("dist: Serve called before Listen")
	}
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.shutdown.Load() {
				return nil
			}
			return err
		}
		if !a.track(conn, true) {
			continue
		}
		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// track adds or removes a live connection. Adding after Shutdown has begun closes
// conn instead and reports false.
func (a *Acceptor) track(conn net.Conn, add bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if add {
		if a.shutdown.Load() {
			conn.Close()
			return false
		}
		a.conns[conn] = struct{}{}
	} else {
		delete(a.conns, conn)
	}
	return true
}

func (a *Acceptor) handleConn(conn net.Conn) {
	defer a.wg.Done()
	defer a.track(conn, false)
	defer conn.Close()

	logger := a.logger.With(zap.String("remote_addr", conn.RemoteAddr().String()))

	header, body, err := protocol.Decode(conn)
	if err != nil {
		logger.Debug("connection closed before hello", zap.Error(err))
		return
	}
	if header.MsgType != protocol.MsgTypeHello {
		logger.Warn("expected hello frame", zap.Stringer("msg_type", header.MsgType))
		return
	}
	hello, err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)
	if err != nil {
		logger.Warn("bad hello frame", zap.Error(err))
		return
	}
	remote, ok := hello.(term.Atom)
	if !ok {
		logger.Warn("hello must carry a node name", zap.Any("hello", hello))
		return
	}
	logger = logger.With(zap.String("peer", string(remote)))
	logger.Debug("peer accepted")

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !a.shutdown.Load() {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if err := a.dispatch(header, body); err != nil {
			// A bad frame is the sender's problem; keep the connection.
			logger.Warn("frame dropped", zap.Stringer("msg_type", header.MsgType),
				zap.Uint32("seq", header.Seq), zap.Error(err))
		}
	}
}

func (a *Acceptor) dispatch(header *protocol.Header, body []byte) error {
	v, err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)
	if err != nil {
		return err
	}
	t, ok := v.(term.Tuple)

	switch header.MsgType {
	case protocol.MsgTypeSend:
		if !ok || len(t) != 3 {
			return fmt.Errorf("send frame must be {Sender, Receiver, Message}, got %v", v)
		}
		sender, ok := t[0].(term.Pid)
		if !ok {
			return fmt.Errorf("send frame sender must be a pid, got %T", t[0])
		}
		return a.deliver.DeliverSend(sender, t[1], t[2])
	case protocol.MsgTypeControl:
		if !ok || len(t) != 2 {
			return fmt.Errorf("control frame must be {Node, Command}, got %v", v)
		}
		return a.deliver.DeliverControl(t[1])
	default:
		return fmt.Errorf("unexpected %s frame", header.MsgType)
	}
}

// Shutdown stops accepting, closes live connections and waits for their readers
// to finish, at most timeout.
func (a *Acceptor) Shutdown(timeout time.Duration) error {
	a.shutdown.Store(true)
	if a.listener != nil {
		a.listener.Close()
	}

	a.mu.Lock()
	for conn := range a.conns {
		conn.Close()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to close")
	}
}
