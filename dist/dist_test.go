package dist

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gen-rpc/codec"
	"gen-rpc/protocol"
	"gen-rpc/registry"
	"gen-rpc/term"
)

type delivery struct {
	sender   term.Pid
	receiver any
	message  any
	control  bool
}

type chanDeliverer chan delivery

func (c chanDeliverer) DeliverSend(sender term.Pid, receiver any, message any) error {
	c <- delivery{sender: sender, receiver: receiver, message: message}
	return nil
}

func (c chanDeliverer) DeliverControl(command any) error {
	c <- delivery{message: command, control: true}
	return nil
}

func startAcceptor(t *testing.T, dir *registry.StaticDirectory, name term.Atom) chanDeliverer {
	t.Helper()
	deliveries := make(chanDeliverer, 64)
	acc := NewAcceptor(deliveries, zaptest.NewLogger(t))
	addr, err := acc.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go acc.Serve()
	t.Cleanup(func() { acc.Shutdown(time.Second) })

	if err := dir.Register(context.Background(), registry.NodeInstance{Name: name, Addr: addr.String()}, 0); err != nil {
		t.Fatal(err)
	}
	return deliveries
}

func next(t *testing.T, c chanDeliverer) delivery {
	t.Helper()
	select {
	case d := <-c:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery")
		return delivery{}
	}
}

func TestPoolDeliversInOrder(t *testing.T) {
	dir := registry.NewStaticDirectory()
	deliveries := startAcceptor(t, dir, "b")

	for _, ct := range []codec.CodecType{codec.CodecTypeBinary, codec.CodecTypeJSON} {
		pool := NewPool(PoolConfig{LocalNode: "a", Resolver: dir, Codec: ct, Logger: zaptest.NewLogger(t)})
		sender := term.Pid{Node: "a", ID: 1}
		receiver := term.Pid{Node: "b", ID: 7}

		for i := 0; i < 10; i++ {
			if err := pool.Send("b", protocol.MsgTypeSend, term.Tuple{sender, receiver, int64(i)}); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}
		for i := 0; i < 10; i++ {
			d := next(t, deliveries)
			if d.sender != sender || d.receiver != receiver || d.message != int64(i) {
				t.Fatalf("codec %d: frame %d out of order: %+v", ct, i, d)
			}
		}

		cmd := term.Tuple{term.Atom("monitor_p_exit"), sender, receiver, term.Reference{Node: "a"}, term.Atom("normal")}
		if err := pool.Send("b", protocol.MsgTypeControl, term.Tuple{term.Atom("b"), cmd}); err != nil {
			t.Fatal(err)
		}
		d := next(t, deliveries)
		if !d.control || !reflect.DeepEqual(d.message, cmd) {
			t.Fatalf("expect control %v, got %+v", cmd, d)
		}
		pool.Close()
	}
}

func TestAcceptorRequiresHello(t *testing.T) {
	dir := registry.NewStaticDirectory()
	deliveries := startAcceptor(t, dir, "b")
	inst, _ := dir.Resolve(context.Background(), "b")

	conn, err := net.Dial("tcp", inst.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	body, _ := codec.GetCodec(codec.CodecTypeBinary).Encode(term.Tuple{term.Pid{Node: "x"}, term.Atom("rex"), "hi"})
	header := protocol.Header{CodecType: byte(codec.CodecTypeBinary), MsgType: protocol.MsgTypeSend, Seq: 1}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	// The acceptor hangs up without delivering anything.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("expect connection to be closed")
	}
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %+v", d)
	default:
	}
}

func TestAcceptorDropsBadFrames(t *testing.T) {
	dir := registry.NewStaticDirectory()
	deliveries := startAcceptor(t, dir, "b")
	inst, _ := dir.Resolve(context.Background(), "b")

	conn, err := net.Dial("tcp", inst.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	c := codec.GetCodec(codec.CodecTypeBinary)
	frame := func(seq uint32, msgType protocol.MsgType, v any) {
		body, err := c.Encode(v)
		if err != nil {
			t.Fatal(err)
		}
		h := protocol.Header{CodecType: byte(c.Type()), MsgType: msgType, Seq: seq}
		if err := protocol.Encode(conn, &h, body); err != nil {
			t.Fatal(err)
		}
	}
	frame(1, protocol.MsgTypeHello, term.Atom("a"))
	frame(2, protocol.MsgTypeSend, term.Tuple{"not a pid", term.Atom("rex"), 1})
	frame(3, protocol.MsgTypeHeartbeat, nil)
	frame(4, protocol.MsgTypeSend, term.Tuple{term.Pid{Node: "a"}, term.Atom("rex"), "ok"})

	d := next(t, deliveries)
	if d.message != "ok" || d.receiver != term.Atom("rex") {
		t.Fatalf("expect the valid frame after the bad one, got %+v", d)
	}
}

func TestPeerQueueFull(t *testing.T) {
	cfg := PoolConfig{LocalNode: "a", Resolver: registry.NewStaticDirectory(), QueueSize: 1}
	cfg.setDefaults()
	peer := newPeer(&cfg, "b", nil)

	if err := peer.Enqueue(protocol.MsgTypeSend, "one"); err != nil {
		t.Fatal(err)
	}
	if err := peer.Enqueue(protocol.MsgTypeSend, "two"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expect ErrQueueFull, got %v", err)
	}
	if err := peer.Enqueue(protocol.MsgTypeSend, struct{}{}); !errors.Is(err, codec.ErrUnsupportedTerm) {
		t.Fatalf("expect encode error, got %v", err)
	}

	peer.Close()
	if err := peer.Enqueue(protocol.MsgTypeSend, "three"); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expect ErrPeerClosed, got %v", err)
	}
}

func TestPoolForgetsUnreachablePeer(t *testing.T) {
	pool := NewPool(PoolConfig{LocalNode: "a", Resolver: registry.NewStaticDirectory(), Logger: zaptest.NewLogger(t)})
	defer pool.Close()

	// Queuing succeeds; the frame is dropped when the dial fails.
	if err := pool.Send("ghost", protocol.MsgTypeSend, "hello"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pool.mu.Lock()
		_, ok := pool.peers["ghost"]
		pool.mu.Unlock()
		if !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("unreachable peer was not forgotten")
}

func TestAcceptorShutdown(t *testing.T) {
	acc := NewAcceptor(make(chanDeliverer, 1), zaptest.NewLogger(t))
	addr, err := acc.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- acc.Serve() }()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := acc.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expect clean Serve exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestPoolSendAfterClose(t *testing.T) {
	dir := registry.NewStaticDirectory()
	deliveries := startAcceptor(t, dir, "b")

	pool := NewPool(PoolConfig{LocalNode: "a", Resolver: dir, Logger: zaptest.NewLogger(t)})
	pool.Close()

	err := pool.Send("b", protocol.MsgTypeSend, term.Tuple{term.Pid{Node: "a"}, term.Atom("rex"), "late"})
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expect ErrPeerClosed, got %v", err)
	}
	pool.mu.Lock()
	n := len(pool.peers)
	pool.mu.Unlock()
	if n != 0 {
		t.Fatalf("closed pool must not start peers, got %d", n)
	}
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAcceptorTrackAfterShutdown(t *testing.T) {
	acc := NewAcceptor(make(chanDeliverer, 1), zaptest.NewLogger(t))
	if err := acc.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	if acc.track(local, true) {
		t.Fatal("track must refuse connections after shutdown")
	}
	acc.mu.Lock()
	n := len(acc.conns)
	acc.mu.Unlock()
	if n != 0 {
		t.Fatalf("expect no tracked connections, got %d", n)
	}
	// The refused connection is closed.
	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err == nil {
		t.Fatal("expect refused connection to be closed")
	}
}
