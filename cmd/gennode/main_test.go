package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gen-rpc/config"
	"gen-rpc/node"
	"gen-rpc/server"
	"gen-rpc/term"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("debug level: %v", err)
	}
	if _, err := newLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestErlangModule(t *testing.T) {
	n := node.New("n1", node.Options{})
	rex, err := n.Spawn(server.RexName)
	if err != nil {
		t.Fatal(err)
	}
	m := &erlangModule{node: n, rex: rex}
	ctx := context.Background()

	if v, err := m.Node(ctx, term.List{}); err != nil || v != term.Atom("n1") {
		t.Fatalf("node: %v %v", v, err)
	}
	if v, err := m.Whereis(ctx, term.List{term.Atom("rex")}); err != nil || v != rex.Pid() {
		t.Fatalf("whereis rex: %v %v", v, err)
	}
	if v, _ := m.Whereis(ctx, term.List{term.Atom("nobody")}); v != term.Atom("undefined") {
		t.Fatalf("whereis nobody: %v", v)
	}
	if v, err := m.Length(ctx, term.List{term.List{1, 2, 3}}); err != nil || v != int64(3) {
		t.Fatalf("length: %v %v", v, err)
	}

	var exit *server.ExitError
	if _, err := m.Length(ctx, term.List{42}); !errors.As(err, &exit) {
		t.Fatalf("expected badarg, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Config{
		NodeName:    "smoke",
		ListenAddr:  "127.0.0.1:0",
		Codec:       "binary",
		LeaseTTL:    10,
		RateLimit:   100,
		RateBurst:   10,
		CallTimeout: time.Second,
		Heartbeat:   time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t)) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
}
