package server

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gen-rpc/gen"
	"gen-rpc/middleware"
	"gen-rpc/node"
	"gen-rpc/term"
)

type Arith struct{}

func (a *Arith) Add(ctx context.Context, args term.List) (any, error) {
	var sum int64
	for _, v := range args {
		n, ok := v.(int)
		if !ok {
			return nil, &ExitError{Reason: term.Atom("badarg")}
		}
		sum += int64(n)
	}
	return sum, nil
}

func (a *Arith) Fail(ctx context.Context, args term.List) (any, error) {
	return nil, errors.New("arith failed")
}

// Not callable: wrong shape.
func (a *Arith) Helper(x int) int { return x }

type fixture struct {
	reg    *node.Registry
	node   *node.Node
	caller *node.Process
	disp   *Dispatcher
	done   chan error
	cancel context.CancelFunc
}

func startDispatcher(t *testing.T, mws ...middleware.Middleware) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := node.NewRegistry()
	n := node.New("n1", node.Options{Logger: logger})
	if err := reg.Register(n); err != nil {
		t.Fatal(err)
	}
	rex, err := n.Spawn(RexName)
	if err != nil {
		t.Fatal(err)
	}
	caller, err := n.Spawn("")
	if err != nil {
		t.Fatal(err)
	}

	disp := NewDispatcher(rex, reg, logger)
	if err := disp.Register("arith", &Arith{}); err != nil {
		t.Fatal(err)
	}
	disp.RegisterFunc("erlang", "node", func(ctx context.Context, args term.List) (any, error) {
		return n.Name(), nil
	})
	for _, mw := range mws {
		disp.Use(mw)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- disp.Serve(ctx) }()

	f := &fixture{reg: reg, node: n, caller: caller, disp: disp, done: done, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCall(t *testing.T) {
	f := startDispatcher(t)

	result, err := Call(callCtx(t), f.caller, "n1", "arith", "add", term.List{1, 2, 3})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != int64(6) {
		t.Fatalf("expect 6, got %v", result)
	}

	result, err = Call(callCtx(t), f.caller, "n1", "erlang", "node", term.List{})
	if err != nil || result != term.Atom("n1") {
		t.Fatalf("expect n1, got %v %v", result, err)
	}
}

func TestCallExitReasons(t *testing.T) {
	f := startDispatcher(t)

	cases := []struct {
		name     string
		mod, fun string
		args     term.List
		reason   any
	}{
		{"custom exit", "arith", "add", term.List{"x"}, term.Atom("badarg")},
		{"handler error", "arith", "fail", term.List{}, term.Tuple{term.Atom("error"), term.Binary("arith failed")}},
		{"unknown function", "arith", "helper", term.List{1},
			term.Tuple{term.Atom("undef"), term.Tuple{term.Atom("arith"), term.Atom("helper"), int64(1)}}},
		{"unknown module", "nope", "f", term.List{},
			term.Tuple{term.Atom("undef"), term.Tuple{term.Atom("nope"), term.Atom("f"), int64(0)}}},
	}
	for _, tc := range cases {
		_, err := Call(callCtx(t), f.caller, "n1", tc.mod, tc.fun, tc.args)
		var exit *ExitError
		if !errors.As(err, &exit) {
			t.Fatalf("%s: expect ExitError, got %v", tc.name, err)
		}
		if !reflect.DeepEqual(exit.Reason, tc.reason) {
			t.Fatalf("%s: expect reason %v, got %v", tc.name, tc.reason, exit.Reason)
		}
	}
}

func TestCallThroughMiddleware(t *testing.T) {
	f := startDispatcher(t,
		middleware.RecoverMiddleware(),
		middleware.RateLimitMiddleware(0.001, 1),
	)
	if _, err := Call(callCtx(t), f.caller, "n1", "arith", "add", term.List{1}); err != nil {
		t.Fatalf("first call must pass: %v", err)
	}
	_, err := Call(callCtx(t), f.caller, "n1", "arith", "add", term.List{1})
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Reason != term.Atom("overload") {
		t.Fatalf("expect overload exit, got %v", err)
	}
}

func TestIsAuth(t *testing.T) {
	f := startDispatcher(t)
	ref := f.node.MakeRef()
	msg := term.Tuple{gen.GenCall, term.Tuple{f.caller.Pid(), ref}, term.Tuple{term.Atom("is_auth"), term.Atom("n2")}}
	if err := f.caller.SendName("n1", RexName, msg); err != nil {
		t.Fatal(err)
	}
	d, err := f.caller.Receive(callCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Message, term.Tuple{ref, term.Atom("yes")}) {
		t.Fatalf("expect {Ref, yes}, got %v", d.Message)
	}
}

func TestGarbageIsDropped(t *testing.T) {
	f := startDispatcher(t)
	for _, msg := range []any{42, term.Tuple{term.Atom("$other_tag"), 1, 2}, "hello"} {
		if err := f.caller.SendName("n1", RexName, msg); err != nil {
			t.Fatal(err)
		}
	}
	// The dispatcher is still serving afterwards.
	result, err := Call(callCtx(t), f.caller, "n1", "arith", "add", term.List{2})
	if err != nil || result != int64(2) {
		t.Fatalf("expect 2, got %v %v", result, err)
	}
}

func TestServeStopsWhenNodeUnregistered(t *testing.T) {
	f := startDispatcher(t)
	f.reg.Unregister("n1")

	if err := f.caller.SendName("n1", RexName, term.Tuple{gen.GenCall, term.Tuple{f.caller.Pid(), f.node.MakeRef()},
		term.Tuple{term.Atom("call"), "arith", "add", term.List{}, f.caller.Pid()}}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-f.done:
		if !errors.Is(err, gen.ErrNodeNotFound) {
			t.Fatalf("expect ErrNodeNotFound, got %v", err)
		}
		f.done <- err // for cleanup
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRegisterRejectsNonPointer(t *testing.T) {
	f := startDispatcher(t)
	if err := f.disp.Register("bad", Arith{}); err == nil {
		t.Fatal("expect error for non-pointer receiver")
	}
	if err := f.disp.Register("bad", &struct{}{}); err == nil {
		t.Fatal("expect error for receiver without callable methods")
	}
}
