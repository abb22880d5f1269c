// Package server runs a call dispatcher on a node process, the way rex serves
// rpc:call on an Erlang node.
//
// Message processing pipeline:
//
//	process inbox → Serve (single reader)
//	  → gen.ParseCall  → go serveCall: middleware chain → module function → Reply / ReplyExit
//	  → gen.ParseMessage → serveMessage (is_auth → yes)
//	  → anything else is dropped
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gen-rpc/gen"
	"gen-rpc/middleware"
	"gen-rpc/node"
	"gen-rpc/term"
)

// RexName is the name the dispatcher process is registered under by convention.
const RexName term.Atom = "rex"

// ErrUndef is returned for calls to a module or function that is not registered.
var ErrUndef = errors.New("undefined function")

// ExitError lets a handler choose the exit reason sent back to the caller.
type ExitError struct {
	Reason any
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit: %v", e.Reason)
}

type Dispatcher struct {
	proc        *node.Process
	replier     *gen.Replier
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu      sync.RWMutex
	modules map[string]*module

	wg      sync.WaitGroup // In-flight calls
	errOnce sync.Once
	fatal   error
	cancel  context.CancelFunc
}

// NewDispatcher serves calls arriving in proc's inbox and replies through reg.
func NewDispatcher(proc *node.Process, reg gen.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		proc:    proc,
		replier: gen.NewReplier(reg),
		logger:  logger.With(zap.Stringer("pid", proc.Pid())),
		modules: make(map[string]*module),
	}
}

// Register exposes the Func-shaped methods of rcvr as module name.
func (d *Dispatcher) Register(name string, rcvr any) error {
	m, err := newModule(name, rcvr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.modules[name]; ok {
		for fn, f := range m.funcs {
			old.funcs[fn] = f
		}
		return nil
	}
	d.modules[name] = m
	return nil
}

// RegisterFunc exposes a single function.
func (d *Dispatcher) RegisterFunc(moduleName, function string, fn Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modules[moduleName]
	if !ok {
		m = &module{name: moduleName, funcs: make(map[string]Func)}
		d.modules[moduleName] = m
	}
	m.funcs[function] = fn
}

// Use adds a middleware. Middlewares apply in the order added; call before Serve.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.middlewares = append(d.middlewares, mw)
}

// Serve reads the inbox until ctx is done or the process is closed, then waits for
// in-flight calls. It returns a non-nil error only when a reply could not be routed
// because the local node is no longer registered.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.handler = middleware.Chain(d.middlewares...)(d.businessHandler)

	ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	for {
		delivery, err := d.proc.Receive(ctx)
		if err != nil {
			break
		}
		d.dispatch(ctx, delivery)
	}

	d.wg.Wait()
	return d.fatal
}

func (d *Dispatcher) dispatch(ctx context.Context, delivery node.Delivery) {
	nodeName := d.proc.Node().Name()

	if call, err := gen.ParseCall(delivery.Message, nodeName); err == nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveCall(ctx, call)
		}()
		return
	}

	msg, err := gen.ParseMessage(delivery.Message, nodeName)
	if err != nil {
		d.logger.Debug("dropping message", zap.Stringer("from", delivery.From), zap.Error(err))
		return
	}
	d.serveMessage(msg)
}

func (d *Dispatcher) serveCall(ctx context.Context, call *gen.IncomingCall) {
	result, err := d.handler(ctx, call)
	if err != nil {
		d.check(d.replier.ReplyExit(call, d.proc.Pid(), exitReason(call, err)), call)
		return
	}
	d.check(d.replier.Reply(call, d.proc.Pid(), result), call)
}

// serveMessage answers the net_kernel is_auth probe; other generic messages have
// no handler here and get no reply.
func (d *Dispatcher) serveMessage(msg *gen.IncomingMessage) {
	if t, ok := msg.Payload().(term.Tuple); ok && len(t) == 2 && t[0] == term.Atom("is_auth") {
		d.check(d.replier.Reply(msg, d.proc.Pid(), term.Atom("yes")), msg)
		return
	}
	d.logger.Info("unhandled gen message", zap.Stringer("msg", msg))
}

// check logs a failed reply. A reply that cannot find its node stops the dispatcher.
func (d *Dispatcher) check(err error, req gen.Request) {
	if err == nil {
		return
	}
	if errors.Is(err, gen.ErrNodeNotFound) {
		d.logger.Error("reply routing failed, stopping", zap.Error(err))
		d.errOnce.Do(func() {
			d.fatal = err
			d.cancel()
		})
		return
	}
	d.logger.Warn("reply not sent", zap.Stringer("to", req.Sender()), zap.Error(err))
}

func (d *Dispatcher) businessHandler(ctx context.Context, call *gen.IncomingCall) (any, error) {
	d.mu.RLock()
	var fn Func
	if m, ok := d.modules[call.Module()]; ok {
		fn = m.funcs[call.Function()]
	}
	d.mu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("%w: %s:%s/%d", ErrUndef, call.Module(), call.Function(), len(call.Args()))
	}
	return fn(ctx, call.Args())
}

// exitReason maps a handler error to the reason carried by the exit reply.
func exitReason(call *gen.IncomingCall, err error) any {
	var exit *ExitError
	switch {
	case errors.As(err, &exit):
		return exit.Reason
	case errors.Is(err, ErrUndef):
		return term.Tuple{term.Atom("undef"),
			term.Tuple{term.Atom(call.Module()), term.Atom(call.Function()), int64(len(call.Args()))}}
	case errors.Is(err, middleware.ErrTimeout):
		return term.Atom("timeout")
	case errors.Is(err, middleware.ErrRateLimited):
		return term.Atom("overload")
	default:
		return term.Tuple{term.Atom("error"), term.Binary(err.Error())}
	}
}
