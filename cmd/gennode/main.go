// Command gennode runs one node: a distribution listener, an entry in the node
// directory and a rex dispatcher answering rpc calls.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gen-rpc/codec"
	"gen-rpc/config"
	"gen-rpc/dist"
	"gen-rpc/middleware"
	"gen-rpc/node"
	"gen-rpc/registry"
	"gen-rpc/server"
	"gen-rpc/telemetry"
	"gen-rpc/term"
)

const serviceName = "gennode"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("node stopped", zap.Error(err))
	}
	logger.Info("node stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

type directory interface {
	registry.Directory
	Close() error
}

type staticCloser struct{ *registry.StaticDirectory }

func (staticCloser) Close() error { return nil }

func openDirectory(cfg config.Config, logger *zap.Logger) (directory, error) {
	if len(cfg.EtcdEndpoints) == 0 {
		logger.Warn("no etcd endpoints, node directory is local only")
		return staticCloser{registry.NewStaticDirectory()}, nil
	}
	return registry.NewEtcdDirectory(cfg.EtcdEndpoints, logger)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	name := term.Atom(cfg.NodeName)
	creation := cfg.Creation
	if creation == 0 {
		creation = uint32(time.Now().Unix())
	}
	logger = logger.With(zap.String("node", cfg.NodeName))

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.NodeName, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	dir, err := openDirectory(cfg, logger)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	defer dir.Close()

	codecType := codec.CodecTypeBinary
	if cfg.Codec == "json" {
		codecType = codec.CodecTypeJSON
	}
	pool := dist.NewPool(dist.PoolConfig{
		LocalNode: name,
		Resolver:  dir,
		Codec:     codecType,
		QueueSize: cfg.OutboundQueue,
		Heartbeat: cfg.Heartbeat,
		Logger:    logger,
	})
	defer pool.Close()

	local := node.New(name, node.Options{
		Creation:    creation,
		MailboxSize: cfg.MailboxSize,
		Outbound:    pool,
		Logger:      logger,
	})
	nodes := node.NewRegistry()
	if err := nodes.Register(local); err != nil {
		return err
	}

	acc := dist.NewAcceptor(local, logger)
	addr, err := acc.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = addr.String()
		if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
			advertise = net.JoinHostPort("127.0.0.1", fmt.Sprint(tcp.Port))
		}
	}

	rex, err := local.Spawn(server.RexName)
	if err != nil {
		return err
	}
	disp := server.NewDispatcher(rex, nodes, logger)
	disp.Use(middleware.LoggingMiddleware(logger))
	disp.Use(middleware.TracingMiddleware(otel.Tracer("gen-rpc/server")))
	disp.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	disp.Use(middleware.TimeOutMiddleware(cfg.CallTimeout))
	// Innermost: the timeout runs the handler on its own goroutine.
	disp.Use(middleware.RecoverMiddleware())
	if err := disp.Register("erlang", &erlangModule{node: local, rex: rex}); err != nil {
		return err
	}

	instance := registry.NodeInstance{Name: name, Addr: advertise, Creation: creation}
	if err := dir.Register(ctx, instance, cfg.LeaseTTL); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	logger.Info("node started", zap.String("addr", advertise), zap.Uint32("creation", creation))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(acc.Serve)
	g.Go(func() error { return disp.Serve(gctx) })
	g.Go(func() error {
		watchPeers(gctx, dir, pool, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		deregCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := dir.Deregister(deregCtx, name); err != nil {
			logger.Warn("deregister failed", zap.Error(err))
		}
		return acc.Shutdown(5 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchPeers drops connections to nodes that leave the directory, so the next
// send resolves the address again.
func watchPeers(ctx context.Context, dir registry.Directory, pool *dist.Pool, logger *zap.Logger) {
	known := make(map[term.Atom]registry.NodeInstance)
	for nodes := range dir.Watch(ctx) {
		live := make(map[term.Atom]registry.NodeInstance, len(nodes))
		for _, inst := range nodes {
			live[inst.Name] = inst
		}
		for name, old := range known {
			if cur, ok := live[name]; !ok || cur != old {
				logger.Info("peer changed", zap.String("peer", string(name)))
				pool.Disconnect(name)
			}
		}
		known = live
	}
}
