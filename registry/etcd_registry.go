// etcd backed Directory.
//
//	Key:   /gen-rpc/nodes/{NodeName}
//	Value: JSON-encoded NodeInstance
//
// Registration uses a TTL lease: if the node dies the lease expires and the entry
// disappears, so peers stop resolving a dead address.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"gen-rpc/term"
)

const keyPrefix = "/gen-rpc/nodes/"

func nodeKey(name term.Atom) string { return keyPrefix + string(name) }

// EtcdDirectory implements Directory using etcd v3.
type EtcdDirectory struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[term.Atom]clientv3.LeaseID
}

// NewEtcdDirectory connects to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string, logger *zap.Logger) (*EtcdDirectory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdDirectory{
		client: c,
		logger: logger,
		leases: make(map[term.Atom]clientv3.LeaseID),
	}, nil
}

// Register publishes instance under a lease of ttl seconds and keeps the lease alive
// until Deregister or until the keepalive context is cancelled.
func (r *EtcdDirectory) Register(ctx context.Context, instance NodeInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, nodeKey(instance.Name), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("registry: put %s: %w", instance.Name, err)
	}

	// KeepAlive must outlive ctx, which is usually scoped to startup.
	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.mu.Lock()
	r.leases[instance.Name] = lease.ID
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.logger.Info("node lease keepalive stopped", zap.String("node", string(instance.Name)))
	}()
	return nil
}

// Deregister revokes the node's lease, which removes its key immediately.
func (r *EtcdDirectory) Deregister(ctx context.Context, name term.Atom) error {
	r.mu.Lock()
	id, ok := r.leases[name]
	delete(r.leases, name)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("registry: revoke %s: %w", name, err)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, nodeKey(name)); err != nil {
		return fmt.Errorf("registry: delete %s: %w", name, err)
	}
	return nil
}

// Resolve looks up a single node by name.
func (r *EtcdDirectory) Resolve(ctx context.Context, name term.Atom) (NodeInstance, error) {
	resp, err := r.client.Get(ctx, nodeKey(name))
	if err != nil {
		return NodeInstance{}, fmt.Errorf("registry: get %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return NodeInstance{}, ErrNodeUnknown
	}
	var inst NodeInstance
	if err := json.Unmarshal(resp.Kvs[0].Value, &inst); err != nil {
		return NodeInstance{}, fmt.Errorf("registry: decode %s: %w", name, err)
	}
	return inst, nil
}

// List returns every registered node.
func (r *EtcdDirectory) List(ctx context.Context) ([]NodeInstance, error) {
	resp, err := r.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}

	instances := make([]NodeInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst NodeInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("skipping malformed node entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch emits the full node list whenever any node registers, leaves or expires.
// The channel is closed when ctx is done.
func (r *EtcdDirectory) Watch(ctx context.Context) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, keyPrefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.List(ctx)
			if err != nil {
				r.logger.Warn("node list refresh failed", zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client.
func (r *EtcdDirectory) Close() error {
	return r.client.Close()
}
