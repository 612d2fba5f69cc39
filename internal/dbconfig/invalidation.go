package dbconfig

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ReloadChannel is the Redis Pub/Sub channel used to propagate a config
// reload signal across instances that share a connection-string source.
// A changed connection name is announced on this channel with Publish
// (a local reload does not publish by itself); every instance running
// Registration.ListenForReload evicts its own cached data source for
// that name, so a reload on one node does not leave stale pooled
// connections alive on the others. Resilience state is not evicted.
const ReloadChannel = "dbexec:config:reload"

// ReloadBroadcaster listens for reload signals over Redis Pub/Sub and
// invokes onInvalidate with the connection name that changed. It is the
// distributed complement to the in-process Monitor: Monitor handles
// same-process invalidation; ReloadBroadcaster extends that signal
// across a fleet of instances that all read the same connection-string
// source.
type ReloadBroadcaster struct {
	client *redis.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewReloadBroadcaster wraps an existing Redis client. The caller owns
// the client's lifecycle.
func NewReloadBroadcaster(client *redis.Client) *ReloadBroadcaster {
	return &ReloadBroadcaster{client: client}
}

// Listen subscribes to ReloadChannel and calls onInvalidate for every
// connection name published by another instance. It blocks until ctx is
// cancelled or Close is called.
func (b *ReloadBroadcaster) Listen(ctx context.Context, onInvalidate func(connectionName string)) {
	subCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	pubsub := b.client.Subscribe(subCtx, ReloadChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			onInvalidate(msg.Payload)
		}
	}
}

// Publish announces that connectionName's connection string changed.
func (b *ReloadBroadcaster) Publish(ctx context.Context, connectionName string) error {
	if err := b.client.Publish(ctx, ReloadChannel, connectionName).Err(); err != nil {
		slog.Default().Warn("dbconfig: failed to publish reload signal", "connection_name", connectionName, "error", err)
		return err
	}
	return nil
}

// Close stops Listen. Idempotent.
func (b *ReloadBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}
