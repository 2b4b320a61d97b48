package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/casbin/casbin/v2/persist"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPolicyChannel = "access:policy:changed"

// PolicyWatcher broadcasts policy changes over Redis pub/sub so every replica
// reloads its enforcement view. Messages carry the sender's instance id and
// a replica ignores its own.
type PolicyWatcher struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *slog.Logger

	mu       sync.RWMutex
	callback func(string)

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

var _ persist.Watcher = (*PolicyWatcher)(nil)

// NewPolicyWatcher subscribes to channel and starts the listener. It returns
// once the subscription is confirmed.
func NewPolicyWatcher(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger) (*PolicyWatcher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultPolicyChannel
	}
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	w := &PolicyWatcher{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
		pubsub:     pubsub,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go w.listen(listenCtx)
	return w, nil
}

func (w *PolicyWatcher) listen(ctx context.Context) {
	defer close(w.done)
	messages := w.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Payload == w.instanceID {
				continue
			}
			w.mu.RLock()
			cb := w.callback
			w.mu.RUnlock()
			if cb == nil {
				continue
			}
			w.logger.InfoContext(ctx, "policy change received",
				"module", "cache",
				"layer", "adapter",
				"operation", "policy_watch",
				"outcome", "reload",
				"sender", msg.Payload,
			)
			cb(msg.Payload)
		}
	}
}

func (w *PolicyWatcher) SetUpdateCallback(cb func(string)) error {
	w.mu.Lock()
	w.callback = cb
	w.mu.Unlock()
	return nil
}

// Update announces a local policy change.
func (w *PolicyWatcher) Update() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.client.Publish(ctx, w.channel, w.instanceID).Err()
}

func (w *PolicyWatcher) Close() {
	w.cancel()
	_ = w.pubsub.Close()
	<-w.done
}
