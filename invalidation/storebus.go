package invalidation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
)

// PubSub is the slice of the far store the bus needs. The hybrid
// coordinator passes its shared far client here so invalidation reuses the
// same multiplexed connection.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (far.Subscription, error)
}

// StoreBus is the lightweight transport: pub/sub on the far store itself.
// Messages published while no subscriber is connected are lost, which the
// invalidation contract tolerates.
type StoreBus struct {
	ps      PubSub
	channel string
	log     *zap.Logger

	mu  sync.Mutex
	sub far.Subscription
}

// NewStoreBus builds a bus over ps on the given channel.
func NewStoreBus(ps PubSub, channel string, logger *zap.Logger) *StoreBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreBus{ps: ps, channel: channel, log: logger}
}

// Publish sends one event. Invalid events (empty key) are dropped here
// rather than shipped to every peer.
func (b *StoreBus) Publish(ctx context.Context, e Event) error {
	if !e.Valid() {
		return errors.New("invalidation: event key is empty")
	}
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	return b.ps.Publish(ctx, b.channel, payload)
}

// PublishBatch sends events one by one, returning the accepted count and
// the first error.
func (b *StoreBus) PublishBatch(ctx context.Context, events []Event) (int, error) {
	for i, e := range events {
		if err := b.Publish(ctx, e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// Subscribe installs handler for every decodable event on the channel.
// Undecodable payloads and handler panics are logged and swallowed; the
// subscription stays active.
func (b *StoreBus) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("invalidation: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return errors.New("invalidation: already subscribed")
	}
	sub, err := b.ps.Subscribe(ctx, b.channel, func(payload []byte) {
		b.dispatch(handler, payload)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *StoreBus) dispatch(handler Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("invalidation handler panic", zap.Any("panic", r))
		}
	}()
	e, err := Unmarshal(payload)
	if err != nil {
		b.log.Warn("dropping undecodable invalidation payload", zap.Error(err))
		return
	}
	handler(e)
}

// Unsubscribe closes the subscription. Safe to call when not subscribed.
func (b *StoreBus) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}

// IsSubscribed reports whether a handler is active.
func (b *StoreBus) IsSubscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil
}

var (
	_ Publisher  = (*StoreBus)(nil)
	_ Subscriber = (*StoreBus)(nil)
)
