// Package redis carries record change signals over Redis pub/sub, so that
// several server instances sharing one store see each other's writes.
package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"vitals/internal/domain"
	"vitals/internal/pubsub"
)

// Prefix is prepended to the user ID to form the channel name.
const Prefix = "vitals:records:"

const channelSize = 100

var _ domain.ChangeNotifier = (*Notifier)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client.
func NewClient(o Options) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

// Notifier publishes one message per change on the user's channel. A single
// pattern subscription receives every user's changes and fans them out to
// local listeners.
type Notifier struct {
	client *goredis.Client
	ps     *goredis.PubSub
	broker *pubsub.Broker
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewNotifier subscribes to every user's channel and starts dispatching.
func NewNotifier(ctx context.Context, client *goredis.Client, log *zap.Logger) (*Notifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ps := client.PSubscribe(ctx, Prefix+"*")
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	n := &Notifier{
		client: client,
		ps:     ps,
		broker: pubsub.NewBroker(),
		log:    log.With(zap.String("component", "redis-notifier")),
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dispatch(ps.ChannelWithSubscriptions(ctx, channelSize))
	}()
	return n, nil
}

// Publish announces a change to userID's records.
func (n *Notifier) Publish(ctx context.Context, userID int64) error {
	return n.client.Publish(ctx, Prefix+strconv.FormatInt(userID, 10), "changed").Err()
}

// Listen registers a local listener for userID.
func (n *Notifier) Listen(ctx context.Context, userID int64) (<-chan struct{}, func(), error) {
	return n.broker.Listen(ctx, userID)
}

// Close unsubscribes and waits for the dispatcher to exit.
func (n *Notifier) Close() error {
	err := n.ps.Close()
	n.wg.Wait()
	return err
}

// dispatch fans messages out to local listeners. go-redis re-subscribes
// after a reconnect; changes published while disconnected are lost, so a
// fresh subscription confirmation wakes every listener to reload.
func (n *Notifier) dispatch(ch <-chan interface{}) {
	for m := range ch {
		switch msg := m.(type) {
		case *goredis.Subscription:
			if msg.Kind != "psubscribe" {
				continue
			}
			n.log.Info("resubscribed; reloading all listeners", zap.String("pattern", msg.Channel))
			n.broker.PublishAll()
		case *goredis.Message:
			userID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, Prefix), 10, 64)
			if err != nil {
				n.log.Warn("ignoring message on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			_ = n.broker.Publish(context.Background(), userID)
		}
	}
}
