package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter bridges Redis PubSub into the hub, which fans each message
// out to the WebSocket clients subscribed to its channel.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a router backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter { return &PubSubRouter{hub: hub} }

// RunExplicit subscribes to the hub's configured channel list and routes
// messages until ctx is cancelled.
func (r *PubSubRouter) RunExplicit(ctx context.Context) {
	channels := r.hub.buildChannels()
	if len(channels) == 0 {
		log.Println("[api_gateway] WARNING: no explicit channels to subscribe to")
		return
	}

	sub := r.hub.Rdb.Subscribe(ctx, channels...)
	defer sub.Close()
	log.Printf("[api_gateway] subscribed to %d PubSub channels", len(channels))

	r.drain(ctx, sub.Channel())
}

// RunPattern covers the dynamic per-market indicator and tick channels
// with wildcard subscriptions until ctx is cancelled.
func (r *PubSubRouter) RunPattern(ctx context.Context) {
	sub := r.hub.Rdb.PSubscribe(ctx, "pub:ind:*", "pub:tick:*")
	defer sub.Close()

	r.drain(ctx, sub.Channel())
}

// drain pumps messages into the hub until ctx ends or the feed closes.
func (r *PubSubRouter) drain(ctx context.Context, feed <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-feed:
			if !ok {
				return
			}
			r.hub.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
