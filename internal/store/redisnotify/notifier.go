// Package redisnotify announces collection changes to other dashboard
// instances over Redis pub/sub.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stockadmin/internal/store"
)

const DefaultChannel = "stockadmin:changes"

var _ store.Notifier = (*Notifier)(nil)

// notice is the payload published on the channel.
type notice struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
}

type Notifier struct {
	client   redis.UniversalClient
	channel  string
	instance string
}

// New wraps an existing client. Each Notifier gets its own instance id and
// ignores the notices it published itself.
func New(client redis.UniversalClient, channel string) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
	}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, channel string) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	slog.InfoContext(ctx, "Connected to Redis", "addr", addr, "channel", channel)
	return New(client, channel), nil
}

func (n *Notifier) Instance() string { return n.instance }

func (n *Notifier) Notify(ctx context.Context, collection string) error {
	payload, err := json.Marshal(notice{Origin: n.instance, Collection: collection})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

func (n *Notifier) Listen(ctx context.Context, fn func(collection string)) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n.handle(ctx, msg.Payload, fn)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, payload string, fn func(string)) {
	var nt notice
	if err := json.Unmarshal([]byte(payload), &nt); err != nil {
		slog.WarnContext(ctx, "Dropping malformed change notice", "error", err)
		return
	}
	if nt.Origin == n.instance || nt.Collection == "" {
		return
	}
	fn(nt.Collection)
}

func (n *Notifier) Close() error {
	return n.client.Close()
}
