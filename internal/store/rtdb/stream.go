package rtdb

import (
	"context"
	"log/slog"
	"time"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"stockadmin/internal/log"
)

const (
	reconnectFirst   = 500 * time.Millisecond
	reconnectCeiling = 30 * time.Second

	// maxEventBytes bounds one event; a put carries the whole collection.
	maxEventBytes = 4 << 20
)

// newBackoff doubles from reconnectFirst up to reconnectCeiling and never
// gives up.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectFirst
	b.MaxInterval = reconnectCeiling
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// watch starts the streaming listener for collection once.
func (c *Client) watch(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watching[collection] || c.ctx.Err() != nil {
		return
	}
	c.watching[collection] = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.listen(c.ctx, collection)
	}()
}

// listen keeps a stream open until ctx is done. Broken connections are retried
// by the event-stream client; streams the server ends are reopened here.
func (c *Client) listen(ctx context.Context, collection string) {
	client := sse.NewClient(c.streamURL(collection), sse.ClientMaxBufferSize(maxEventBytes))
	client.Connection = c.http
	client.ReconnectStrategy = newBackoff()
	client.ReconnectNotify = func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "Realtime stream interrupted",
			log.FieldCollection, collection, log.FieldError, err, "retry_in", delay)
	}

	reopen := newBackoff()
	for {
		sctx, cancel := context.WithCancel(ctx)
		err := client.SubscribeRawWithContext(sctx, func(ev *sse.Event) {
			if !c.handleEvent(ctx, collection, string(ev.Event)) {
				cancel()
				return
			}
			reopen.Reset()
		})
		cancel()
		if ctx.Err() != nil {
			return
		}

		delay := reopen.NextBackOff()
		slog.InfoContext(ctx, "Realtime stream ended, reopening",
			log.FieldCollection, collection, log.FieldError, err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// handleEvent reacts to one stream event and reports whether the stream
// should stay open.
func (c *Client) handleEvent(ctx context.Context, collection, name string) bool {
	switch name {
	case "put", "patch":
		if err := c.refresh(ctx, collection); err != nil {
			slog.ErrorContext(ctx, "Failed to refresh collection",
				log.FieldCollection, collection, log.FieldError, err)
		}
	case "cancel", "auth_revoked":
		slog.WarnContext(ctx, "Realtime stream closed by server",
			log.FieldCollection, collection, "event", name)
		return false
	}
	return true
}
