package redisnotify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSkipsOwnNotices(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	a := New(client, "")
	b := New(client, "")
	require.NotEqual(t, a.Instance(), b.Instance())
	assert.Equal(t, DefaultChannel, a.channel)

	payload, err := json.Marshal(notice{Origin: a.Instance(), Collection: "users"})
	require.NoError(t, err)

	var got []string
	record := func(c string) { got = append(got, c) }

	a.handle(context.Background(), string(payload), record)
	assert.Empty(t, got, "own notice must be ignored")

	b.handle(context.Background(), string(payload), record)
	assert.Equal(t, []string{"users"}, got)
}

func TestHandleDropsMalformed(t *testing.T) {
	n := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "custom")
	defer n.Close()

	called := false
	n.handle(context.Background(), "{not json", func(string) { called = true })
	n.handle(context.Background(), `{"origin":"other"}`, func(string) { called = true })
	assert.False(t, called)
	assert.Equal(t, "custom", n.channel)
}
