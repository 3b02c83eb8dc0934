package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockadmin/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, maxBackoff},
		{40, maxBackoff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exponentialBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"closed", amqp091.ErrClosed, true},
		{"wrapped closed", errors.New("publish: " + amqp091.ErrClosed.Error()), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"dial", errors.New("dial tcp 127.0.0.1:5672: refused"), true},
		{"validation", errors.New("user change without fields"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnectionError(tt.err))
		})
	}
}

func TestCircuitBreaker(t *testing.T) {
	c := &Client{}
	assert.False(t, c.isCircuitOpen())

	for i := 0; i < maxFailures-1; i++ {
		c.recordFailure()
	}
	assert.False(t, c.isCircuitOpen())

	c.recordFailure()
	assert.True(t, c.isCircuitOpen())

	err := c.PublishUserChange(context.Background(), NewUserChangeMessage("u1", []string{"blocked"}, "test"))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	c.failMu.Lock()
	c.lastFailure = time.Now().Add(-openTimeout - time.Second)
	c.failMu.Unlock()
	assert.False(t, c.isCircuitOpen())
	assert.Equal(t, StateHalfOpen, c.state)

	c.recordFailure()
	assert.True(t, c.isCircuitOpen(), "a failure while half-open reopens")

	c.recordSuccess()
	assert.False(t, c.isCircuitOpen())
	assert.Equal(t, int64(0), c.failureCount)
}

func TestUserChangeMessage(t *testing.T) {
	msg := NewUserChangeMessage("u1", []string{"email", "name", "password"}, "dashboard")
	require.NoError(t, msg.Validate())

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"userId":"u1"`)

	got, err := UserChangeMessageFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Fields, got.Fields)
	assert.True(t, msg.Timestamp.Equal(got.Timestamp))

	_, err = UserChangeMessageFromJSON([]byte(`{"userId":"u1","fields":[]}`))
	assert.Error(t, err)
	_, err = UserChangeMessageFromJSON([]byte(`{"fields":["name"]}`))
	assert.Error(t, err)
	_, err = UserChangeMessageFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

type fakeAck struct {
	acked, nacked, requeued int
}

func (f *fakeAck) Ack(bool) error { f.acked++; return nil }
func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked++
	if requeue {
		f.requeued++
	}
	return nil
}

func TestDispatch(t *testing.T) {
	body, err := NewUserChangeMessage("u1", []string{"blocked"}, "test").ToJSON()
	require.NoError(t, err)

	t.Run("success acks", func(t *testing.T) {
		ack := &fakeAck{}
		var seen string
		dispatch(context.Background(), body, ack, func(_ context.Context, m *UserChangeMessage) error {
			seen = m.UserID
			return nil
		})
		assert.Equal(t, "u1", seen)
		assert.Equal(t, 1, ack.acked)
		assert.Equal(t, 0, ack.nacked)
	})

	t.Run("handler error requeues", func(t *testing.T) {
		ack := &fakeAck{}
		dispatch(context.Background(), body, ack, func(context.Context, *UserChangeMessage) error {
			return errors.New("database locked")
		})
		assert.Equal(t, 0, ack.acked)
		assert.Equal(t, 1, ack.requeued)
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		called := false
		dispatch(context.Background(), []byte(`{}`), ack, func(context.Context, *UserChangeMessage) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.Equal(t, 1, ack.nacked)
		assert.Equal(t, 0, ack.requeued)
	})
}

type fakeUpdater struct {
	err   error
	calls int
}

func (f *fakeUpdater) Update(context.Context, string, string, core.Patch) error {
	f.calls++
	return f.err
}

type fakePublisher struct {
	err  error
	msgs []*UserChangeMessage
}

func (f *fakePublisher) PublishUserChange(_ context.Context, m *UserChangeMessage) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

type fakeRecorder struct{ outcomes []string }

func (f *fakeRecorder) ChangeEvent(direction string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	f.outcomes = append(f.outcomes, direction+":"+outcome)
}

func TestPublishingUpdater(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes field names only", func(t *testing.T) {
		pub, rec := &fakePublisher{}, &fakeRecorder{}
		u := NewPublishingUpdater(&fakeUpdater{}, pub, "dashboard", rec)

		patch := core.ProfilePatch(core.User{Name: "Ann", Email: "ann@example.com", Password: "hunter2"})
		require.NoError(t, u.Update(ctx, core.CollectionUsers, "u1", patch))

		require.Len(t, pub.msgs, 1)
		m := pub.msgs[0]
		assert.Equal(t, "u1", m.UserID)
		assert.Equal(t, []string{"email", "name", "password"}, m.Fields)
		assert.Equal(t, "dashboard", m.Source)

		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(data), "hunter2"))
		assert.Equal(t, []string{"out:ok"}, rec.outcomes)
	})

	t.Run("failed update publishes nothing", func(t *testing.T) {
		pub := &fakePublisher{}
		u := NewPublishingUpdater(&fakeUpdater{err: core.ErrNotFound}, pub, "dashboard", nil)
		err := u.Update(ctx, core.CollectionUsers, "nope", core.BlockedPatch(true))
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Empty(t, pub.msgs)
	})

	t.Run("publish failure does not fail the update", func(t *testing.T) {
		pub, rec := &fakePublisher{err: errors.New("broker down")}, &fakeRecorder{}
		next := &fakeUpdater{}
		u := NewPublishingUpdater(next, pub, "dashboard", rec)
		require.NoError(t, u.Update(ctx, core.CollectionUsers, "u1", core.BlockedPatch(true)))
		assert.Equal(t, 1, next.calls)
		assert.Equal(t, []string{"out:error"}, rec.outcomes)
	})
}
