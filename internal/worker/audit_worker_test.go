package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockadmin/internal/amqp"
	"stockadmin/internal/store/sqlite"
)

type countingRecorder struct{ in, failed int }

func (r *countingRecorder) ChangeEvent(direction string, err error) {
	if direction != "in" {
		return
	}
	r.in++
	if err != nil {
		r.failed++
	}
}

func TestAuditWorkerWritesEntries(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "audit.db"), sqlite.Options{})
	require.NoError(t, err)
	defer st.Close()

	rec := &countingRecorder{}
	w := NewAuditWorker(st, rec)
	ctx := context.Background()

	at := time.UnixMilli(1_700_000_000_000)
	msg := &amqp.UserChangeMessage{UserID: "u1", Fields: []string{"blocked"}, Source: "dashboard", Timestamp: at}
	require.NoError(t, w.HandleUserChange(ctx, msg))
	require.NoError(t, w.HandleUserChange(ctx, &amqp.UserChangeMessage{
		UserID: "u2", Fields: []string{"email", "name", "password"}, Source: "dashboard",
	}))

	entries, err := st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"blocked"}, entries[0].Fields)
	assert.Equal(t, "dashboard", entries[0].Source)
	assert.True(t, entries[0].OccurredAt.Equal(at))
	assert.Equal(t, 2, rec.in)
	assert.Equal(t, 0, rec.failed)
}

type failingLog struct{}

func (failingLog) AppendAudit(context.Context, sqlite.AuditEntry) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestAuditWorkerSurfacesErrors(t *testing.T) {
	rec := &countingRecorder{}
	w := NewAuditWorker(failingLog{}, rec)
	err := w.HandleUserChange(context.Background(), &amqp.UserChangeMessage{UserID: "u1", Fields: []string{"status"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, rec.failed)
}
