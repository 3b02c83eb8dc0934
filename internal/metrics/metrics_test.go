package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	m := New(func() int { return 3 })

	m.HighlightPulsed()
	m.HighlightPulsed()
	m.UserWritten([]string{"blocked"}, nil)
	m.UserWritten([]string{"blocked"}, errors.New("denied"))
	m.UserWritten([]string{"email", "name", "password"}, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pulses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.userWrites.WithLabelValues("blocked", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.userWrites.WithLabelValues("blocked", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.userWrites.WithLabelValues("email,name,password", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
}

func TestLiveClientsGauge(t *testing.T) {
	m := New(nil)
	m.LiveClientConnected()
	m.LiveClientConnected()
	m.LiveClientDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveClients))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.SnapshotReceived("users")
	m.ObserveHTTP("/", 200, 15*time.Millisecond)
	m.ChangeEvent("out", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	for _, want := range []string{
		`stockadmin_snapshots_received_total{collection="users"} 1`,
		`stockadmin_http_requests_total{code="200",route="/"} 1`,
		`stockadmin_change_events_total{direction="out",outcome="ok"} 1`,
	} {
		assert.True(t, strings.Contains(out, want), "missing %s", want)
	}
}
