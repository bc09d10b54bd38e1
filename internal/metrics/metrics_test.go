package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/framewire/internal/dispatch"
)

func TestObserverCountsSession(t *testing.T) {
	m := New(nil)

	obs := m.Observer("ws")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions.WithLabelValues("ws")))

	obs.Admitted()
	obs.Admitted()
	obs.Written()
	obs.Finished(&dispatch.Error{Kind: dispatch.KindDecoder, Err: io.ErrUnexpectedEOF})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admitted.WithLabelValues("ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.written.WithLabelValues("ws")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions.WithLabelValues("ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("ws", "decoder")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sessionDuration))
}

func TestObserverOutcomes(t *testing.T) {
	m := New(nil)

	m.Observer("rpc").Finished(nil)
	m.Observer("rpc").Finished(nil)
	m.Observer("rpc").Finished(context.Canceled)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions.WithLabelValues("rpc", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("rpc", "cancelled")))
}

func TestCollectAndHandler(t *testing.T) {
	m := New(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/missing", http.NotFound)
	mux.Handle("/metrics", m.Handler())
	h := m.Collect(mux)

	for _, path := range []string{"/healthz", "/healthz", "/missing", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("200", "GET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("404", "GET")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "framewire_http_requests_total"), "exposition should list http counter")
}
