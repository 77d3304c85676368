package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		MetricsAddr:              "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, pingRegistrar{})
	require.NoError(t, err)
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRegistrarRoutesMounted(t *testing.T) {
	srv := newTestServer(t)

	rec := get(srv, "/api/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)

	rec := get(srv, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDrainUndrainCycle(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	assert.Equal(t, http.StatusOK, get(srv, "/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)

	assert.Equal(t, http.StatusOK, get(srv, "/undrain").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)
}
