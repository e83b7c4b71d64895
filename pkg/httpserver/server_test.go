package httpserver_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/httpserver"
)

func TestServer_RunAndShutdown(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, srv.Shutdown(context.Background()), "repeated shutdown is a no-op")
}

func TestServer_RunFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := httpserver.New(httpserver.Config{Addr: ln.Addr().String()}, nil)
	err = srv.Run(context.Background())
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	httpserver.Liveness()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())

	ok := httpserver.Check{Name: "ok", Fn: func(context.Context) error { return nil }}
	down := httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("down") }}

	tests := []struct {
		name   string
		checks []httpserver.Check
		code   int
		body   string
	}{
		{"no checks", nil, http.StatusOK, "READY"},
		{"all pass", []httpserver.Check{ok, ok}, http.StatusOK, "READY"},
		{"one fails", []httpserver.Check{ok, down}, http.StatusServiceUnavailable, "NOT_READY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			httpserver.Readiness(nil, tt.checks...)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}
