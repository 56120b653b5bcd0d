package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/sched"
	"github.com/millrun/millrun/pkg/server/api"
	"github.com/millrun/millrun/pkg/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	mgr := sched.NewManager(queue.New(), stream.NewSimStreamer(time.Millisecond), nil, sched.Options{})
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Stop(ctx)
	})

	ready := &atomic.Bool{}
	ready.Store(true)
	return New(&api.Deps{Scheduler: mgr, Ready: ready}, Options{Host: "127.0.0.1", Port: 0})
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/missing", http.StatusNotFound},
		{http.MethodGet, "/api/v1/queue/next", http.StatusNotFound},
		{http.MethodGet, "/api/v1/history", http.StatusNotFound},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			srv.httpServer.Handler.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAddr(t *testing.T) {
	srv := New(&api.Deps{}, Options{Host: "127.0.0.1", Port: 8173})
	require.Equal(t, "127.0.0.1:8173", srv.Addr())
}
