package ws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/sched"
	"github.com/millrun/millrun/pkg/server/ws"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(url, "http", "ws", 1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsUpdates(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv.URL)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	j := job.New("part", job.TypeFileRun, 1)
	hub.Notify(sched.Update{Kind: sched.UpdateStarted, Job: j})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame ws.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, string(sched.UpdateStarted), frame.Kind)

	payload, ok := frame.Job.(map[string]any)
	require.True(t, ok)
	require.Equal(t, j.ID, payload["id"])
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv.URL)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_NotifyWithNoClients(t *testing.T) {
	hub := ws.NewHub()
	hub.Notify(sched.Update{Kind: sched.UpdateAdded, Job: job.New("x", job.TypeFileRun, 0)})
	require.Zero(t, hub.ClientCount())
}
