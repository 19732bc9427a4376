// SPDX-License-Identifier: MIT

package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f serverFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, f clientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func TestSubscribeAndProgressFanOut(t *testing.T) {
	h := NewHub(nil)
	conn := dialTestHub(t, h)

	// Subscribing before the job exists is the normal client flow.
	send(t, conn, clientFrame{Type: actionSubscribe, JobID: "futurejob001"})
	f := readFrame(t, conn)
	assert.Equal(t, frameSubscribed, f.Type)
	assert.Equal(t, "futurejob001", f.JobID)

	h.Progress("futurejob001", 25, "analyzing")
	f = readFrame(t, conn)
	assert.Equal(t, frameProgress, f.Type)
	require.NotNil(t, f.Percent)
	assert.Equal(t, 25.0, *f.Percent)
	assert.Equal(t, "analyzing", f.Stage)

	h.Complete("futurejob001", "/upload/job/futurejob001/download", &CompleteMetrics{
		WinnerName:     "Balanced",
		IntegratedLUFS: -16.2,
	})
	f = readFrame(t, conn)
	assert.Equal(t, frameComplete, f.Type)
	assert.Equal(t, "/upload/job/futurejob001/download", f.DownloadURL)
	require.NotNil(t, f.Metrics)
	assert.Equal(t, "Balanced", f.Metrics.WinnerName)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	conn := dialTestHub(t, h)

	send(t, conn, clientFrame{Type: actionSubscribe, JobID: "somejob00001"})
	require.Equal(t, frameSubscribed, readFrame(t, conn).Type)

	send(t, conn, clientFrame{Type: actionUnsubscribe, JobID: "somejob00001"})
	require.Equal(t, frameUnsubscribed, readFrame(t, conn).Type)

	h.Progress("somejob00001", 50, "executing")

	// Only the pong should arrive; the progress frame must not.
	send(t, conn, clientFrame{Type: actionPing})
	f := readFrame(t, conn)
	assert.Equal(t, framePong, f.Type)
	assert.NotZero(t, f.Timestamp)
}

func TestPublishToJobWithoutSubscribers(t *testing.T) {
	h := NewHub(nil)
	// Must not panic or block.
	h.Progress("nobodyhome01", 10, "analyzing")
	h.Error("nobodyhome01", "boom", "PROCESSING_FAILED")
}

func TestSubscriptionLimit(t *testing.T) {
	h := NewHub(nil)
	conn := dialTestHub(t, h)

	for i := 0; i < maxSubscriptions; i++ {
		send(t, conn, clientFrame{Type: actionSubscribe, JobID: fmt.Sprintf("job%09d", i)})
		require.Equal(t, frameSubscribed, readFrame(t, conn).Type)
	}

	send(t, conn, clientFrame{Type: actionSubscribe, JobID: "onetoomany01"})
	f := readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
	assert.Equal(t, codeSubscriptionLimit, f.Code)

	// The session survives the refusal.
	send(t, conn, clientFrame{Type: actionPing})
	assert.Equal(t, framePong, readFrame(t, conn).Type)
}

func TestMalformedFrame(t *testing.T) {
	h := NewHub(nil)
	conn := dialTestHub(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
	assert.Equal(t, codeBadFrame, f.Code)

	send(t, conn, clientFrame{Type: "bogus"})
	f = readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
}

func TestSweepIdle(t *testing.T) {
	h := NewHub(nil)
	conn := dialTestHub(t, h)

	send(t, conn, clientFrame{Type: actionPing})
	require.Equal(t, framePong, readFrame(t, conn).Type)
	require.Equal(t, 1, h.SessionCount())

	// Nothing is idle yet.
	assert.Equal(t, 0, h.SweepIdle(time.Minute))

	// With a zero allowance every session is overdue.
	assert.Equal(t, 1, h.SweepIdle(0))
	assert.Equal(t, 0, h.SessionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "swept session should be closed")
}

func TestTwoSubscribersBothReceive(t *testing.T) {
	h := NewHub(nil)
	a := dialTestHub(t, h)
	b := dialTestHub(t, h)

	for _, conn := range []*websocket.Conn{a, b} {
		send(t, conn, clientFrame{Type: actionSubscribe, JobID: "sharedjob001"})
		require.Equal(t, frameSubscribed, readFrame(t, conn).Type)
	}

	h.Progress("sharedjob001", 75, "evaluating")
	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		assert.Equal(t, frameProgress, f.Type)
		require.NotNil(t, f.Percent)
		assert.Equal(t, 75.0, *f.Percent)
	}
}
