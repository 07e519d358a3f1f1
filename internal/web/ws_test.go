package web

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialWS performs a raw client-side WebSocket handshake against the test
// server and returns the open connection.
func dialWS(t *testing.T, ts *httptest.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", ts.Listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	req := "GET /ws HTTP/1.1\r\n" +
		"Host: " + ts.Listener.Addr().String() + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "101", "handshake rejected: %s", status)

	var acceptKey string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Sec-WebSocket-Accept:") {
			acceptKey = strings.TrimSpace(strings.TrimPrefix(line, "Sec-WebSocket-Accept:"))
		}
	}
	// RFC 6455 sample key yields this exact accept value.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey)
	return conn, reader
}

func TestBroadcastReachesClient(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	defer s.Hub().Close()

	conn, reader := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return s.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	s.Hub().Broadcast(Event{Type: EventTaskChanged, Op: "create", TaskIDs: []int64{7}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	opcode, payload, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, byte(wsOpText), opcode)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, EventTaskChanged, ev.Type)
	assert.Equal(t, "create", ev.Op)
	assert.Equal(t, []int64{7}, ev.TaskIDs)
}

func TestMutationNotifiesSessions(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	defer s.Hub().Close()

	conn, reader := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return s.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"name": "observed"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := readFrame(reader)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, EventTaskChanged, ev.Type)
	assert.Equal(t, "create", ev.Op)
}

func TestUpgradeRequiresWebSocketHeaders(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientDisconnectPrunesHub(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _ := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return s.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return s.Hub().ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
