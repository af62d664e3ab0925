package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdsinspector/console"
	"bdsinspector/locate"
	"bdsinspector/metrics"
	"bdsinspector/monitor"
)

type fakePoller struct {
	mu       sync.Mutex
	snap     monitor.Snapshot
	interval time.Duration
	reuse    bool
}

func (f *fakePoller) Snapshot() monitor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakePoller) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakePoller) SetInterval(d time.Duration) error {
	if d <= 0 {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
	return nil
}

func (f *fakePoller) ReuseHints() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reuse
}

func (f *fakePoller) SetReuseHints(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reuse = v
}

type fakeConsole struct {
	state console.State
	ready chan struct{}
}

func (f *fakeConsole) State() console.State   { return f.state }
func (f *fakeConsole) Ready() <-chan struct{} { return f.ready }

func newTestServer(t *testing.T, ready bool) (*Server, *fakePoller, *httptest.Server) {
	t.Helper()
	p := &fakePoller{interval: 500 * time.Millisecond, snap: monitor.Snapshot{
		Players: []locate.Player{{Name: "foo", Location: locate.Location{Dimension: locate.Overworld, X: 100, Z: 98, Accuracy: 4}}},
	}}
	con := &fakeConsole{state: console.StateStarting, ready: make(chan struct{})}
	if ready {
		con.state = console.StateIdle
		close(con.ready)
	}
	m := &metrics.Counters{}
	m.IncSubmitted()
	s := New(p, con, nil, m)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return s, p, ts
}

func TestHandlePlayers(t *testing.T) {
	_, _, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/players")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string          `json:"status"`
		Players []locate.Player `json:"players"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Players, 1)
	assert.Equal(t, "foo", body.Players[0].Name)
	assert.Equal(t, locate.Overworld, body.Players[0].Location.Dimension)
}

func TestHandlePlayersEmpty(t *testing.T) {
	_, p, ts := newTestServer(t, true)
	p.mu.Lock()
	p.snap = monitor.Snapshot{}
	p.mu.Unlock()

	resp, err := http.Get(ts.URL + "/players")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, []any{}, raw["players"])

	post, err := http.Post(ts.URL+"/players", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestHandleAdminConfig(t *testing.T) {
	_, p, ts := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"pollIntervalMs":1500,"reuseHints":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1500*time.Millisecond, p.Interval())
	assert.True(t, p.ReuseHints())

	resp, err = http.Get(ts.URL + "/admin/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, float64(1500), got["pollIntervalMs"])
	assert.Equal(t, true, got["reuseHints"])

	bad, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"pollIntervalMs":0}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	bad, err = http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHandleMetrics(t *testing.T) {
	_, _, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got struct {
		Console string         `json:"console"`
		Metrics map[string]any `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "idle", got.Console)
	assert.Equal(t, float64(1), got.Metrics["commands_submitted"])
}

func TestHandleHealth(t *testing.T) {
	_, _, starting := newTestServer(t, false)
	resp, err := http.Get(starting.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, _, ready := newTestServer(t, true)
	resp, err = http.Get(ready.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	s, _, ts := newTestServer(t, true)
	s.hub.Publish(monitor.Snapshot{Players: []locate.Player{{Name: "foo"}}})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	type message struct {
		Type    string          `json:"type"`
		Players []locate.Player `json:"players"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "players", first.Type)
	require.Len(t, first.Players, 1)
	assert.Equal(t, "foo", first.Players[0].Name)

	require.Eventually(t, func() bool { return s.hub.Count() == 1 }, time.Second, time.Millisecond)
	s.hub.Publish(monitor.Snapshot{Players: []locate.Player{{Name: "bar"}, {Name: "baz"}}})

	var second message
	require.NoError(t, conn.ReadJSON(&second))
	require.Len(t, second.Players, 2)
	assert.Equal(t, "bar", second.Players[0].Name)
}
