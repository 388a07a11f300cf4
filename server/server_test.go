package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/game"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	l := game.Standard()
	cfg := mcts.DefaultConfig()
	cfg.Threads = 2
	cfg.ArenaSize = 1 << 18
	cfg.LockStripes = 256
	cfg.MaxVisits = 200
	cfg.Seed = 5
	cfg.ProgressInterval = 5 * time.Millisecond
	eng, err := mcts.New(l, nil, cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(eng, l, time.Second, 5*time.Second).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestApply(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/apply", applyRequest{History: "", Move: "0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "0,", st.History)
	require.Equal(t, game.Two.String(), st.NextPlayer)
	require.False(t, st.Over)
	require.NotEmpty(t, st.Moves)

	// The edge back to the centre is already drawn.
	resp = postJSON(t, ts.URL+"/api/apply", applyRequest{History: "0,", Move: "4"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/apply", applyRequest{History: "9,"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMove(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/move", moveRequest{History: "", TimeMs: 2000, Threads: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mr moveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mr))
	require.NotEmpty(t, mr.Move)
	require.Contains(t, mr.Report, "best move: "+mr.Move)
	require.Len(t, mr.Children, 8)

	g := game.NewGame(game.Standard())
	require.NoError(t, g.MakeMove(mr.Move))

	// Short win for Two.
	resp = postJSON(t, ts.URL+"/api/move", moveRequest{History: "0,0,0,0,0,"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mr))
	require.True(t, mr.Proven)
}

func TestMove_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/move", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/move", moveRequest{History: "0,0,0,0,0,7,"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBudgetAndThreads(t *testing.T) {
	s := &Server{defaultBudget: time.Second, maxBudget: 3 * time.Second}
	require.Equal(t, time.Second, s.budget(0))
	require.Equal(t, 500*time.Millisecond, s.budget(500))
	require.Equal(t, 3*time.Second, s.budget(10000))

	require.Equal(t, 0, clampThreads(-1))
	require.Equal(t, 3, clampThreads(3))
	require.Equal(t, 8, clampThreads(64))
}

func TestAnalysisWebsocket(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analysis"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "analyse", Payload: mustMarshal(analysePayload{History: "", TimeMs: 2000})}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "progress" {
			continue
		}
		require.Equal(t, "result", msg.Type)
		var mr moveResponse
		require.NoError(t, json.Unmarshal(msg.Payload, &mr))
		require.NotEmpty(t, mr.Move)
		break
	}

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "bogus"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "error", msg.Type)
}
