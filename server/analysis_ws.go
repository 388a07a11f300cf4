package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/engine/mcts"
)

const wsIdlePingInterval = 30 * time.Second

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type analysePayload struct {
	History string `json:"history"`
	TimeMs  int    `json:"time_ms"`
	Threads int    `json:"threads"`
}

type progressPayload struct {
	Move     string           `json:"move"`
	Win      float32          `json:"win"`
	Visits   int64            `json:"visits"`
	Nodes    int              `json:"nodes"`
	MaxDepth int              `json:"max_depth"`
	Children []mcts.ChildStat `json:"children"`
}

// analysisClient is one websocket connection. At most one analysis runs per
// connection; a new request cancels the previous one.
type analysisClient struct {
	srv  *Server
	send chan []byte

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func (c *analysisClient) sendJSON(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *analysisClient) sendError(text string) {
	c.sendJSON(wsMessage{Type: "error", Payload: mustMarshal(map[string]string{"error": text})})
}

func (s *Server) serveAnalysisWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := &analysisClient{srv: s, send: make(chan []byte, 16)}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		if err := writeWSWithHeartbeat(conn, client.send); err != nil {
			log.Debug().Err(err).Msg("analysis socket write failed")
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "analyse":
			var p analysePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				client.sendError("invalid payload")
				continue
			}
			client.start(ctx, p)
		case "stop":
			client.stop()
		default:
			client.sendError("unknown message type " + msg.Type)
		}
	}

	cancel()
	client.stop()
	client.mu.Lock()
	client.closed = true
	close(client.send)
	client.mu.Unlock()
	<-writerDone
}

func (c *analysisClient) start(parent context.Context, p analysePayload) {
	g, err := c.srv.replay(p.History)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.stop()
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		progress := func(res mcts.Result) {
			c.sendJSON(wsMessage{Type: "progress", Payload: mustMarshal(toProgress(res))})
		}
		res, err := c.srv.engine.SearchWithProgress(ctx, g, c.srv.budget(p.TimeMs), clampThreads(p.Threads), progress)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendJSON(wsMessage{Type: "result", Payload: mustMarshal(toMoveResponse(res))})
	}()
}

func (c *analysisClient) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func toProgress(res mcts.Result) progressPayload {
	return progressPayload{
		Move:     res.Move,
		Win:      res.Win,
		Visits:   res.Visits,
		Nodes:    res.Nodes,
		MaxDepth: res.MaxDepth,
		Children: res.Children,
	}
}

func writeWSWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(wsIdlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	pingPayload := mustMarshal(wsMessage{Type: "ping"})

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < wsIdlePingInterval {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}
