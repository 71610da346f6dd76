package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsCommand struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
}

type wsMessage struct {
	Type    string            `json:"type"`
	JobID   string            `json:"job_id,omitempty"`
	EntryID uint64            `json:"entry_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Message string            `json:"message,omitempty"`
}

// handleWebSocket upgrades the connection and serves join/leave commands.
// Joining a job subscribes the socket to its stream entries and guarantees a
// relay is tailing the job's log.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		subs:   make(map[string]chan progress.StreamEntry),
	}
	client.run()
}

type wsClient struct {
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]chan progress.StreamEntry
}

func (c *wsClient) run() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.send(wsMessage{Type: "error", Message: "invalid command"})
			continue
		}

		switch cmd.Action {
		case "join":
			c.join(cmd.JobID)
		case "leave":
			c.leave(cmd.JobID)
		default:
			c.send(wsMessage{Type: "error", Message: fmt.Sprintf("unknown action: %s", cmd.Action)})
		}
	}
}

func (c *wsClient) join(jobID string) {
	if jobID == "" {
		c.send(wsMessage{Type: "error", Message: "job_id is required"})
		return
	}

	c.mu.Lock()
	if _, ok := c.subs[jobID]; ok {
		c.mu.Unlock()
		c.send(wsMessage{Type: "status", JobID: jobID, Message: "already joined"})
		return
	}
	ch := c.server.hub.Join(jobID)
	c.subs[jobID] = ch
	c.mu.Unlock()

	c.server.relay.EnsureRunning(jobID)
	c.send(wsMessage{Type: "status", JobID: jobID, Message: fmt.Sprintf("joined job %s", jobID)})

	go c.pump(jobID, ch)
}

func (c *wsClient) leave(jobID string) {
	c.mu.Lock()
	ch, ok := c.subs[jobID]
	if ok {
		delete(c.subs, jobID)
	}
	c.mu.Unlock()

	if !ok {
		c.send(wsMessage{Type: "error", JobID: jobID, Message: "not joined"})
		return
	}

	// Closes the channel, which ends the pump goroutine.
	c.server.hub.Leave(jobID, ch)
	c.send(wsMessage{Type: "status", JobID: jobID, Message: fmt.Sprintf("left job %s", jobID)})
}

func (c *wsClient) pump(jobID string, ch chan progress.StreamEntry) {
	for entry := range ch {
		c.send(wsMessage{
			Type:    "stream_entry",
			JobID:   jobID,
			EntryID: entry.ID,
			Fields:  entry.Fields,
		})
	}
}

func (c *wsClient) send(msg wsMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Debug("WebSocket write failed: %v", err)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]chan progress.StreamEntry)
	c.mu.Unlock()

	for jobID, ch := range subs {
		c.server.hub.Leave(jobID, ch)
	}
	_ = c.conn.Close()
}
