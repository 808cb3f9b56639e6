package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// Notifier adapts the hub to the orchestrator's update callback.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// JobUpdated broadcasts the job's new state to all connected clients.
func (n *Notifier) JobUpdated(job *interfaces.Job) {
	message, err := json.Marshal(map[string]any{
		"type": "job_update",
		"data": job,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to marshal job update")
		return
	}
	n.hub.Broadcast(message)
}
