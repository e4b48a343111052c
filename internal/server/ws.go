package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

// WebSocketManager fans job updates out to connected UI clients.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	log        *slog.Logger
}

func NewWebSocketManager(logger *slog.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        logger,
	}
}

// Start begins the broadcast loop.
func (wsm *WebSocketManager) Start() {
	go func() {
		for {
			select {
			case client := <-wsm.register:
				wsm.mu.Lock()
				wsm.clients[client] = true
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.log.Info("websocket client connected", "total_clients", total)
			case client := <-wsm.unregister:
				wsm.mu.Lock()
				if _, ok := wsm.clients[client]; ok {
					delete(wsm.clients, client)
					client.Close()
				}
				remaining := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.log.Info("websocket client disconnected", "remaining_clients", remaining)
			case message := <-wsm.broadcast:
				wsm.mu.Lock()
				for client := range wsm.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						wsm.log.Warn("websocket write failed, dropping client", "error", err)
						client.Close()
						delete(wsm.clients, client)
					}
				}
				wsm.mu.Unlock()
			}
		}
	}()
}

// BroadcastJobUpdate sends a job state change to all connected clients.
func (wsm *WebSocketManager) BroadcastJobUpdate(job entity.ExtractionJob) {
	update := map[string]any{
		"type":      "job_update",
		"job_id":    job.ID,
		"status":    job.Status,
		"timestamp": job.UpdatedAt,
	}
	if job.Status == constants.JobStatusFailed && job.Error != "" {
		update["error"] = job.Error
	}

	jsonData, err := json.Marshal(update)
	if err != nil {
		wsm.log.Error("failed to marshal job update", "error", err)
		return
	}

	select {
	case wsm.broadcast <- jsonData:
	default:
		wsm.log.Warn("websocket broadcast buffer full, dropping update", "job_id", job.ID)
	}
}

func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	wsm.register <- conn
}

func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	wsm.unregister <- conn
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.wsManager.RegisterClient(conn)

	go func() {
		for {
			// Clients send nothing meaningful; reads only detect disconnects.
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}
