package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection subscribed to a survey's live feed.
type Client struct {
	SurveyID uint

	conn *websocket.Conn

	send chan []byte
}

// Message is the envelope pushed to subscribers.
type Message struct {
	Type     string      `json:"type"`
	SurveyID uint        `json:"survey_id"`
	Data     interface{} `json:"data"`
}

// ParticipationStats is the payload broadcast whenever an attempt completes.
type ParticipationStats struct {
	TotalAttempts     int64 `json:"total_attempts"`
	CompletedAttempts int64 `json:"completed_attempts"`
	ResponseCount     int64 `json:"response_count"`
}

// Hub tracks active clients grouped by survey and fans broadcasts out to
// them.
type Hub struct {
	clients map[uint]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister requests. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.SurveyID]; !ok {
				h.clients[client.SurveyID] = make(map[*Client]bool)
			}
			h.clients[client.SurveyID][client] = true
			total := len(h.clients[client.SurveyID])
			h.mu.Unlock()
			log.Printf("client registered for survey %d, total clients: %d", client.SurveyID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.SurveyID]; ok {
				if _, ok := h.clients[client.SurveyID][client]; ok {
					delete(h.clients[client.SurveyID], client)
					close(client.send)
					if len(h.clients[client.SurveyID]) == 0 {
						delete(h.clients, client.SurveyID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("client unregistered for survey %d", client.SurveyID)
		}
	}
}

// BroadcastToSurvey pushes a message to every client watching the survey.
func (h *Hub) BroadcastToSurvey(surveyID uint, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	clients := h.clients[surveyID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- payload:
		default:
			// Client's buffer is full, drop the connection.
			h.mu.Lock()
			delete(h.clients[surveyID], client)
			close(client.send)
			if len(h.clients[surveyID]) == 0 {
				delete(h.clients, surveyID)
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastParticipation wraps stats in a participation_update message.
func (h *Hub) BroadcastParticipation(surveyID uint, stats ParticipationStats) {
	h.BroadcastToSurvey(surveyID, &Message{
		Type:     "participation_update",
		SurveyID: surveyID,
		Data:     stats,
	})
}

// RegisterClient adds a client to the hub.
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient removes a client from the hub.
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
