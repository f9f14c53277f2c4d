package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"survey-management-backend/websocket"
)

// SSEClient is one event-stream subscriber for a survey's participation feed.
type SSEClient struct {
	SurveyID uint
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan bool
}

var (
	sseClients   = make(map[uint][]*SSEClient)
	sseClientsMu sync.Mutex
)

// HandleSSE streams participation updates for one survey over
// Server-Sent Events. Dashboards that cannot hold a WebSocket use this.
func HandleSSE(c *gin.Context) {
	surveyID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if _, ok := findSurvey(c, surveyID, false); !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	client := &SSEClient{
		SurveyID: surveyID,
		Writer:   c.Writer,
		Flusher:  flusher,
		Done:     make(chan bool, 1),
	}

	sseClientsMu.Lock()
	sseClients[surveyID] = append(sseClients[surveyID], client)
	sseClientsMu.Unlock()
	log.Printf("SSE client registered for survey %d from %s", surveyID, c.ClientIP())

	// Initial snapshot so the dashboard renders without waiting for the
	// first completion.
	sendSSEEvent(client, gin.H{"type": "snapshot", "data": participationStats(surveyID)})

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	notify := c.Request.Context().Done()

	for {
		select {
		case <-notify:
			log.Printf("SSE client disconnected, survey %d", surveyID)
			unregisterSSEClient(client)
			return
		case <-client.Done:
			unregisterSSEClient(client)
			return
		case <-heartbeat.C:
			if err := sendSSEEvent(client, gin.H{"type": "heartbeat", "time": timeNow().Format(time.RFC3339)}); err != nil {
				unregisterSSEClient(client)
				return
			}
		}
	}
}

func unregisterSSEClient(client *SSEClient) {
	sseClientsMu.Lock()
	defer sseClientsMu.Unlock()

	clients := sseClients[client.SurveyID]
	for i, c := range clients {
		if c == client {
			sseClients[client.SurveyID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(sseClients[client.SurveyID]) == 0 {
		delete(sseClients, client.SurveyID)
	}
}

func sendSSEEvent(client *SSEClient, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	client.Flusher.Flush()
	return nil
}

// BroadcastParticipationSSE pushes fresh stats to every SSE subscriber of
// the survey.
func BroadcastParticipationSSE(surveyID uint, stats websocket.ParticipationStats) {
	sseClientsMu.Lock()
	clients := make([]*SSEClient, len(sseClients[surveyID]))
	copy(clients, sseClients[surveyID])
	sseClientsMu.Unlock()

	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		if err := sendSSEEvent(client, gin.H{"type": "participation_update", "data": stats}); err != nil {
			select {
			case client.Done <- true:
			default:
			}
		}
	}
}
