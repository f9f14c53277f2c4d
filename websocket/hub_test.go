package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHub_BroadcastParticipation(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	watcher := &Client{SurveyID: 1, send: make(chan []byte, 4)}
	other := &Client{SurveyID: 2, send: make(chan []byte, 4)}
	hub.RegisterClient(watcher)
	hub.RegisterClient(other)

	// Give the registrations a moment to land before broadcasting.
	time.Sleep(10 * time.Millisecond)
	hub.BroadcastParticipation(1, ParticipationStats{
		TotalAttempts:     5,
		CompletedAttempts: 3,
		ResponseCount:     10,
	})

	select {
	case payload := <-watcher.send:
		var msg Message
		assert.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "participation_update", msg.Type)
		assert.EqualValues(t, 1, msg.SurveyID)
		data := msg.Data.(map[string]interface{})
		assert.EqualValues(t, 3, data["completed_attempts"])
	case <-time.After(time.Second):
		t.Fatal("watcher did not receive broadcast")
	}

	// A client on a different survey hears nothing.
	select {
	case <-other.send:
		t.Fatal("client for another survey received broadcast")
	default:
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := &Client{SurveyID: 1, send: make(chan []byte)} // unbuffered, never read
	hub.RegisterClient(slow)

	// Give the register a moment to land before broadcasting.
	time.Sleep(10 * time.Millisecond)
	hub.BroadcastParticipation(1, ParticipationStats{})

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.clients[1])
}
