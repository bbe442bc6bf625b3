package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/bus"
)

// eventTopics are the bus topics streamed on /api/events.
var eventTopics = []string{
	bus.TopicRecommendationCreated,
	bus.TopicRunCompleted,
	bus.TopicRunFailed,
	bus.TopicAnomalyDetected,
}

// heartbeatInterval spaces the keep-alive comments on an idle stream.
var heartbeatInterval = 15 * time.Second

// handleEvents streams bus events as server-sent events until the client
// disconnects. A client that falls behind loses events.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := make(chan bus.Message, 32)
	forward := func(_ context.Context, msg bus.Message) error {
		select {
		case events <- msg:
		default:
		}
		return nil
	}
	subs := make([]*bus.Subscription, 0, len(eventTopics))
	for _, topic := range eventTopics {
		subs = append(subs, s.bus.Subscribe(topic, forward))
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case msg := <-events:
			writeSSE(c.Writer, msg.Topic, gin.H{
				"from":         msg.From,
				"published_at": msg.PublishedAt,
				"payload":      msg.Payload,
			})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
