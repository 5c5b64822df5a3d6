package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/market"
)

const sseKeepalive = 30 * time.Second

// handleListingEvents streams one listing's market events over SSE.
// GET /api/v1/listings/:id/events
func (h *Handler) handleListingEvents(c *gin.Context) {
	listingID := c.Param("id")
	if _, err := h.store.GetListing(c.Request.Context(), listingID); err != nil {
		respondErr(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// Buffered so an emit during a slow write never blocks the bus.
	ch := make(chan events.Event, 32)
	unsubscribe := h.bus.Subscribe(market.Topic(listingID), func(ev events.Event) {
		select {
		case ch <- ev:
		default: // client too slow, drop
		}
	})
	defer unsubscribe()

	writeEvent := func(eventType string, data interface{}) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent("connected", gin.H{"listingId": listingID}) {
		return
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if !writeEvent(ev.Type, ev.Payload) {
				return
			}
		}
	}
}
