package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

const maxEventsLimit = 500

type handlers struct {
	deps Deps
}

type eventView struct {
	ID         uint   `json:"id"`
	Channel    string `json:"channel"`
	RenderID   int    `json:"renderID,omitempty"`
	Payload    any    `json:"payload"`
	ReceivedAt string `json:"receivedAt"`
}

func toEventViews(records []journal.EventRecord) []eventView {
	views := make([]eventView, 0, len(records))
	for _, r := range records {
		var payload any = r.Payload
		if json.Valid([]byte(r.Payload)) {
			payload = r.RawPayload()
		}
		views = append(views, eventView{
			ID:         r.ID,
			Channel:    r.Channel,
			RenderID:   r.RenderID,
			Payload:    payload,
			ReceivedAt: r.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return views
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if h.deps.Client != nil {
		body["push"] = h.deps.Client.State().String()
	}
	if h.deps.Online != nil {
		if last := h.deps.Online.Last(); !last.CheckedAt.IsZero() {
			body["online"] = last
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) ready(c *gin.Context) {
	if h.deps.Client != nil && h.deps.Client.State() == ordr.StateClosed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "closed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handlers) recentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventsLimit)
	}

	records, err := h.deps.Events.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEventViews(records)})
}

func (h *handlers) renderEvents(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid render id"})
		return
	}

	records, err := h.deps.Events.ByRender(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read events"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "no events for render", "renderID": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"renderID": id, "events": toEventViews(records)})
}
