package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/models"
)

// handoffEvent is pushed to staff when a new handoff lands in the inbox.
type handoffEvent struct {
	ID             uint   `json:"id"`
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
	Subject        string `json:"subject"`
	Priority       string `json:"priority"`
	Pending        int64  `json:"pending"`
}

// handleSSE streams new unacknowledged handoffs as server-sent events.
func handleSSE(db *gorm.DB, poll time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Only handoffs created after the client connected are announced.
		var lastSeenID uint
		var newest models.Handoff
		if err := db.Where("recipient = ?", messaging.Human).
			Order("id DESC").Limit(1).First(&newest).Error; err == nil {
			lastSeenID = newest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var fresh []models.Handoff
				db.Where("recipient = ? AND acknowledged = ? AND id > ?", messaging.Human, false, lastSeenID).
					Order("id ASC").
					Find(&fresh)
				if len(fresh) == 0 {
					continue
				}
				lastSeenID = fresh[len(fresh)-1].ID

				var pending int64
				db.Model(&models.Handoff{}).
					Where("recipient = ? AND acknowledged = ?", messaging.Human, false).
					Count(&pending)

				for _, h := range fresh {
					writeSSE(c.Writer, "handoff", handoffEvent{
						ID:             h.ID,
						ConversationID: h.ConversationID,
						Reason:         h.Reason,
						Subject:        h.Subject,
						Priority:       h.Priority,
						Pending:        pending,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
