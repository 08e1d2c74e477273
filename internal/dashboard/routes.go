package dashboard

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/store"
)

// twiml is the webhook reply body understood by the messaging provider.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.POST("/webhook/whatsapp", handleWebhook(opts))

	api := router.Group("/api")
	api.GET("/conversations", handleConversationList(opts))
	api.GET("/conversations/:id", handleConversationDetail(opts))
	api.GET("/stats", handleStats(opts))
	api.GET("/handoffs", handleHandoffs(opts))
	api.POST("/handoffs/:id/ack", handleAcknowledge(opts))
	api.GET("/events", handleSSE(opts.DB, opts.EventPoll))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleWebhook(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		from := c.PostForm("From")
		body := c.PostForm("Body")
		if from == "" {
			c.String(http.StatusBadRequest, "missing From")
			return
		}

		p, err := opts.Inbound.HandleInbound(c.Request.Context(), from, body)
		switch {
		case errors.Is(err, identity.ErrInvalidIdentity):
			c.String(http.StatusBadRequest, "invalid sender")
			return
		case err != nil:
			opts.Logger.Error("dashboard: inbound message failed", zap.String("from", from), zap.Error(err))
			c.String(http.StatusInternalServerError, "internal error")
			return
		}
		c.XML(http.StatusOK, twiml{Message: p.Text})
	}
}

func handleConversationList(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		rows, err := opts.Store.List(c.Request.Context(), store.Filter{
			Status: c.Query("status"),
			Limit:  limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]ConversationRow, len(rows))
		for i := range rows {
			out[i] = rowFor(&rows[i])
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleConversationDetail(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity.Normalize(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		conv, err := opts.Store.Get(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		handoffs, err := messaging.ForConversation(opts.DB, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, detailFor(conv, handoffs))
	}
}

func handleStats(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := Summarize(c.Request.Context(), opts.Store)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleHandoffs(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		inbox, err := messaging.Inbox(opts.DB, c.DefaultQuery("recipient", messaging.Human))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]HandoffRow, len(inbox))
		for i := range inbox {
			out[i] = handoffRowFor(&inbox[i])
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleAcknowledge(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid handoff id"})
			return
		}
		err = messaging.Acknowledge(opts.DB, uint(id), timeNow())
		if errors.Is(err, messaging.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "handoff not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
