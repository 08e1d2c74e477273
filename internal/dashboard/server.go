// Package dashboard serves the inbound WhatsApp webhook and a small JSON
// inspection API over conversations and the staff handoff inbox.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/store"
)

// Inbound handles one message from a claimant.
type Inbound interface {
	HandleInbound(ctx context.Context, from, text string) (dialogue.Prompt, error)
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Inbound Inbound
	Store   store.Store
	DB      *gorm.DB // handoff inbox
	Port    int
	Out     io.Writer
	Logger  *zap.Logger

	// EventPoll is how often /api/events looks for new handoffs.
	EventPoll time.Duration
}

func (o *StartOpts) validate() error {
	if o.Inbound == nil {
		return fmt.Errorf("dashboard: inbound handler is required")
	}
	if o.Store == nil {
		return fmt.Errorf("dashboard: store is required")
	}
	if o.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if o.Port <= 0 {
		o.Port = 8080
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.EventPoll <= 0 {
		o.EventPoll = 3 * time.Second
	}
	return nil
}

// NewRouter builds the gin router without starting a listener.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Webhook listening at http://localhost:%d/webhook/whatsapp\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	<-done
	return nil
}
