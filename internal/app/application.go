package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"mentorlive/internal/api"
	"mentorlive/internal/config"
	"mentorlive/internal/gateway"
	"mentorlive/internal/group"
	"mentorlive/internal/notify"
	"mentorlive/internal/presence"
	"mentorlive/internal/router"
	"mentorlive/internal/store"
)

// Application coordinates all system components. Initialization follows
// dependency order: store, presence, groups, notifications, signal
// cache, router, gateway, API, HTTP server. Shutdown runs in reverse.
type Application struct {
	config     *config.Config
	store      *store.SQLite
	presence   *presence.Store
	groups     *group.Registry
	notify     *notify.Channel
	signals    *router.SignalCache
	router     *router.Router
	gateway    *gateway.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication wires every component against validated configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	bookingStore, err := store.Open(cfg.Database.Path, cfg.Database.MaxConnections, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open booking store: %w", err)
	}

	presenceStore := presence.NewStore()
	groups := group.NewRegistry()
	notifyChannel := notify.NewChannel()
	signals := router.NewSignalCache(cfg.Signaling.CacheTTL)
	msgRouter := router.NewRouter(groups, presenceStore, signals)

	gw := gateway.NewHandler(groups, presenceStore, msgRouter, notifyChannel, bookingStore, gateway.Options{
		SendQueueSize: cfg.WebSocket.SendQueueSize,
		WriteTimeout:  cfg.WebSocket.WriteTimeout,
		ReadTimeout:   cfg.WebSocket.ReadTimeout,
		PingInterval:  cfg.WebSocket.PingInterval,
		AuthTimeout:   cfg.WebSocket.AuthTimeout,
	})

	apiServer := api.NewServer(gw, presenceStore, groups, notifyChannel, bookingStore, bookingStore)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      bookingStore,
		presence:   presenceStore,
		groups:     groups,
		notify:     notifyChannel,
		signals:    signals,
		router:     msgRouter,
		gateway:    gw,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving and returns once the listener is up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting mentorlive on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.signals.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("mentorlive started")
		return nil
	case <-ctx.Done():
		app.signals.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down mentorlive")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.signals.Stop()

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("mentorlive shutdown complete")
	return nil
}
