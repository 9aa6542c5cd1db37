// Package server wires the HTTP API together: it starts the event bus,
// loads all registered modules against the database and serves their routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/events"
	"github.com/purecut/purecut/internal/logger"
	"github.com/purecut/purecut/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/purecut/purecut/internal/modules/jobmodule"
)

var moduleInitialized bool

// SetupRouter configures and returns the main router
func SetupRouter() (*gin.Engine, error) {
	cfg := config.Get()

	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.Server.EnableCORS {
		r.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	if err := initializeModules(); err != nil {
		return nil, err
	}

	setupHealthRoutes(r)
	modulemanager.RegisterRoutes(r)

	return r, nil
}

// initializeModules starts the event bus and loads every registered module.
func initializeModules() error {
	if moduleInitialized {
		return nil
	}

	bus := events.GetGlobalBus()
	if err := bus.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := modulemanager.LoadAll(db); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}

	moduleInitialized = true
	_ = bus.PublishAsync(events.Event{
		Type:    events.EventSystemStarted,
		Source:  "server",
		Message: "system started",
	})
	return nil
}

// setupHealthRoutes registers liveness endpoints.
func setupHealthRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := events.GetGlobalBus().Health(); err != nil {
			status = err.Error()
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"modules": len(modulemanager.ListModules()),
		})
	})
}

// Run serves the API until ctx is cancelled, then shuts modules and the
// event bus down in order.
func Run(ctx context.Context) error {
	cfg := config.Get()

	router, err := SetupRouter()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error: %v", err)
	}
	modulemanager.ShutdownAll()
	if err := events.GetGlobalBus().Stop(shutdownCtx); err != nil {
		logger.Warn("Event bus shutdown error: %v", err)
	}
	return nil
}
