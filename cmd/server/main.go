// Command main is the entry point for the Penpoint API server.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"penpoint/internal/bootstrap"
	"penpoint/internal/config"
	"penpoint/internal/engagement"
	"penpoint/internal/observability"
	"penpoint/internal/server"
)

// @title Penpoint API
// @version 1.0
// @description Blogging backend: posts, threaded comments, likes and views with consistent engagement counters.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@penpoint.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.InitLogger(cfg.Env, cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "penpoint-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingOTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rt, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	reconciler := engagement.NewReconciler(rt.Store, cfg.ReconcileBatchSize)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		log.Fatalf("Failed to schedule reconciler: %v", err)
	}

	srv := server.NewServer(cfg, server.Deps{
		Store:      rt.Store,
		Redis:      rt.Redis,
		Reconciler: reconciler,
		PingStore:  rt.Ping,
	})
	app := srv.App()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		observability.Logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("Server shutdown error", slog.String("error", err.Error()))
		}

		// Wait for a running reconcile pass before closing the store.
		select {
		case <-reconciler.Stop().Done():
		case <-ctx.Done():
		}

		if err := rt.Close(ctx); err != nil {
			observability.Logger.Error("Runtime shutdown error", slog.String("error", err.Error()))
		}
		if err := shutdownTracing(ctx); err != nil {
			observability.Logger.Error("Tracing shutdown error", slog.String("error", err.Error()))
		}
	}()

	// Start server
	observability.Logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("store", cfg.StoreDriver))
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}
