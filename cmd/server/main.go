package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/fintrack/internal/app"
	"github.com/ruralpay/fintrack/internal/config"
	"github.com/ruralpay/fintrack/internal/handlers"
	mW "github.com/ruralpay/fintrack/internal/middleware"
)

// @title Fintrack Ledger API
// @version 1.0
// @description Accounts, ledger entries, transfers, debts and subscriptions
// @BasePath /api/v1

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.JWT.SecretKey == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ledgerHandler := handlers.NewLedgerHandler(a.Ledger, a.Reconciler, a.Debts, a.Subscriptions)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.Metrics)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware(cfg.JWT.SecretKey))
		r.Mount("/", ledgerHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
