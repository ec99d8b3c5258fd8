package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/pension720/backend/docs"
	"github.com/pension720/backend/internal/cache"
	"github.com/pension720/backend/internal/config"
	"github.com/pension720/backend/internal/database"
	"github.com/pension720/backend/internal/handlers"
	"github.com/pension720/backend/internal/lotto"
	mW "github.com/pension720/backend/internal/middleware"
	"github.com/pension720/backend/internal/mqtt"
	"github.com/pension720/backend/internal/orchestrator"
)

// @title Pension720 Purchaser API
// @version 1.0
// @description Automated pension lottery purchaser with Home Assistant integration
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	config.BindEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	docs.SwaggerInfo.Title = "Pension720 Purchaser API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:" + cfg.Port
	docs.SwaggerInfo.BasePath = "/"
	docs.SwaggerInfo.Schemes = []string{"http"}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := cache.New(redisClient)
	orch := orchestrator.New(cfg.Accounts, lotto.Config{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutCooldown:  cfg.LockoutCooldown,
	}, lotto.V1(), store)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MQTT is optional; without it the REST surface is the only interface.
	var publisher *mqtt.Publisher
	if cfg.UseMQTT {
		publisher, err = mqtt.New(mqtt.Config{
			URL:      cfg.MQTTURL,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, orch.Usernames(), func(username string, count int) {
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
			defer cancel()
			outcome, err := orch.Purchase(ctx, username, count, "")
			if err != nil {
				log.Printf("[MAIN][%s] button purchase failed: %v", username, err)
				publishAccountState(rootCtx, publisher, store, username)
				return
			}
			log.Printf("[MAIN][%s] button purchase done: round=%d amount=%d",
				username, outcome.RoundNo, outcome.Amount)
			publishAccountState(rootCtx, publisher, store, username)
		})
		if err != nil {
			log.Fatalf("MQTT setup failed: %v", err)
		}
		defer publisher.Close()
	}

	// Periodic balance refresh feeding the cache and the MQTT sensors.
	go func() {
		refresh := func() {
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
			defer cancel()
			orch.RefreshAll(ctx)
			for _, username := range orch.Usernames() {
				publishAccountState(ctx, publisher, store, username)
			}
		}
		refresh()
		ticker := time.NewTicker(cfg.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	api := handlers.NewServer(orch)

	r := chi.NewRouter()
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", api.Health)
	r.Get("/accounts", api.Accounts)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:"+cfg.Port+"/swagger/doc.json"),
	))

	r.Route("/api", func(r chi.Router) {
		r.Get("/balance/{username}", api.Balance)
		r.Get("/history/{username}", api.History)
		r.Get("/history/{username}/qr", api.TicketQR)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Post("/purchase/{username}/{count}", api.Purchase)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (%d accounts)", cfg.Port, len(cfg.Accounts))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// publishAccountState mirrors the cached balance and login error onto the
// MQTT sensors. No-op when MQTT is disabled.
func publishAccountState(ctx context.Context, publisher *mqtt.Publisher, store *cache.Store, username string) {
	if publisher == nil {
		return
	}
	if snap, ok := store.Balance(ctx, username); ok {
		publisher.PublishBalance(username, snap.Deposit)
	}
	publisher.PublishLoginError(username, store.LoginError(ctx, username))
}
