package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compass/api/internal/app"
	"compass/api/internal/config"
	"compass/api/internal/email"
	"compass/api/internal/files"
	"compass/api/internal/presence"
	"compass/api/internal/search"
	"compass/api/internal/store"
)

func main() {
	cfg := config.Load()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(startCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(startCtx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	startCancel()

	dataStore := store.NewPostgresStore(db)

	var meiliSearch *search.Meili
	if cfg.MeiliURL != "" {
		meiliSearch = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliSearch.Close()
	}
	searchService := search.NewService(meiliSearch, search.NewPgFTS(db))

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("smtp not configured, notification email disabled")
	}

	var fileStore *files.Store
	if cfg.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		fileStore, err = files.NewStore(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		cancel()
		if err != nil {
			log.Printf("object storage unavailable, attachments disabled: %v", err)
			fileStore = nil
		}
	}

	rootCtx, stopPresence := context.WithCancel(context.Background())
	defer stopPresence()

	var bus *presence.RedisBus
	var coordinator *presence.Coordinator
	if cfg.RedisURL != "" {
		bus, err = presence.NewRedisBus(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, presence disabled: %v", err)
		} else {
			defer bus.Close()
			coordinator = presence.NewCoordinator(bus, cfg.PresenceHeartbeat, cfg.PresenceTTL)
			go coordinator.Run(rootCtx)
		}
	}

	service := app.New(cfg, dataStore, app.Options{
		Search:   searchService,
		Email:    emailService,
		Files:    fileStore,
		Presence: coordinator,
		Bus:      bus,
	})

	if err := service.Bootstrap(context.Background()); err != nil {
		log.Printf("bootstrap failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	stopPresence()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
