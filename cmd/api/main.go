package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pablo12222/notes-manager/internal/app"
	"github.com/pablo12222/notes-manager/internal/config"
	"github.com/pablo12222/notes-manager/internal/mgmt"
	"github.com/pablo12222/notes-manager/internal/search"
	"github.com/pablo12222/notes-manager/internal/store"
	"github.com/pablo12222/notes-manager/internal/tokencache"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var mgmtClient *mgmt.Client
	if strings.TrimSpace(cfg.MgmtBaseURL) != "" {
		var tokenCache tokencache.Cache
		if strings.TrimSpace(cfg.RedisURL) != "" {
			log.Printf("Using Redis for the management token cache")
			redisCache, err := tokencache.NewRedisCache(cfg.RedisURL)
			if err != nil {
				log.Fatalf("redis connection failed: %v", err)
			}
			defer redisCache.Close()
			tokenCache = redisCache
		} else {
			log.Printf("Using in-memory management token cache")
			tokenCache = tokencache.NewMemoryCache()
		}
		tokens := mgmt.NewTokenProvider(cfg.MgmtTokenURL, cfg.MgmtClientID, cfg.MgmtClientSecret, cfg.MgmtAudience, tokenCache, cfg.MgmtTimeout)
		mgmtClient = mgmt.NewClient(cfg.MgmtBaseURL, tokens, cfg.MgmtTimeout)
	} else {
		log.Printf("WARNING: management API not configured, admin endpoints disabled")
	}

	var service *app.Service
	if mgmtClient != nil {
		service = app.New(cfg, dataStore, mgmtClient, searchService)
	} else {
		service = app.New(cfg, dataStore, nil, searchService)
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
		log.Printf("Notes API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
