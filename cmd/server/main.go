package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rotorwise.app/rotorwise/internal/api"
	"rotorwise.app/rotorwise/internal/auth"
	"rotorwise.app/rotorwise/internal/config"
	"rotorwise.app/rotorwise/internal/core"
	"rotorwise.app/rotorwise/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for issuing API tokens
	mintToken := flag.String("mint-token", "", "Print a JWT for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "Lifetime of a token issued with -mint-token")
	flag.Parse()

	if *mintToken != "" {
		token, err := auth.GenerateJWT(config.AppConfig.JWTSecret, *mintToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	book, err := store.OpenSessionBook(dbStore, config.AppConfig.SessionsKey)
	if err != nil {
		log.Fatalf("Failed to load saved sessions: %v", err)
	}

	manual, err := core.LoadManual(config.AppConfig.ManualPath)
	if err != nil {
		log.Fatalf("Failed to load workshop manual: %v", err)
	}

	// Initialize the session manager around the Gemini client
	manager := core.NewSessionManager(context.Background(), config.AppConfig.GeminiAPIKey, core.ManagerOptions{
		Factory:           core.NewLLMServiceFactory(config.AppConfig.ModelName),
		SystemInstruction: core.BuildSystemInstruction(manual),
		Greeting:          config.AppConfig.Greeting,
		Connectivity:      core.NewProbeConnectivity(config.AppConfig.ConnectivityProbeAddr, 3*time.Second),
		RequestTimeout:    time.Duration(config.AppConfig.RequestTimeoutSeconds) * time.Second,
	})
	defer manager.Close()

	// Initialize Chat service
	chatService := core.NewChatService(manager, book)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, config.AppConfig.JWTSecret, int64(config.AppConfig.MaxAttachmentBytes), manual)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 60 * time.Second, // Attachments can be large
		// No WriteTimeout: the websocket feed is long-lived
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// manager.Close() and dbStore.Close() will be called by their defers.
	log.Println("Server exiting gracefully")
}
