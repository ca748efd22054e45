package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linggo/orchestrator/config"
	"github.com/linggo/orchestrator/internal/adapter/genai"
	store "github.com/linggo/orchestrator/internal/repository"
	"github.com/linggo/orchestrator/internal/scenario"
	"github.com/linggo/orchestrator/internal/service"
	transport "github.com/linggo/orchestrator/internal/transport/http"
	"github.com/linggo/orchestrator/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting chat orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Generation URL: %s", cfg.GenerationURL)
	log.Printf("Scenario file: %s", cfg.ScenarioFile)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Load scenario registry
	scenarios, err := scenario.Load(cfg.ScenarioFile)
	if err != nil {
		log.Fatalf("Failed to load scenarios: %v", err)
	}

	// Initialize generation client
	generator := genai.NewGenerator(cfg.GenerationURL, cfg.GenerationAPIKey)

	// Initialize admission policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize service and server
	svc := service.New(db, generator, scenarios, policyEngine, cfg)
	server := transport.NewServer(svc)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
