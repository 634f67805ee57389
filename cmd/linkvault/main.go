package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pysugar/linkvault/internal/config"
	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/connector/apple"
	"github.com/pysugar/linkvault/internal/connector/facebook"
	"github.com/pysugar/linkvault/internal/connector/google"
	"github.com/pysugar/linkvault/internal/connector/microsoft"
	"github.com/pysugar/linkvault/internal/crypto"
	"github.com/pysugar/linkvault/internal/db"
	"github.com/pysugar/linkvault/internal/httpapi"
	"github.com/pysugar/linkvault/internal/inventory"
	"github.com/pysugar/linkvault/internal/jobs"
	"github.com/pysugar/linkvault/internal/oauthstate"
	"github.com/pysugar/linkvault/internal/service"
	"github.com/pysugar/linkvault/internal/vault"
	"github.com/pysugar/linkvault/internal/version"
)

const (
	stateCleanupInterval = time.Hour
	nightlySweepInterval = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.MasterKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	tokenVault := vault.New(database, encryptor)
	states := oauthstate.NewStore(database)
	reconciler := inventory.NewReconciler(database)
	queue := jobs.NewQueue(database)

	registry := connector.NewRegistry()
	if creds, ok := cfg.Credentials(google.Provider); ok {
		registry.Register(google.New(creds.ClientID, creds.ClientSecret, tokenVault, reconciler))
	}
	if creds, ok := cfg.Credentials(microsoft.Provider); ok {
		registry.Register(microsoft.New(creds.ClientID, creds.ClientSecret, tokenVault, reconciler))
	}
	if creds, ok := cfg.Credentials(facebook.Provider); ok {
		registry.Register(facebook.New(creds.ClientID, creds.ClientSecret, tokenVault, reconciler))
	}
	if creds, ok := cfg.Credentials(apple.Provider); ok {
		registry.Register(apple.New(creds.ClientID, reconciler))
	}
	providers := registry.Providers()
	if len(providers) == 0 {
		log.Println("⚠️  No provider credentials configured; connect endpoints will reject all providers")
	} else {
		log.Printf("🔑 Registered providers: %v", providers)
	}

	ctx := context.Background()

	worker := jobs.NewWorker(queue, registry, cfg.WorkerConcurrency)
	worker.Start(ctx)
	defer worker.Stop()

	// Nightly sweep re-enumerates every linked account.
	go func() {
		ticker := time.NewTicker(nightlySweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := queue.SweepAccounts(ctx, reconciler)
			if err != nil {
				log.Printf("❌ Nightly sweep failed: %v", err)
				continue
			}
			log.Printf("🔄 Nightly sweep enqueued %d rediscovery jobs", n)
		}
	}()

	// Expired and long-consumed states are garbage.
	go func() {
		ticker := time.NewTicker(stateCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := states.CleanupExpired(ctx); err != nil {
				log.Printf("⚠️  State cleanup failed: %v", err)
			}
		}
	}()

	svc := service.New(registry, states, queue, cfg.StateTTL)
	router := httpapi.NewRouter(svc)

	host := os.Getenv("HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := host + ":" + port

	log.Printf("🚀 LinkVault %s starting on http://%s", version.Version, addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
