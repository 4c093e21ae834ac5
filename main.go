package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/rfq-core/pkg/config"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/firestore"
	"github.com/certen/rfq-core/pkg/messaging"
	"github.com/certen/rfq-core/pkg/metrics"
	"github.com/certen/rfq-core/pkg/rfq"
	"github.com/certen/rfq-core/pkg/server"
	"github.com/certen/rfq-core/pkg/settlement"
	"github.com/certen/rfq-core/pkg/vaultclient"
	"github.com/certen/rfq-core/pkg/whitelist"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("starting RFQ core")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Println("WARNING: strict validation failed, falling back to development validation")
		if devErr := cfg.ValidateForDevelopment(); devErr != nil {
			log.Fatal("configuration invalid:", devErr)
		}
	}

	chains, err := config.LoadChainsConfig(cfg.ChainsConfigPath)
	if err != nil {
		log.Fatal("failed to load chains config:", err)
	}
	log.Printf("loaded %d asset pair(s) across %d chain(s)", len(chains.AssetPairs), len(chains.Chains))

	// Unlike a peripheral subsystem, Postgres holds every request/quote/
	// ledger row the RFQ state machine operates on, so a connection
	// failure is always fatal here regardless of DatabaseRequired.
	dbClient, err := database.NewClient(cfg, database.WithLogger(log.New(log.Writer(), "[Database] ", log.LstdFlags)))
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatal("failed to run database migrations:", err)
	}
	repos := database.NewRepositories(dbClient)
	log.Println("connected to database and ran migrations")

	gate := whitelist.New(whitelist.Mode(cfg.WhitelistMode))
	existing, err := repos.Whitelist.ListAll(context.Background())
	if err != nil {
		log.Fatal("failed to hydrate whitelist:", err)
	}
	gate.Hydrate(existing)
	log.Printf("whitelist gate hydrated with %d key(s), mode=%s", len(existing), gate.Mode())

	collector := metrics.New()

	vault := vaultclient.New(cfg, chains, log.New(log.Writer(), "[Vault] ", log.LstdFlags)).WithMetrics(collector)

	coordinator := settlement.New(repos, vault, cfg.VaultRetryAttempts, log.New(log.Writer(), "[Settlement] ", log.LstdFlags)).WithMetrics(collector)

	var fsClient *firestore.Client
	var sync *firestore.SyncService
	if cfg.FirestoreEnabled {
		fsClient, err = firestore.NewClient(context.Background(), &firestore.ClientConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			Enabled:         true,
			Logger:          log.New(log.Writer(), "[Firestore] ", log.LstdFlags),
		})
		if err != nil {
			log.Printf("firestore client init failed, board sync disabled: %v", err)
		} else {
			sync, err = firestore.NewSyncService(&firestore.SyncServiceConfig{
				Client: fsClient,
				Logger: log.New(log.Writer(), "[FirestoreSync] ", log.LstdFlags),
			})
			if err != nil {
				log.Printf("firestore sync service init failed, board sync disabled: %v", err)
			} else {
				log.Println("firestore board sync enabled")
			}
		}
	} else {
		log.Println("firestore board sync disabled (set FIRESTORE_ENABLED=true to enable)")
	}

	engine := rfq.New(repos, gate, vault, coordinator, sync, log.New(log.Writer(), "[RFQ] ", log.LstdFlags)).WithMetrics(collector)
	relay := messaging.New(repos, log.New(log.Writer(), "[Messaging] ", log.LstdFlags))

	rfqHandlers := server.NewRFQHandlers(engine, relay, repos, log.New(log.Writer(), "[RFQApi] ", log.LstdFlags))
	ledgerHandlers := server.NewLedgerHandlers(repos, cfg.AdminKey, log.New(log.Writer(), "[LedgerApi] ", log.LstdFlags))
	adminHandlers := server.NewAdminHandlers(gate, repos.Whitelist, cfg.AdminKey, log.New(log.Writer(), "[AdminApi] ", log.LstdFlags))
	obsHandlers := server.NewObservabilityHandlers(vault, repos, log.New(log.Writer(), "[ObsApi] ", log.LstdFlags))

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/rfq/quote-request", rfqHandlers.HandleCreateQuoteRequest)
	mux.HandleFunc("/api/v1/rfq/quote-requests", rfqHandlers.HandleListQuoteRequests)
	mux.HandleFunc("/api/v1/rfq/quote-request/", rfqHandlers.HandleQuoteRequestByID)
	mux.HandleFunc("/api/v1/rfq/quote", rfqHandlers.HandleSubmitQuote)
	mux.HandleFunc("/api/v1/rfq/quote/", rfqHandlers.HandleAcceptQuote)
	mux.HandleFunc("/api/v1/rfq/message", rfqHandlers.HandleSendMessage)

	mux.HandleFunc("/api/v1/rfq/used-nullifiers", ledgerHandlers.HandleListUsedNullifiers)
	mux.HandleFunc("/api/v1/rfq/check-nullifier/", ledgerHandlers.HandleCheckNullifier)
	mux.HandleFunc("/api/v1/rfq/mark-nullifier-used", ledgerHandlers.HandleMarkNullifierUsed)

	mux.HandleFunc("/admin/whitelist", adminHandlers.HandleWhitelist)

	mux.HandleFunc("/api/v1/rfq/vault/health", obsHandlers.HandleVaultHealth)
	mux.HandleFunc("/api/v1/rfq/settlements/partial", obsHandlers.HandlePartialSettlements)

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler(dbClient, vault))

	loggedMux := server.LoggingMiddleware(log.New(log.Writer(), "[HTTP] ", log.LstdFlags))(mux)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: loggedMux}

	go func() {
		log.Printf("RFQ core API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed:", err)
		}
	}()
	go reportGauges(context.Background(), repos, vault, collector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down RFQ core")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if fsClient != nil {
		if err := fsClient.Close(); err != nil {
			log.Printf("firestore client close error: %v", err)
		}
	}
	if err := dbClient.Close(); err != nil {
		log.Printf("database client close error: %v", err)
	}
	log.Println("RFQ core stopped")
}

func healthHandler(db *database.Client, vault *vaultclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		status := "ok"
		if hs, err := db.Health(ctx); err != nil || !hs.Healthy {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(`{"status":"` + status + `"}`))
	}
}

// reportGauges periodically samples per-chain circuit state and active
// request count into the metrics collector, which promhttp then exposes
// on every /metrics scrape.
func reportGauges(ctx context.Context, repos *database.Repositories, vault *vaultclient.Client, collector *metrics.Collector) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for chainID, snap := range vault.BreakerSnapshots() {
				collector.SetCircuitState(chainID, snap.State)
			}
			if n, err := repos.Requests.CountActive(ctx); err == nil {
				collector.ActiveRequests.Set(float64(n))
			}
		}
	}
}
