package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/config"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/vaultclient"
)

// These exercise Coordinator.Settle's orchestration end to end: reservation
// against the real nullifier/commitment ledger, then both settlement legs
// against a fake vault server. Gated on the same RFQ_TEST_DATABASE_URL
// pattern as pkg/database's tests, since the ledger reservation step needs
// real compare-and-set behavior, not a mock.

func newIntegrationRepos(t *testing.T) *database.Repositories {
	t.Helper()
	dsn := os.Getenv("RFQ_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RFQ_TEST_DATABASE_URL not configured")
	}
	client, err := database.NewClient(&config.Config{
		DatabaseURL:       dsn,
		DBMaxOpenConns:    5,
		DBMaxIdleConns:    2,
		DBConnMaxIdleTime: 5 * time.Minute,
		DBConnMaxLifetime: time.Hour,
	})
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.MigrateUp(ctx); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return database.NewRepositories(client)
}

func newFakeVaultClient(t *testing.T, handler http.HandlerFunc) *vaultclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		VaultRequestTimeout:   time.Second,
		VaultRetryAttempts:    3,
		VaultRetryBaseDelay:   time.Millisecond,
		VaultRetryMaxDelay:    5 * time.Millisecond,
		VaultBreakerThreshold: 10,
		VaultBreakerCooldown:  time.Minute,
	}
	chains := &config.ChainsConfig{
		Chains: map[string]config.ChainSpec{"test-chain": {VaultBaseURL: srv.URL}},
	}
	return vaultclient.New(cfg, chains, nil)
}

func testInput(quoteID uuid.UUID, suffix string) Input {
	return Input{
		QuoteID:         quoteID,
		Direction:       database.DirectionBuy,
		BaseToken:       "ETH",
		QuoteToken:      "USDC",
		BaseAmount:      "1",
		PriceTotal:      "2000",
		ChainID:         "test-chain",
		TakerCommitment: "taker-commitment-" + suffix,
		TakerNullifier:  "taker-nullifier-" + suffix,
		TakerAddress:    "0xtaker",
		MakerCommitment: "maker-commitment-" + suffix,
		MakerNullifier:  "maker-nullifier-" + suffix,
		MakerAddress:    "0xmaker",
	}
}

func cleanupLedger(t *testing.T, repos *database.Repositories, in Input) {
	t.Helper()
	ctx := context.Background()
	for _, hash := range []string{in.TakerNullifier, in.MakerNullifier} {
		_, _ = repos.Client.ExecContext(ctx, "DELETE FROM used_nullifiers WHERE nullifier_hash = $1", hash)
	}
	for _, c := range []string{in.TakerCommitment, in.MakerCommitment} {
		_, _ = repos.Client.ExecContext(ctx, "DELETE FROM used_commitments WHERE commitment = $1", c)
	}
}

func TestSettleSucceedsBothLegs(t *testing.T) {
	repos := newIntegrationRepos(t)
	in := testInput(uuid.New(), uuid.NewString())
	defer cleanupLedger(t, repos, in)

	vault := newFakeVaultClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(vaultclient.SettlementLegResult{TxHash: "0x" + uuid.NewString()})
	})
	coord := New(repos, vault, 3, nil)

	record, apiErr := coord.Settle(context.Background(), in)
	if apiErr != nil {
		t.Fatalf("expected settlement to succeed, got %v", apiErr)
	}
	if record.TxHashA == "" || record.TxHashB == "" {
		t.Fatalf("expected both leg tx hashes to be populated, got %+v", record)
	}

	taker, err := repos.Nullifiers.Check(context.Background(), in.TakerNullifier)
	if err != nil || taker.Status != database.StatusSettled {
		t.Errorf("expected taker nullifier settled, got %+v err=%v", taker, err)
	}
}

func TestSettleReservationConflictWhenNullifierAlreadyUsed(t *testing.T) {
	repos := newIntegrationRepos(t)
	in := testInput(uuid.New(), uuid.NewString())
	defer cleanupLedger(t, repos, in)

	if err := repos.Nullifiers.MarkUsed(context.Background(), in.TakerNullifier, uuid.NullUUID{}, database.PartyTaker, database.StatusSettled); err != nil {
		t.Fatalf("seed existing nullifier: %v", err)
	}

	vault := newFakeVaultClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("vault must not be called once reservation fails")
	})
	coord := New(repos, vault, 3, nil)

	_, apiErr := coord.Settle(context.Background(), in)
	if apiErr == nil || apiErr.Kind != apierr.KindNullifierUsed {
		t.Fatalf("expected nullifier_used, got %v", apiErr)
	}
}

func TestSettleLegAFailureReleasesReservations(t *testing.T) {
	repos := newIntegrationRepos(t)
	in := testInput(uuid.New(), uuid.NewString())
	defer cleanupLedger(t, repos, in)

	vault := newFakeVaultClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	coord := New(repos, vault, 1, nil)

	_, apiErr := coord.Settle(context.Background(), in)
	if apiErr == nil || apiErr.Kind != apierr.KindInsufficientBalance {
		t.Fatalf("expected insufficient_balance from leg a, got %v", apiErr)
	}

	taker, err := repos.Nullifiers.Check(context.Background(), in.TakerNullifier)
	if err != nil || taker.Status != database.StatusCancelled {
		t.Errorf("expected taker nullifier released back to cancelled, got %+v err=%v", taker, err)
	}
}

func TestSettleLegBExhaustionReturnsPartial(t *testing.T) {
	repos := newIntegrationRepos(t)
	in := testInput(uuid.New(), uuid.NewString())
	defer cleanupLedger(t, repos, in)

	var calls int
	vault := newFakeVaultClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// leg (a): taker -> maker succeeds.
			_ = json.NewEncoder(w).Encode(vaultclient.SettlementLegResult{TxHash: "0x" + uuid.NewString()})
			return
		}
		// leg (b): maker -> taker fails every attempt.
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	coord := New(repos, vault, 2, nil)

	record, apiErr := coord.Settle(context.Background(), in)
	if apiErr == nil || apiErr.Kind != apierr.KindSettlementPartial {
		t.Fatalf("expected settlement_partial, got %v", apiErr)
	}
	if record == nil || record.TxHashA == "" {
		t.Fatalf("expected leg a's tx hash to survive a partial settlement, got %+v", record)
	}

	taker, err := repos.Nullifiers.Check(context.Background(), in.TakerNullifier)
	if err != nil || taker.Status != database.StatusSettled {
		t.Errorf("expected taker side marked settled despite leg b failure, got %+v err=%v", taker, err)
	}
	maker, err := repos.Nullifiers.Check(context.Background(), in.MakerNullifier)
	if err != nil || maker.Status != database.StatusPending {
		t.Errorf("expected maker side left pending for reconciliation, got %+v err=%v", maker, err)
	}
}
