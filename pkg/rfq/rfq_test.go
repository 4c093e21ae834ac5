package rfq

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/google/uuid"

	"github.com/certen/rfq-core/pkg/apierr"
	"github.com/certen/rfq-core/pkg/config"
	"github.com/certen/rfq-core/pkg/database"
	"github.com/certen/rfq-core/pkg/settlement"
	"github.com/certen/rfq-core/pkg/vaultclient"
	"github.com/certen/rfq-core/pkg/whitelist"
)

// Engine has no interface seams over its dependencies, so these exercise the
// real state machine against Postgres under the same RFQ_TEST_DATABASE_URL
// gate pkg/database and pkg/settlement use, with the vault faked over HTTP.

func newTestRepos(t *testing.T) *database.Repositories {
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

// newTestEngine wires an Engine against a fake vault server. legHandler, if
// given, overrides only the settlement-leg (POST .../settle) response;
// balance queries (submit_quote's optional sufficiency check) always report
// an ample balance so they never interfere with the scenario under test.
func newTestEngine(t *testing.T, repos *database.Repositories, mode whitelist.Mode, legHandler http.HandlerFunc) *Engine {
	t.Helper()
	if legHandler == nil {
		legHandler = writeOKLeg
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeAmpleBalance(w)
			return
		}
		legHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	vaultCfg := &config.Config{
		VaultRequestTimeout:   time.Second,
		VaultRetryAttempts:    1,
		VaultRetryBaseDelay:   time.Millisecond,
		VaultRetryMaxDelay:    time.Millisecond,
		VaultBreakerThreshold: 10,
		VaultBreakerCooldown:  time.Minute,
	}
	chains := &config.ChainsConfig{Chains: map[string]config.ChainSpec{"test-chain": {VaultBaseURL: srv.URL}}}
	vault := vaultclient.New(vaultCfg, chains, nil)

	coord := settlement.New(repos, vault, 2, nil)
	gate := whitelist.New(mode)

	return New(repos, gate, vault, coord, nil, nil)
}

func writeOKLeg(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(`{"txHash":"0x` + uuid.NewString() + `"}`))
}

func writeAmpleBalance(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{"commitment":"c","balance":"999999999999"}`))
}

// sign builds a valid WOTS+ (signature, publicKey) pair over message for a
// freshly generated one-time keypair, mirroring pkg/wots's own unexported
// test helper since that package's signer can't be imported here.
func sign(t *testing.T, message []byte) (signature, publicKey []byte) {
	t.Helper()
	const (
		chainValueSize = 32
		chainCount     = 67
		digestChunks   = 64
		checksumChunks = 3
	)

	pubSeed := make([]byte, 32)
	rand2 := make([]byte, 32)
	if _, err := rand.Read(pubSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(rand2); err != nil {
		t.Fatal(err)
	}
	secret := make([]byte, chainCount*chainValueSize)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}

	chainStep := func(chainIndex, step int, value []byte) []byte {
		h, err := blake2b.New256(nil)
		if err != nil {
			t.Fatal(err)
		}
		h.Write(pubSeed)
		h.Write(rand2)
		var idx [8]byte
		binary.BigEndian.PutUint32(idx[:4], uint32(chainIndex))
		binary.BigEndian.PutUint32(idx[4:], uint32(step))
		h.Write(idx[:])
		h.Write(value)
		return h.Sum(nil)
	}
	chainHash := func(chainIndex, steps int, value []byte) []byte {
		cur := value
		for s := 0; s < steps; s++ {
			cur = chainStep(chainIndex, s, cur)
		}
		return cur
	}

	messageHash := sha256.Sum256(message)
	second := sha256.Sum256(messageHash[:])
	var digest [digestChunks]byte
	copy(digest[:32], messageHash[:])
	copy(digest[32:], second[:])
	var checksum uint32
	for _, b := range digest {
		checksum += uint32(255 - b)
	}
	var chunks [chainCount]byte
	copy(chunks[:digestChunks], digest[:])
	var checksumBytes [4]byte
	binary.BigEndian.PutUint32(checksumBytes[:], checksum)
	copy(chunks[digestChunks:], checksumBytes[1:1+checksumChunks])

	signature = make([]byte, 0, chainCount*chainValueSize)
	pk := make([]byte, 0, chainCount*chainValueSize)
	for i := 0; i < chainCount; i++ {
		secretChunk := secret[i*chainValueSize : (i+1)*chainValueSize]
		chunkValue := int(chunks[i])
		sigChunk := chainHash(i, chunkValue, secretChunk)
		pkChunk := chainHash(i, 255-chunkValue, sigChunk)
		signature = append(signature, sigChunk...)
		pk = append(pk, pkChunk...)
	}
	publicKey = append(append(pk, pubSeed...), rand2...)
	return signature, publicKey
}

// cleanupRequest removes a request and its quotes, plus every used_signature
// row (signatures carry no request_id, only a public key, so this is scoped
// broadly and run per-test against an otherwise-empty schema).
func cleanupRequest(t *testing.T, repos *database.Repositories, requestID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, _ = repos.Client.ExecContext(ctx, "DELETE FROM used_signatures WHERE operation_kind IN ($1, $2, $3, $4)",
		database.OpCreateQuoteRequest, database.OpCancelQuoteRequest, database.OpSubmitQuote, database.OpAcceptQuote)
	_, _ = repos.Client.ExecContext(ctx, "DELETE FROM quotes WHERE request_id = $1", requestID)
	_, _ = repos.Client.ExecContext(ctx, "DELETE FROM quote_requests WHERE request_id = $1", requestID)
}

// cleanupLedger removes the specific nullifier/commitment rows an
// accept_quote test created, keyed by their exact (uuid-suffixed) values.
func cleanupLedger(t *testing.T, repos *database.Repositories, hashes ...string) {
	t.Helper()
	ctx := context.Background()
	for _, h := range hashes {
		_, _ = repos.Client.ExecContext(ctx, "DELETE FROM used_nullifiers WHERE nullifier_hash = $1", h)
		_, _ = repos.Client.ExecContext(ctx, "DELETE FROM used_commitments WHERE commitment = $1", h)
	}
}

func createTestRequest(t *testing.T, engine *Engine) (uuid.UUID, []byte /* taker pubkey */) {
	t.Helper()
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)
	msg := []byte(fmt.Sprintf("create_quote_request:%s:%s:%d", "ETH/USDC", "1", expiresAt.UnixMilli()))
	signature, publicKey := sign(t, msg)

	out, apiErr := engine.CreateRequest(ctx, CreateRequestInput{
		AssetPair:     "ETH/USDC",
		Direction:     database.DirectionBuy,
		Amount:        "1",
		ExpiresAt:     expiresAt,
		Signature:     signature,
		PublicKey:     publicKey,
		SignedMessage: msg,
	})
	if apiErr != nil {
		t.Fatalf("CreateRequest failed: %v", apiErr)
	}
	return out.RequestID, publicKey
}

func TestCreateRequestRejectsPastExpiry(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	_, apiErr := engine.CreateRequest(context.Background(), CreateRequestInput{
		AssetPair:     "ETH/USDC",
		Direction:     database.DirectionBuy,
		Amount:        "1",
		ExpiresAt:     time.Now().Add(-time.Minute),
		SignedMessage: []byte("create_quote_request:whatever"),
	})
	if apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation error for past expiry, got %v", apiErr)
	}
}

func TestCreateRequestRejectsExpiryBeyondMaxLifetime(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	_, apiErr := engine.CreateRequest(context.Background(), CreateRequestInput{
		AssetPair:     "ETH/USDC",
		Direction:     database.DirectionBuy,
		Amount:        "1",
		ExpiresAt:     time.Now().Add(48 * time.Hour),
		SignedMessage: []byte("create_quote_request:whatever"),
	})
	if apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation error for expiry past max lifetime, got %v", apiErr)
	}
}

func TestCreateRequestSucceedsAndRejectsSignatureReplay(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	expiresAt := time.Now().Add(time.Hour)
	msg := []byte(fmt.Sprintf("create_quote_request:%s:%s:%d", "ETH/USDC", "1", expiresAt.UnixMilli()))
	signature, publicKey := sign(t, msg)
	in := CreateRequestInput{
		AssetPair:     "ETH/USDC",
		Direction:     database.DirectionBuy,
		Amount:        "1",
		ExpiresAt:     expiresAt,
		Signature:     signature,
		PublicKey:     publicKey,
		SignedMessage: msg,
	}

	out, apiErr := engine.CreateRequest(context.Background(), in)
	if apiErr != nil {
		t.Fatalf("expected create_request to succeed, got %v", apiErr)
	}
	defer cleanupRequest(t, repos, out.RequestID)

	if len(out.StealthAddress) == 0 {
		t.Error("expected a derived stealth address")
	}

	_, apiErr = engine.CreateRequest(context.Background(), in)
	if apiErr == nil || apiErr.Kind != apierr.KindSignatureReused {
		t.Fatalf("expected signature_reused on replay, got %v", apiErr)
	}
}

func TestCancelRequestTransitionsActiveRequest(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	cancelMsg := []byte(fmt.Sprintf("cancel_quote_request:%s", requestID))
	cancelSig, cancelPub := sign(t, cancelMsg)

	apiErr := engine.CancelRequest(context.Background(), CancelRequestInput{
		RequestID: requestID,
		Signature: cancelSig,
		PublicKey: cancelPub,
	})
	if apiErr != nil {
		t.Fatalf("expected cancel_request to succeed, got %v", apiErr)
	}

	got, apiErr := engine.GetRequest(context.Background(), requestID)
	if apiErr != nil {
		t.Fatalf("GetRequest failed: %v", apiErr)
	}
	if got.Request.Status != database.RequestStatusCancelled {
		t.Errorf("expected status cancelled, got %s", got.Request.Status)
	}
}

func TestCancelRequestRejectsAlreadyCancelled(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	firstMsg := []byte(fmt.Sprintf("cancel_quote_request:%s", requestID))
	firstSig, firstPub := sign(t, firstMsg)
	if apiErr := engine.CancelRequest(context.Background(), CancelRequestInput{RequestID: requestID, Signature: firstSig, PublicKey: firstPub}); apiErr != nil {
		t.Fatalf("first cancel failed: %v", apiErr)
	}

	secondSig, secondPub := sign(t, firstMsg)
	apiErr := engine.CancelRequest(context.Background(), CancelRequestInput{RequestID: requestID, Signature: secondSig, PublicKey: secondPub})
	if apiErr == nil || apiErr.Kind != apierr.KindStaleState {
		t.Fatalf("expected stale_state on double-cancel, got %v", apiErr)
	}
}

func TestSubmitQuoteRejectsUnwhitelistedMaker(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissioned, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	expiresAt := time.Now().Add(30 * time.Minute)
	msg := []byte(fmt.Sprintf("submit_quote:%s:%s:%d", requestID, "2000", expiresAt.UnixMilli()))
	sig, pub := sign(t, msg)

	_, apiErr := engine.SubmitQuote(context.Background(), SubmitQuoteInput{
		RequestID: requestID,
		Price:     "2000",
		ExpiresAt: expiresAt,
		Signature: sig,
		PublicKey: pub,
	})
	if apiErr == nil || apiErr.Kind != apierr.KindNotWhitelisted {
		t.Fatalf("expected not_whitelisted for a non-member maker, got %v", apiErr)
	}
}

func TestSubmitQuoteSucceedsForWhitelistedMaker(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	expiresAt := time.Now().Add(30 * time.Minute)
	msg := []byte(fmt.Sprintf("submit_quote:%s:%s:%d", requestID, "2000", expiresAt.UnixMilli()))
	sig, pub := sign(t, msg)

	out, apiErr := engine.SubmitQuote(context.Background(), SubmitQuoteInput{
		RequestID: requestID,
		Price:     "2000",
		ExpiresAt: expiresAt,
		Signature: sig,
		PublicKey: pub,
	})
	if apiErr != nil {
		t.Fatalf("expected submit_quote to succeed, got %v", apiErr)
	}

	quotes, apiErr := engine.ListQuotes(context.Background(), requestID)
	if apiErr != nil {
		t.Fatalf("ListQuotes failed: %v", apiErr)
	}
	if len(quotes) != 1 || quotes[0].QuoteID != out.QuoteID {
		t.Fatalf("expected the submitted quote to be listed, got %+v", quotes)
	}
}

func TestSubmitQuoteRejectsExpiryPastRequestExpiry(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissionless, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	got, apiErr := engine.GetRequest(context.Background(), requestID)
	if apiErr != nil {
		t.Fatalf("GetRequest failed: %v", apiErr)
	}
	beyond := got.Request.ExpiresAt.Add(time.Minute)
	msg := []byte(fmt.Sprintf("submit_quote:%s:%s:%d", requestID, "2000", beyond.UnixMilli()))
	sig, pub := sign(t, msg)

	_, apiErr = engine.SubmitQuote(context.Background(), SubmitQuoteInput{
		RequestID: requestID,
		Price:     "2000",
		ExpiresAt: beyond,
		Signature: sig,
		PublicKey: pub,
	})
	if apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation error for a quote outliving its request, got %v", apiErr)
	}
}

// submitTestQuote whitelists and submits a quote carrying the commitment
// material accept_quote requires, returning its id.
func submitTestQuote(t *testing.T, engine *Engine, requestID uuid.UUID, suffix string) uuid.UUID {
	t.Helper()
	expiresAt := time.Now().Add(30 * time.Minute)
	msg := []byte(fmt.Sprintf("submit_quote:%s:%s:%d", requestID, "2000", expiresAt.UnixMilli()))
	sig, pub := sign(t, msg)
	engine.gate.Add(pub)

	out, apiErr := engine.SubmitQuote(context.Background(), SubmitQuoteInput{
		RequestID:          requestID,
		Price:              "2000",
		ExpiresAt:          expiresAt,
		Signature:          sig,
		PublicKey:          pub,
		MakerCommitment:    "maker-commitment-" + suffix,
		MakerNullifierHash: "maker-nullifier-" + suffix,
		ChainID:            "test-chain",
	})
	if apiErr != nil {
		t.Fatalf("submit quote failed: %v", apiErr)
	}
	return out.QuoteID
}

func TestAcceptQuoteSucceedsAndRejectsSiblingQuotes(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissioned, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	suffix := uuid.NewString()
	acceptedID := submitTestQuote(t, engine, requestID, suffix)
	rejectedID := submitTestQuote(t, engine, requestID, uuid.NewString())

	acceptMsg := []byte(fmt.Sprintf("accept_quote:%s", acceptedID))
	acceptSig, acceptPub := sign(t, acceptMsg)
	takerCommitment, takerNullifier := "taker-commitment-"+suffix, "taker-nullifier-"+suffix
	defer cleanupLedger(t, repos, takerCommitment, takerNullifier, "maker-commitment-"+suffix, "maker-nullifier-"+suffix)

	out, apiErr := engine.AcceptQuote(context.Background(), AcceptQuoteInput{
		QuoteID:            acceptedID,
		Signature:          acceptSig,
		PublicKey:          acceptPub,
		ChainID:            "test-chain",
		TakerCommitment:    takerCommitment,
		TakerAddress:       "0xtaker",
		TakerNullifierHash: takerNullifier,
	})
	if apiErr != nil {
		t.Fatalf("expected accept_quote to succeed, got %v", apiErr)
	}
	if out.TxHashA == "" || out.TxHashB == "" {
		t.Errorf("expected both settlement legs to produce a tx hash, got %+v", out)
	}

	quotes, apiErr := engine.ListQuotes(context.Background(), requestID)
	if apiErr != nil {
		t.Fatalf("ListQuotes failed: %v", apiErr)
	}
	var sawRejected bool
	for _, q := range quotes {
		if q.QuoteID == rejectedID {
			sawRejected = true
		}
	}
	if sawRejected {
		t.Error("expected the sibling quote to be filtered out once rejected")
	}

	reqState, apiErr := engine.GetRequest(context.Background(), requestID)
	if apiErr != nil {
		t.Fatalf("GetRequest failed: %v", apiErr)
	}
	if reqState.Request.Status != database.RequestStatusFilled {
		t.Errorf("expected request status filled, got %s", reqState.Request.Status)
	}
}

func TestAcceptQuoteRejectsSecondAcceptanceOnSameRequest(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissioned, nil)

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	firstSuffix, secondSuffix := uuid.NewString(), uuid.NewString()
	firstID := submitTestQuote(t, engine, requestID, firstSuffix)
	secondID := submitTestQuote(t, engine, requestID, secondSuffix)
	defer cleanupLedger(t, repos,
		"taker-commitment-"+firstSuffix, "taker-nullifier-"+firstSuffix, "maker-commitment-"+firstSuffix, "maker-nullifier-"+firstSuffix,
		"taker-commitment-"+secondSuffix, "taker-nullifier-"+secondSuffix, "maker-commitment-"+secondSuffix, "maker-nullifier-"+secondSuffix)

	firstMsg := []byte(fmt.Sprintf("accept_quote:%s", firstID))
	firstSig, firstPub := sign(t, firstMsg)
	if _, apiErr := engine.AcceptQuote(context.Background(), AcceptQuoteInput{
		QuoteID: firstID, Signature: firstSig, PublicKey: firstPub, ChainID: "test-chain",
		TakerCommitment: "taker-commitment-" + firstSuffix, TakerAddress: "0xtaker1", TakerNullifierHash: "taker-nullifier-" + firstSuffix,
	}); apiErr != nil {
		t.Fatalf("first accept_quote failed: %v", apiErr)
	}

	// The first acceptance's critical section already rejected this sibling
	// quote, so the second attempt sees a stale (rejected) quote rather than
	// reaching the request-level compare-and-set.
	secondMsg := []byte(fmt.Sprintf("accept_quote:%s", secondID))
	secondSig, secondPub := sign(t, secondMsg)
	_, apiErr := engine.AcceptQuote(context.Background(), AcceptQuoteInput{
		QuoteID: secondID, Signature: secondSig, PublicKey: secondPub, ChainID: "test-chain",
		TakerCommitment: "taker-commitment-" + secondSuffix, TakerAddress: "0xtaker2", TakerNullifierHash: "taker-nullifier-" + secondSuffix,
	})
	if apiErr == nil || apiErr.Kind != apierr.KindStaleState {
		t.Fatalf("expected stale_state accepting an already-rejected sibling quote, got %v", apiErr)
	}
}

func TestAcceptQuoteSettlementPartialLeavesRequestFilled(t *testing.T) {
	repos := newTestRepos(t)
	var calls int
	engine := newTestEngine(t, repos, whitelist.ModePermissioned, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeOKLeg(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	suffix := uuid.NewString()
	quoteID := submitTestQuote(t, engine, requestID, suffix)
	defer cleanupLedger(t, repos, "taker-commitment-"+suffix, "taker-nullifier-"+suffix, "maker-commitment-"+suffix, "maker-nullifier-"+suffix)

	acceptMsg := []byte(fmt.Sprintf("accept_quote:%s", quoteID))
	acceptSig, acceptPub := sign(t, acceptMsg)

	out, apiErr := engine.AcceptQuote(context.Background(), AcceptQuoteInput{
		QuoteID: quoteID, Signature: acceptSig, PublicKey: acceptPub, ChainID: "test-chain",
		TakerCommitment: "taker-commitment-" + suffix, TakerAddress: "0xtaker", TakerNullifierHash: "taker-nullifier-" + suffix,
	})
	if apiErr == nil || apiErr.Kind != apierr.KindSettlementPartial {
		t.Fatalf("expected settlement_partial, got %v", apiErr)
	}
	if out == nil || out.TxHashA == "" {
		t.Fatalf("expected leg a's tx hash to survive, got %+v", out)
	}

	reqState, getErr := engine.GetRequest(context.Background(), requestID)
	if getErr != nil {
		t.Fatalf("GetRequest failed: %v", getErr)
	}
	if reqState.Request.Status != database.RequestStatusFilled {
		t.Errorf("expected request to remain filled after a partial settlement, got %s", reqState.Request.Status)
	}
}

func TestAcceptQuoteInsufficientBalanceRevertsRequestToActive(t *testing.T) {
	repos := newTestRepos(t)
	engine := newTestEngine(t, repos, whitelist.ModePermissioned, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	requestID, _ := createTestRequest(t, engine)
	defer cleanupRequest(t, repos, requestID)

	suffix := uuid.NewString()
	quoteID := submitTestQuote(t, engine, requestID, suffix)
	defer cleanupLedger(t, repos, "taker-commitment-"+suffix, "taker-nullifier-"+suffix, "maker-commitment-"+suffix, "maker-nullifier-"+suffix)

	acceptMsg := []byte(fmt.Sprintf("accept_quote:%s", quoteID))
	acceptSig, acceptPub := sign(t, acceptMsg)

	_, apiErr := engine.AcceptQuote(context.Background(), AcceptQuoteInput{
		QuoteID: quoteID, Signature: acceptSig, PublicKey: acceptPub, ChainID: "test-chain",
		TakerCommitment: "taker-commitment-" + suffix, TakerAddress: "0xtaker", TakerNullifierHash: "taker-nullifier-" + suffix,
	})
	if apiErr == nil || apiErr.Kind != apierr.KindInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", apiErr)
	}

	reqState, getErr := engine.GetRequest(context.Background(), requestID)
	if getErr != nil {
		t.Fatalf("GetRequest failed: %v", getErr)
	}
	if reqState.Request.Status != database.RequestStatusActive {
		t.Errorf("expected request reverted to active after a failed leg a, got %s", reqState.Request.Status)
	}
}
