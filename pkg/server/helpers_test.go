package server

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/certen/rfq-core/pkg/config"
	"github.com/certen/rfq-core/pkg/vaultclient"
)

// discardLogger is the shared *log.Logger every handler test passes in so
// test output isn't cluttered with the "encode response" failure path.
func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// testLogger captures log output into buf for assertions.
func testLogger(buf *strings.Builder) *log.Logger {
	return log.New(buf, "", 0)
}

// newVaultClientForTest builds a vaultclient.Client with no reachable chain
// endpoints, enough to exercise handlers that only read breaker state.
func newVaultClientForTest(t *testing.T) *vaultclient.Client {
	t.Helper()
	cfg := &config.Config{
		VaultRequestTimeout:   time.Second,
		VaultRetryAttempts:    1,
		VaultRetryBaseDelay:   time.Millisecond,
		VaultRetryMaxDelay:    time.Millisecond,
		VaultBreakerThreshold: 5,
		VaultBreakerCooldown:  time.Minute,
	}
	chains := &config.ChainsConfig{Chains: map[string]config.ChainSpec{}}
	return vaultclient.New(cfg, chains, discardLogger())
}
