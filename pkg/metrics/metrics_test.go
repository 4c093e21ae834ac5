package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// A single Collector is shared across these test functions because New()
// registers its metrics on the default registry; constructing a second
// Collector in the same test binary would panic on duplicate registration.
var collector = New()

func TestRecordSignatureVerification(t *testing.T) {
	collector.RecordSignatureVerification("accept_quote", true)
	collector.RecordSignatureVerification("accept_quote", false)

	if got := testutil.ToFloat64(collector.SignatureVerifications.WithLabelValues("accept_quote", "valid")); got != 1 {
		t.Errorf("expected 1 valid verification recorded, got %v", got)
	}
	if got := testutil.ToFloat64(collector.SignatureVerifications.WithLabelValues("accept_quote", "invalid")); got != 1 {
		t.Errorf("expected 1 invalid verification recorded, got %v", got)
	}
}

func TestSetCircuitState(t *testing.T) {
	collector.SetCircuitState("1", "closed")
	if got := testutil.ToFloat64(collector.VaultCircuitState.WithLabelValues("1")); got != 0 {
		t.Errorf("expected closed state to report 0, got %v", got)
	}
	collector.SetCircuitState("1", "half_open")
	if got := testutil.ToFloat64(collector.VaultCircuitState.WithLabelValues("1")); got != 1 {
		t.Errorf("expected half_open state to report 1, got %v", got)
	}
	collector.SetCircuitState("1", "open")
	if got := testutil.ToFloat64(collector.VaultCircuitState.WithLabelValues("1")); got != 2 {
		t.Errorf("expected open state to report 2, got %v", got)
	}
}

func TestRecordSettlementOutcome(t *testing.T) {
	collector.RecordSettlementOutcome("settled")
	if got := testutil.ToFloat64(collector.SettlementOutcomes.WithLabelValues("settled")); got != 1 {
		t.Errorf("expected 1 settled outcome, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected metrics output, got empty body")
	}
}
