package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/rfq-core/pkg/apierr"
)

func TestIsAuthorizedAdminRequiresMatchingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/whitelist", nil)
	if isAuthorizedAdmin(req, "secret") {
		t.Error("expected no header to fail authorization")
	}

	req.Header.Set("X-Admin-Key", "wrong")
	if isAuthorizedAdmin(req, "secret") {
		t.Error("expected mismatched key to fail authorization")
	}

	req.Header.Set("X-Admin-Key", "secret")
	if !isAuthorizedAdmin(req, "secret") {
		t.Error("expected matching key to authorize")
	}
}

func TestIsAuthorizedAdminRejectsEverythingWhenUnconfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/whitelist", nil)
	req.Header.Set("X-Admin-Key", "")
	if isAuthorizedAdmin(req, "") {
		t.Error("an empty configured admin key must never authorize a request")
	}
}

func TestDecodeHexRejectsOddLengthOrNonHex(t *testing.T) {
	if _, apiErr := decodeHex("signature", "not-hex!!"); apiErr == nil || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation error for non-hex input, got %v", apiErr)
	}
	b, apiErr := decodeHex("signature", "deadbeef")
	if apiErr != nil {
		t.Fatalf("unexpected error decoding valid hex: %v", apiErr)
	}
	if len(b) != 4 {
		t.Errorf("expected 4 decoded bytes, got %d", len(b))
	}
}

func TestParseUUIDFromPath(t *testing.T) {
	id, tail, ok := parseUUIDFromPath("/api/v1/rfq/quote-request", "/api/v1/rfq/quote-request/11111111-1111-1111-1111-111111111111/cancel")
	if !ok {
		t.Fatal("expected path to parse")
	}
	if id.String() != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("unexpected id %s", id)
	}
	if tail != "cancel" {
		t.Errorf("expected tail 'cancel', got %q", tail)
	}

	if _, _, ok := parseUUIDFromPath("/api/v1/rfq/quote-request", "/api/v1/rfq/quote-request/not-a-uuid"); ok {
		t.Error("expected an invalid uuid segment to fail parsing")
	}
}

func TestHandleVaultHealthReportsBreakerSnapshots(t *testing.T) {
	vault := newVaultClientForTest(t)
	handlers := NewObservabilityHandlers(vault, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rfq/vault/health", nil)
	rec := httptest.NewRecorder()
	handlers.HandleVaultHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleVaultHealthRejectsNonGet(t *testing.T) {
	vault := newVaultClientForTest(t)
	handlers := NewObservabilityHandlers(vault, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rfq/vault/health", nil)
	rec := httptest.NewRecorder()
	handlers.HandleVaultHealth(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
