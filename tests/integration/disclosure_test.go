//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel disclosure
// compliance engine.
//
// These tests verify the COMPLETE processing path:
//
//	Disclosure → Threshold Rules → Conflict Detectors → Exclusions → Alerts
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// They require a running kestrel instance (default http://localhost:8080,
// override with KESTREL_TEST_URL) and an empty database: rules, vendors, and
// exclusions are created through the API as each scenario needs them.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	OrgID   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		OrgID:   "test-org",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// DisclosureRequest is the disclosure sent to POST /disclosures
type DisclosureRequest struct {
	ID         string         `json:"id,omitempty"`
	PersonID   string         `json:"personId"`
	Department string         `json:"department,omitempty"`
	EntityName string         `json:"entityName"`
	Category   string         `json:"category"`
	Value      float64        `json:"value"`
	Currency   string         `json:"currency,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DisclosureResponse is what POST /disclosures returns
type DisclosureResponse struct {
	DisclosureID string `json:"disclosureId"`
	Evaluation   *struct {
		Triggered         bool     `json:"triggered"`
		TriggeredRuleIDs  []string `json:"triggeredRuleIds"`
		RecommendedAction string   `json:"recommendedAction"`
	} `json:"evaluation"`
	Detection *struct {
		Candidates []struct {
			Type          string `json:"type"`
			Confidence    int    `json:"confidence"`
			Severity      string `json:"severity"`
			MatchedEntity string `json:"matchedEntity"`
		} `json:"candidates"`
		Suppressed int `json:"suppressed"`
	} `json:"detection"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func do(t *testing.T, config TestConfig, method, path string, payload any, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Org-ID", config.OrgID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func submit(t *testing.T, config TestConfig, req DisclosureRequest) DisclosureResponse {
	t.Helper()

	var result DisclosureResponse
	status := do(t, config, "POST", "/disclosures", req, &result)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	return result
}

// ============================================================================
// SCENARIO 1: Plain disclosure with no rules or org data
// ============================================================================

func TestPlainDisclosure_NoOutcome(t *testing.T) {
	/*
	   SCENARIO: A $50 gift disclosure with no rules configured and an empty
	   vendor registry.

	   EXPECTED BEHAVIOR:
	   - Disclosure is accepted (201) and retrievable
	   - No rule triggers, no conflict candidates
	*/
	config := getTestConfig()

	result := submit(t, config, DisclosureRequest{
		PersonID:   "person-plain-001",
		EntityName: "Quiet Vendor LLC",
		Category:   "gift",
		Value:      50,
	})

	if result.Evaluation != nil && result.Evaluation.Triggered {
		t.Errorf("Expected no triggered rules, got %v", result.Evaluation.TriggeredRuleIDs)
	}
	if result.Detection != nil && len(result.Detection.Candidates) > 0 {
		t.Errorf("Expected no conflict candidates, got %v", result.Detection.Candidates)
	}

	status := do(t, config, "GET", "/disclosures/"+result.DisclosureID, nil, nil)
	if status != http.StatusOK {
		t.Errorf("Expected stored disclosure to be retrievable, got %d", status)
	}

	t.Logf("✓ Plain disclosure accepted: id=%s", result.DisclosureID)
}

// ============================================================================
// SCENARIO 2: Threshold rule lifecycle and boundary
// ============================================================================

func TestThresholdRule_BoundarySemantics(t *testing.T) {
	/*
	   SCENARIO: A gte-500 FLAG_REVIEW rule; submissions at $499.99, $500,
	   and $500.01.

	   EXPECTED BEHAVIOR:
	   - gte fires at exactly the threshold: $500 and $500.01 trigger,
	     $499.99 does not
	*/
	config := getTestConfig()

	rule := map[string]any{
		"name": "gift review threshold",
		"condition": map[string]any{
			"field": "value",
			"op":    "gte",
			"value": "500",
		},
		"action":    "FLAG_REVIEW",
		"applyMode": "FORWARD_ONLY",
		"enabled":   true,
	}
	if status := do(t, config, "PUT", "/rules/int-gift-review", rule, nil); status != http.StatusCreated {
		t.Fatalf("Expected 201 creating rule, got %d", status)
	}

	cases := []struct {
		value   float64
		trigger bool
	}{
		{499.99, false},
		{500.00, true},
		{500.01, true},
	}
	for _, tc := range cases {
		result := submit(t, config, DisclosureRequest{
			PersonID:   "person-boundary-001",
			EntityName: fmt.Sprintf("Boundary Vendor %v", tc.value),
			Category:   "gift",
			Value:      tc.value,
		})
		triggered := result.Evaluation != nil && result.Evaluation.Triggered
		if triggered != tc.trigger {
			t.Errorf("Value %.2f: expected triggered=%v, got %v", tc.value, tc.trigger, triggered)
		}
	}

	t.Logf("✓ Boundary semantics verified: gte fires at exactly 500")
}

// ============================================================================
// SCENARIO 3: Vendor conflict, dismissal, and exclusion suppression
// ============================================================================

func TestVendorConflict_DismissAndSuppress(t *testing.T) {
	/*
	   SCENARIO: The disclosed entity fuzzy-matches an approved vendor. The
	   resulting alert is dismissed as a false match with a permanent
	   exclusion; a resubmission for the same pair raises nothing.

	   EXPECTED BEHAVIOR:
	   - First submission yields a VENDOR_MATCH candidate and an OPEN alert
	   - Dismissal (FALSE_MATCH_DIFFERENT_ENTITY + PERMANENT) succeeds
	   - Second submission is suppressed by the exclusion
	*/
	config := getTestConfig()

	vendor := map[string]any{
		"id":     "int-vendor-1",
		"name":   "Stark Industries International",
		"status": "approved",
	}
	if status := do(t, config, "PUT", "/vendors", vendor, nil); status != http.StatusCreated {
		t.Fatalf("Expected 201 upserting vendor, got %d", status)
	}

	first := submit(t, config, DisclosureRequest{
		PersonID:   "person-conflict-001",
		EntityName: "Stark Industries",
		Category:   "gift",
		Value:      75,
	})
	if first.Detection == nil || len(first.Detection.Candidates) == 0 {
		t.Fatal("Expected a VENDOR_MATCH candidate on first submission")
	}

	var alerts struct {
		Alerts []struct {
			ID     string `json:"id"`
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"alerts"`
	}
	if status := do(t, config, "GET", "/alerts?status=OPEN&personId=person-conflict-001", nil, &alerts); status != http.StatusOK {
		t.Fatalf("Expected 200 listing alerts, got %d", status)
	}
	if len(alerts.Alerts) == 0 {
		t.Fatal("Expected an OPEN alert for the vendor match")
	}
	alertID := alerts.Alerts[0].ID

	dismissal := map[string]any{
		"category":       "FALSE_MATCH_DIFFERENT_ENTITY",
		"exclusionScope": "PERMANENT",
	}
	if status := do(t, config, "POST", "/alerts/"+alertID+"/dismiss", dismissal, nil); status != http.StatusOK {
		t.Fatalf("Expected 200 dismissing alert, got %d", status)
	}

	second := submit(t, config, DisclosureRequest{
		PersonID:   "person-conflict-001",
		EntityName: "Stark Industries",
		Category:   "gift",
		Value:      80,
	})
	if second.Detection == nil || second.Detection.Suppressed == 0 {
		t.Error("Expected the resubmitted match to be suppressed by the exclusion")
	}
	for _, c := range second.Detection.Candidates {
		if c.Type == "VENDOR_MATCH" {
			t.Errorf("Excluded vendor match surfaced again: %+v", c)
		}
	}

	t.Logf("✓ Conflict lifecycle verified: alert %s dismissed, resubmission suppressed", alertID)
}

// ============================================================================
// SCENARIO 4: Input validation
// ============================================================================

func TestValidation(t *testing.T) {
	config := getTestConfig()

	t.Run("MissingPersonID", func(t *testing.T) {
		status := do(t, config, "POST", "/disclosures", DisclosureRequest{
			EntityName: "Acme Corp",
			Category:   "gift",
			Value:      10,
		}, nil)
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing personId, got %d", status)
		}
	})

	t.Run("NegativeValue", func(t *testing.T) {
		status := do(t, config, "POST", "/disclosures", DisclosureRequest{
			PersonID:   "person-001",
			EntityName: "Acme Corp",
			Category:   "gift",
			Value:      -5,
		}, nil)
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400 for negative value, got %d", status)
		}
	})

	t.Run("MissingOrgHeader", func(t *testing.T) {
		body, _ := json.Marshal(DisclosureRequest{
			PersonID:   "person-001",
			EntityName: "Acme Corp",
			Category:   "gift",
			Value:      10,
		})
		httpReq, _ := http.NewRequest("POST", config.BaseURL+"/disclosures", bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		// NO X-Org-ID header!

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(httpReq)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing org header, got %d", resp.StatusCode)
		}
	})
}

// ============================================================================
// SCENARIO 5: Response metadata verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the response includes the metadata clients depend on.
	*/
	config := getTestConfig()

	result := submit(t, config, DisclosureRequest{
		PersonID:   "person-metadata-001",
		EntityName: "Metadata Vendor",
		Category:   "gift",
		Value:      10,
	})

	if result.DisclosureID == "" {
		t.Error("Missing disclosureId")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	// TotalMs can be 0 for sub-millisecond processing
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}
	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}

	t.Logf("✓ Metadata complete: id=%s, traceId=%s, totalMs=%d",
		result.DisclosureID, result.Metadata.TraceID, result.Metadata.TotalMs)
}
