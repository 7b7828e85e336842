package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

// passingBody is long enough that the mock scorer clears the threshold
// (score = 60 + len%40 = 80).
var passingBody = strings.Repeat("x", 300)

// failingBody scores 60 against a threshold of 70.
var failingBody = strings.Repeat("x", 240)

func processItemPayload(sourceID, body string) string {
	payload := map[string]any{
		"sourceType": "news",
		"sourceId":   sourceID,
		"title":      "Test headline about something",
		"body":       body,
		"url":        "https://example.com/article",
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestProcessItem_RequiresAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/pipeline/items",
		processItemPayload("src-1", passingBody), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestProcessItem_Validation(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/items",
		`{"sourceType":"carrier-pigeon","sourceId":"x"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", errObj["code"])
	}
}

func TestProcessItem_FullRun(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/items",
		processItemPayload("src-run", passingBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	created := parseJSON(t, resp)
	itemID, _ := created["itemId"].(string)
	if itemID == "" {
		t.Fatal("expected itemId in response")
	}

	item := runItem(t, ta, itemID)
	if item.Status != "completed" {
		t.Fatalf("expected completed item, got %s (stage %d: %s)",
			item.Status, item.ErrorStage, item.ErrorMessage)
	}
	if item.Gate == nil || item.Delivery == nil {
		t.Fatal("expected gate and delivery outputs on completed item")
	}
	if item.Delivery.ScriptID == "" {
		t.Fatal("expected a persisted script id")
	}

	// The mock QC scores put the run at NEEDS_REVIEW via the review queue.
	statusResp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/pipeline/items/"+itemID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	assertStatus(t, statusResp, http.StatusOK)
	status := parseJSON(t, statusResp)
	if status["status"] != "completed" {
		t.Errorf("expected completed status, got %v", status["status"])
	}
	if status["totalCost"] == float64(0) {
		t.Error("expected non-zero total cost after generation-backed stages")
	}

	listResp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/scripts/", "")
	if err != nil {
		t.Fatalf("scripts request failed: %v", err)
	}
	assertStatus(t, listResp, http.StatusOK)
	list := parseJSON(t, listResp)
	scripts, _ := list["scripts"].([]interface{})
	if len(scripts) != 1 {
		t.Fatalf("expected exactly one script after a passing run, got %d", len(scripts))
	}
	script := scripts[0].(map[string]interface{})
	if script["decision"] != "NEEDS_REVIEW" {
		t.Errorf("expected NEEDS_REVIEW decision, got %v", script["decision"])
	}
	if script["status"] != "pending_review" {
		t.Errorf("expected pending_review status, got %v", script["status"])
	}
}

func TestProcessItem_LowScoreFailsAtScorer(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/items",
		processItemPayload("src-low", failingBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	created := parseJSON(t, resp)
	itemID := created["itemId"].(string)

	item := runItem(t, ta, itemID)
	if item.Status != "failed" {
		t.Fatalf("expected failed item, got %s", item.Status)
	}
	if item.ErrorStage != 2 {
		t.Errorf("expected errorStage 2, got %d", item.ErrorStage)
	}
	if item.FailureKind != "content_rejected" {
		t.Errorf("expected content_rejected, got %s", item.FailureKind)
	}
	if item.Analysis != nil || item.Script != nil {
		t.Error("no stage after the scorer should have run")
	}

	// Content rejections surface no retry affordance.
	statusResp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/pipeline/items/"+itemID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	status := parseJSON(t, statusResp)
	if status["retryable"] != false {
		t.Error("content rejection must not be retryable")
	}

	retryResp, err := doAuthRequest(t, ta.app, http.MethodPost,
		fmt.Sprintf("/api/pipeline/items/%s/retry", itemID), "")
	if err != nil {
		t.Fatalf("retry request failed: %v", err)
	}
	assertStatus(t, retryResp, http.StatusConflict)

	listResp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/scripts/", "")
	if err != nil {
		t.Fatalf("scripts request failed: %v", err)
	}
	list := parseJSON(t, listResp)
	scripts, _ := list["scripts"].([]interface{})
	if len(scripts) != 0 {
		t.Errorf("failed runs must not create scripts, got %d", len(scripts))
	}
}

func TestCancelItem(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/items",
		processItemPayload("src-cancel", passingBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	created := parseJSON(t, resp)
	itemID := created["itemId"].(string)

	cancelResp, err := doAuthRequest(t, ta.app, http.MethodPost,
		fmt.Sprintf("/api/pipeline/items/%s/cancel", itemID), "")
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	assertStatus(t, cancelResp, http.StatusOK)
	cancelled := parseJSON(t, cancelResp)
	if cancelled["status"] != "cancelled" {
		t.Errorf("expected cancelled, got %v", cancelled["status"])
	}

	// Terminal statuses are set exactly once.
	again, err := doAuthRequest(t, ta.app, http.MethodPost,
		fmt.Sprintf("/api/pipeline/items/%s/cancel", itemID), "")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	assertStatus(t, again, http.StatusConflict)
}

func TestGetStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/pipeline/items/nope", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestTriggerBatch(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/batch", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	body := parseJSON(t, resp)
	if body["enqueued"] != true {
		t.Errorf("expected enqueued=true, got %v", body["enqueued"])
	}
}
