package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookReturnsReceipt(t *testing.T) {
	var (
		gotKey  string
		gotBody executeRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"gas_used":21000,"cost":"0.0042"}`))
	}))
	defer server.Close()

	sink := NewWebhook(server.URL, time.Second, nil)
	receipt, err := sink.PerformExecution(context.Background(), "proposal-1", []byte(`{"action":"transfer"}`))
	if err != nil {
		t.Fatalf("perform execution failed: %v", err)
	}
	if !receipt.Success || receipt.GasUsed != 21000 || receipt.Cost.String() != "0.0042" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if gotKey != "proposal-1" || gotBody.ProposalID != "proposal-1" {
		t.Fatalf("expected proposal id in header and body, got %q and %q", gotKey, gotBody.ProposalID)
	}
	if string(gotBody.Payload) != `{"action":"transfer"}` {
		t.Fatalf("expected json payload to pass through, got %s", gotBody.Payload)
	}
}

func TestWebhookReportsFailedReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	receipt, err := NewWebhook(server.URL, time.Second, nil).PerformExecution(context.Background(), "proposal-2", nil)
	if err != nil {
		t.Fatalf("perform execution failed: %v", err)
	}
	if receipt.Success || receipt.ErrorMessage == "" {
		t.Fatalf("expected a failed receipt with a message, got %+v", receipt)
	}
}

func TestWebhookErrorsOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "executor offline", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewWebhook(server.URL, time.Second, nil).PerformExecution(context.Background(), "proposal-3", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebhookTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	_, err := NewWebhook(server.URL, 20*time.Millisecond, nil).PerformExecution(context.Background(), "proposal-4", nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestWebhookRequiresEndpoint(t *testing.T) {
	if _, err := NewWebhook("  ", time.Second, nil).PerformExecution(context.Background(), "proposal-5", nil); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
}
