package main

import (
	"net/http"
	"testing"

	syncpkg "github.com/careops/chartsync/internal/domain/sync"
)

// ---------------------------------------------------------------------------
// decodeDrainResponse tests
// ---------------------------------------------------------------------------

func TestDecodeDrainResponse_CleanResult(t *testing.T) {
	body := []byte(`{"succeeded":3,"failed":0,"total":3}`)

	result, reason, err := decodeDrainResponse(http.StatusOK, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Errorf("expected no early-stop reason, got %q", reason)
	}
	want := syncpkg.Result{Succeeded: 3, Failed: 0, Total: 3}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}
}

func TestDecodeDrainResponse_PartialResult(t *testing.T) {
	body := []byte(`{"result":{"succeeded":1,"failed":0,"total":4},"error":"authentication required"}`)

	result, reason, err := decodeDrainResponse(http.StatusBadGateway, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "authentication required" {
		t.Errorf("reason = %q, want %q", reason, "authentication required")
	}
	want := syncpkg.Result{Succeeded: 1, Failed: 0, Total: 4}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}
}

func TestDecodeDrainResponse_MalformedBody(t *testing.T) {
	if _, _, err := decodeDrainResponse(http.StatusOK, []byte("not json")); err == nil {
		t.Fatal("expected error for malformed 200 body, got nil")
	}
	if _, _, err := decodeDrainResponse(http.StatusBadGateway, []byte("not json")); err == nil {
		t.Fatal("expected error for malformed 502 body, got nil")
	}
}

func TestDecodeDrainResponse_EmptyQueue(t *testing.T) {
	result, _, err := decodeDrainResponse(http.StatusOK, []byte(`{"succeeded":0,"failed":0,"total":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("expected zero total for empty queue, got %d", result.Total)
	}
}
