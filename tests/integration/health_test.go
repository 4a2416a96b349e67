package integration

import (
	"net/http"
	"os"
	"testing"

	"github.com/nexus-im/courier/tests/testutil"
)

func TestPing(t *testing.T) {
	if os.Getenv("TEST_SERVER_ADDR") == "" {
		t.Skip("TEST_SERVER_ADDR not set, no server to check")
	}

	var body map[string]string
	status, err := testutil.DoJSON(http.MethodGet, "/ping", nil, &body)
	if err != nil {
		t.Fatalf("ping request failed: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["message"] != "Ping successful!" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	if os.Getenv("TEST_SERVER_ADDR") == "" {
		t.Skip("TEST_SERVER_ADDR not set, no server to check")
	}

	var body map[string]string
	status, err := testutil.DoJSON(http.MethodGet, "/does-not-exist", nil, &body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if status != http.StatusNotFound || body["error"] != "Route not found" {
		t.Fatalf("expected 404 Route not found, got %d %v", status, body)
	}
}
