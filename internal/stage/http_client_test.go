package stage_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cardmint/internal/config"
	"cardmint/internal/queue"
	"cardmint/internal/services"
	"cardmint/internal/stage"
	"cardmint/internal/testsupport"
)

func fastRetries() []stage.HTTPOption {
	return []stage.HTTPOption{
		stage.WithRetryMaxAttempts(3),
		stage.WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	}
}

func TestHTTPClassifierClassify(t *testing.T) {
	image := testsupport.WriteImage(t, t.TempDir(), "front.jpg")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["job_id"] != "J1" || req["image_name"] != "front.jpg" {
			t.Errorf("unexpected request %#v", req)
		}
		if _, err := base64.StdEncoding.DecodeString(req["image_base64"]); err != nil {
			t.Errorf("image not base64: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"extracted": map[string]any{"card_name": "Pikachu", "confidence": 0.91},
			"candidates": []map[string]any{
				{"name": "Pichu", "confidence": 0.2},
				{"name": "Pikachu", "confidence": 0.91},
			},
			"inference_path": "lmstudio",
		})
	}))
	defer server.Close()

	classifier := stage.NewHTTPClassifier(config.Classifier{URL: server.URL, APIKey: "secret"}, fastRetries()...)
	result, err := classifier.Classify(context.Background(), &queue.ScanJob{ID: "J1", RawImagePath: image})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.InferencePath != "lmstudio" {
		t.Fatalf("unexpected inference path %q", result.InferencePath)
	}
	if len(result.Top3) != 2 || result.Top3[0].Name != "Pikachu" {
		t.Fatalf("expected ranked candidates, got %#v", result.Top3)
	}
	if err := queue.ValidateExtracted(result.Extracted); err != nil {
		t.Fatalf("expected valid extracted payload: %v", err)
	}
}

func TestHTTPClassifierRetriesServerErrors(t *testing.T) {
	image := testsupport.WriteImage(t, t.TempDir(), "front.jpg")
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"extracted": map[string]any{"card_name": "Eevee", "confidence": 0.8},
		})
	}))
	defer server.Close()

	classifier := stage.NewHTTPClassifier(config.Classifier{URL: server.URL}, fastRetries()...)
	if _, err := classifier.Classify(context.Background(), &queue.ScanJob{ID: "J1", RawImagePath: image}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPClassifierErrorClassification(t *testing.T) {
	image := testsupport.WriteImage(t, t.TempDir(), "front.jpg")
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{name: "unavailable", status: http.StatusBadGateway, marker: services.ErrTransientDependency},
		{name: "unauthorized", status: http.StatusUnauthorized, marker: services.ErrConfiguration},
		{name: "bad request", status: http.StatusBadRequest, marker: services.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			classifier := stage.NewHTTPClassifier(config.Classifier{URL: server.URL}, fastRetries()...)
			_, err := classifier.Classify(context.Background(), &queue.ScanJob{ID: "J1", RawImagePath: image})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestHTTPClassifierRequiresImage(t *testing.T) {
	classifier := stage.NewHTTPClassifier(config.Classifier{URL: "http://127.0.0.1:1"})
	_, err := classifier.Classify(context.Background(), &queue.ScanJob{ID: "J1"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = classifier.Classify(context.Background(), &queue.ScanJob{
		ID:           "J1",
		RawImagePath: filepath.Join(t.TempDir(), "missing.jpg"),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing file, got %v", err)
	}
}

func TestHTTPPriceLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var candidate queue.Candidate
		_ = json.NewDecoder(r.Body).Decode(&candidate)
		if candidate.Name != "Pikachu" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"amount_cents": 1250, "currency": "usd", "source": "ppt"})
	}))
	defer server.Close()

	pricer := stage.NewHTTPPriceLookup(config.Classifier{PricingURL: server.URL}, fastRetries()...)
	quote, err := pricer.Lookup(context.Background(), queue.Candidate{Name: "Pikachu"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if quote.AmountCents != 1250 || quote.Currency != "USD" {
		t.Fatalf("unexpected quote %#v", quote)
	}
	if _, err := pricer.Lookup(context.Background(), queue.Candidate{Name: "Missingno"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHealthChecks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	ctx := context.Background()
	if h := stage.NewHTTPClassifier(config.Classifier{URL: server.URL}).HealthCheck(ctx); !h.Ready {
		t.Fatalf("expected reachable classifier to be ready: %#v", h)
	}
	if h := stage.NewHTTPPriceLookup(config.Classifier{}).HealthCheck(ctx); h.Ready || h.Name != "pricing" {
		t.Fatalf("expected unconfigured pricing to be unhealthy: %#v", h)
	}
}
