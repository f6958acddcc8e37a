package stage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cardmint/internal/config"
	"cardmint/internal/queue"
	"cardmint/internal/services"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
	maxErrorBody          = 2048
)

// HTTPOption customizes the HTTP collaborators.
type HTTPOption func(*httpTransport)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *httpTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithRetryMaxAttempts overrides the number of attempts per request.
func WithRetryMaxAttempts(attempts int) HTTPOption {
	return func(t *httpTransport) {
		t.attempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) HTTPOption {
	return func(t *httpTransport) {
		t.baseDelay = baseDelay
		t.maxDelay = maxDelay
	}
}

type httpTransport struct {
	stage     string
	endpoint  string
	apiKey    string
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newTransport(stage, endpoint string, cfg config.Classifier, opts []HTTPOption) *httpTransport {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	t := &httpTransport{
		stage:     stage,
		endpoint:  strings.TrimSpace(endpoint),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		client:    &http.Client{Timeout: timeout},
		attempts:  defaultRetryAttempts,
		baseDelay: defaultRetryBaseDelay,
		maxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.attempts <= 0 {
		t.attempts = 1
	}
	return t
}

type statusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *statusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// postJSON sends payload and decodes the response into out, retrying
// throttling and server errors with capped exponential backoff.
func (t *httpTransport) postJSON(ctx context.Context, operation string, payload, out any) error {
	if t.endpoint == "" {
		return services.Wrap(services.ErrConfiguration, t.stage, operation, "endpoint not configured", nil)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", operation, err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		body, err := t.sendOnce(ctx, encoded)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return services.Wrap(services.ErrValidation, t.stage, operation, "response is not valid JSON", err)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var statusErr *statusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return classifyStatus(t.stage, operation, statusErr)
		}
		if attempt == t.attempts {
			break
		}
		if err := sleepContext(ctx, t.retryDelay(attempt, statusErr)); err != nil {
			return err
		}
	}
	return services.Wrap(services.ErrTransientDependency, t.stage, operation,
		fmt.Sprintf("failed after %d attempts", t.attempts), lastErr)
}

func (t *httpTransport) sendOnce(ctx context.Context, encoded []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error (timeout=%s): %w", t.client.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &statusError{
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func (t *httpTransport) retryDelay(attempt int, statusErr *statusError) time.Duration {
	if statusErr != nil && statusErr.RetryAfter > 0 {
		if statusErr.RetryAfter > t.maxDelay {
			return t.maxDelay
		}
		return statusErr.RetryAfter
	}
	delay := t.baseDelay << (attempt - 1)
	if delay <= 0 || delay > t.maxDelay {
		delay = t.maxDelay
	}
	return delay
}

// probe reports whether the endpoint answers at all. Any non-5xx reply counts.
func (t *httpTransport) probe(ctx context.Context, name string) Health {
	if t.endpoint == "" {
		return Unhealthy(name, "endpoint not configured")
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return Unhealthy(name, err.Error())
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Unhealthy(name, err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return Unhealthy(name, fmt.Sprintf("http %d", resp.StatusCode))
	}
	return Healthy(name)
}

func classifyStatus(stage, operation string, err *statusError) error {
	switch err.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stage, operation, "credentials rejected", err)
	case http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, stage, operation, "no result", err)
	default:
		return services.Wrap(services.ErrValidation, stage, operation, "request rejected", err)
	}
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HTTPClassifier posts the front image to a classification service.
type HTTPClassifier struct {
	transport *httpTransport
}

// NewHTTPClassifier builds a classifier for cfg.URL.
func NewHTTPClassifier(cfg config.Classifier, opts ...HTTPOption) *HTTPClassifier {
	return &HTTPClassifier{transport: newTransport("classifier", cfg.URL, cfg, opts)}
}

type classifyRequest struct {
	JobID       string `json:"job_id"`
	CaptureUID  string `json:"capture_uid,omitempty"`
	ImageName   string `json:"image_name"`
	ImageBase64 string `json:"image_base64"`
}

type classifyResponse struct {
	Extracted     json.RawMessage   `json:"extracted"`
	Candidates    []queue.Candidate `json:"candidates"`
	InferencePath string            `json:"inference_path"`
}

// Classify sends the job's best front image and returns the ranked result.
func (c *HTTPClassifier) Classify(ctx context.Context, job *queue.ScanJob) (Classification, error) {
	var empty Classification
	if job == nil {
		return empty, services.Wrap(services.ErrValidation, "classifier", "classify", "job required", nil)
	}
	imagePath := job.FrontImagePath()
	if imagePath == "" {
		return empty, services.Wrap(services.ErrValidation, "classifier", "classify", "job has no front image", nil)
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return empty, services.Wrap(services.ErrValidation, "classifier", "read front image", imagePath, err)
	}

	var resp classifyResponse
	req := classifyRequest{
		JobID:       job.ID,
		CaptureUID:  job.CaptureUID,
		ImageName:   filepath.Base(imagePath),
		ImageBase64: base64.StdEncoding.EncodeToString(data),
	}
	if err := c.transport.postJSON(ctx, "classify", req, &resp); err != nil {
		return empty, err
	}
	if len(bytes.TrimSpace(resp.Extracted)) == 0 || bytes.Equal(bytes.TrimSpace(resp.Extracted), []byte("null")) {
		return empty, services.Wrap(services.ErrValidation, "classifier", "classify", "response missing extracted payload", nil)
	}
	inference := strings.TrimSpace(resp.InferencePath)
	if inference == "" {
		inference = "http"
	}
	return Classification{
		Extracted:     resp.Extracted,
		Top3:          RankCandidates(resp.Candidates),
		InferencePath: inference,
	}, nil
}

// HealthCheck probes the classification endpoint.
func (c *HTTPClassifier) HealthCheck(ctx context.Context) Health {
	return c.transport.probe(ctx, "classifier")
}

// HTTPPriceLookup queries a pricing service for a candidate.
type HTTPPriceLookup struct {
	transport *httpTransport
}

// NewHTTPPriceLookup builds a price lookup for cfg.PricingURL.
func NewHTTPPriceLookup(cfg config.Classifier, opts ...HTTPOption) *HTTPPriceLookup {
	return &HTTPPriceLookup{transport: newTransport("pricing", cfg.PricingURL, cfg, opts)}
}

// Lookup returns the market price for candidate.
func (p *HTTPPriceLookup) Lookup(ctx context.Context, candidate queue.Candidate) (PriceQuote, error) {
	var quote PriceQuote
	if strings.TrimSpace(candidate.Name) == "" {
		return quote, services.Wrap(services.ErrValidation, "pricing", "lookup", "candidate name required", nil)
	}
	if err := p.transport.postJSON(ctx, "lookup", candidate, &quote); err != nil {
		return PriceQuote{}, err
	}
	if quote.AmountCents < 0 {
		return PriceQuote{}, services.Wrap(services.ErrValidation, "pricing", "lookup", "negative price", nil)
	}
	quote.Currency = strings.ToUpper(strings.TrimSpace(quote.Currency))
	if quote.Currency == "" {
		quote.Currency = "USD"
	}
	return quote, nil
}

// HealthCheck probes the pricing endpoint.
func (p *HTTPPriceLookup) HealthCheck(ctx context.Context) Health {
	return p.transport.probe(ctx, "pricing")
}
