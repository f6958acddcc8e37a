package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardmint/internal/config"
)

const userAgent = "CardMint/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyOperatorPending(ctx context.Context, jobID, cardName string) error
	NotifyUnmatched(ctx context.Context, jobID string) error
	NotifyJobFailed(ctx context.Context, jobID, errorCode, message string) error
	NotifyRecovery(ctx context.Context, policy string, requeued, deleted int64) error
	TestNotification(ctx context.Context) error
}

// Option customizes the ntfy service.
type Option func(*ntfyService)

// WithClock overrides the time source used for dedup decisions.
func WithClock(clock func() time.Time) Option {
	return func(n *ntfyService) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *ntfyService) {
		if client != nil {
			n.client = client
		}
	}
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config, opts ...Option) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		clock:           time.Now,
		operatorPending: cfg.Notifications.OperatorPending,
		failures:        cfg.Notifications.Failures,
		dedup: newDedupCache(
			cfg.Notifications.DedupCapacity,
			time.Duration(cfg.Notifications.DedupWindowSeconds)*time.Second,
		),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	// dedupKey suppresses repeats within the dedup window when set.
	dedupKey string
}

type ntfyService struct {
	endpoint        string
	client          *http.Client
	clock           func() time.Time
	dedup           *dedupCache
	operatorPending bool
	failures        bool
}

func (n *ntfyService) NotifyOperatorPending(ctx context.Context, jobID, cardName string) error {
	if !n.operatorPending {
		return nil
	}
	message := fmt.Sprintf("Scan %s is waiting for operator review", jobID)
	if cardName = strings.TrimSpace(cardName); cardName != "" {
		message = fmt.Sprintf("%s\nBest match: %s", message, cardName)
	}
	return n.send(ctx, payload{
		title:    "CardMint - Review Needed",
		message:  message,
		tags:     []string{"cardmint", "operator", "review"},
		dedupKey: "pending:" + jobID,
	})
}

func (n *ntfyService) NotifyUnmatched(ctx context.Context, jobID string) error {
	if !n.operatorPending {
		return nil
	}
	return n.send(ctx, payload{
		title:    "CardMint - No Match",
		message:  fmt.Sprintf("Scan %s has no reasonable candidate\nManual identification required", jobID),
		tags:     []string{"cardmint", "unmatched", "review"},
		dedupKey: "unmatched:" + jobID,
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, errorCode, message string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Scan ")
	builder.WriteString(jobID)
	builder.WriteString(" failed")
	if errorCode = strings.TrimSpace(errorCode); errorCode != "" {
		builder.WriteString(" (")
		builder.WriteString(errorCode)
		builder.WriteString(")")
	}
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(": ")
		builder.WriteString(message)
	}
	return n.send(ctx, payload{
		title:    "CardMint - Scan Failed",
		message:  builder.String(),
		tags:     []string{"cardmint", "error", "alert"},
		priority: "high",
		dedupKey: "failed:" + jobID + ":" + errorCode,
	})
}

func (n *ntfyService) NotifyRecovery(ctx context.Context, policy string, requeued, deleted int64) error {
	if requeued == 0 && deleted == 0 {
		return nil
	}
	return n.send(ctx, payload{
		title:   "CardMint - Recovered",
		message: fmt.Sprintf("Startup recovery (%s): %d requeued, %d deleted", policy, requeued, deleted),
		tags:    []string{"cardmint", "recovery"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "CardMint - Test",
		message:  "Notification system test",
		tags:     []string{"cardmint", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if data.dedupKey != "" && n.dedup != nil && !n.dedup.allow(data.dedupKey, n.clock()) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyOperatorPending(context.Context, string, string) error   { return nil }
func (noopService) NotifyUnmatched(context.Context, string) error                 { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyRecovery(context.Context, string, int64, int64) error    { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
