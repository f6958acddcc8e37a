package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardmint/internal/api"
	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/queue"
	"cardmint/internal/testsupport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

func (w *countingWaker) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type harness struct {
	store     *queue.Store
	handler   http.Handler
	publisher *recordingPublisher
	waker     *countingWaker
	clock     *testsupport.Clock
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	clock := testsupport.NewClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	publisher := &recordingPublisher{}
	waker := &countingWaker{}
	server := api.NewServer(cfg, store,
		api.WithPublisher(publisher),
		api.WithWaker(waker),
		api.WithClock(clock.Now),
	)
	return &harness{store: store, handler: server.Handler(), publisher: publisher, waker: waker, clock: clock}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) api.Job {
	t.Helper()
	var resp api.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Job
}

func (h *harness) operatorPending(t *testing.T, id string) {
	t.Helper()
	testsupport.NewJob(t, h.store, queue.NewJob{ID: id, RawImagePath: "/captures/" + id + ".jpg"})
	require.NoError(t, h.store.UpdateStatus(context.Background(), id, queue.StatusOperatorPending, nil))
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateJob(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{
		ID:           "J1",
		CaptureUID:   "cap-1",
		Status:       "captured",
		RawImagePath: "/captures/cap-1.jpg",
		Timings:      map[string]int64{"capture_ms": 40},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	job := decodeJob(t, rec)
	assert.Equal(t, "J1", job.ID)
	assert.Equal(t, string(queue.StatusCaptured), job.Status)
	assert.Equal(t, "/captures/cap-1.jpg", job.Images.Raw)
	assert.Equal(t, int64(40), job.Timings["capture_ms"])
	assert.Equal(t, []events.Type{events.TypeJobCreated}, h.publisher.types())
	assert.Equal(t, 1, h.waker.calls())

	dup := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{CaptureUID: "cap-1"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	generated := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{CaptureUID: "cap-2"})
	require.Equal(t, http.StatusCreated, generated.Code, generated.Body.String())
	assert.NotEmpty(t, decodeJob(t, generated).ID)
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{Status: "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{Status: string(queue.StatusAccepted)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION")
	assert.Empty(t, h.publisher.types())
}

func TestCreateJobRejectsWhenQueueFull(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Admission.MaxQueueDepth = 2
		cfg.Admission.RequestsPerSecond = 0
	})
	for _, id := range []string{"J1", "J2"} {
		rec := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{ID: id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{ID: "J3"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queue full", body["error"])
	assert.EqualValues(t, 2, body["depth"])

	depth := h.do(t, http.MethodGet, "/api/queue/depth", nil)
	require.Equal(t, http.StatusOK, depth.Code)
	assert.JSONEq(t, `{"depth":2,"maxDepth":2,"accepting":false}`, depth.Body.String())
}

func TestCreateJobRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Admission.MaxQueueDepth = 0
		cfg.Admission.RequestsPerSecond = 1
		cfg.Admission.Burst = 1
	})

	first := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{ID: "J1"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{ID: "J2"})
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	h.clock.Advance(time.Second)
	third := h.do(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{ID: "J2"})
	assert.Equal(t, http.StatusCreated, third.Code)
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.API.Token = "secret" })

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/jobs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		h.do(t, http.MethodGet, "/api/jobs", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		h.do(t, http.MethodGet, "/api/jobs", nil, "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", nil).Code)
}

func TestGetAndListJobs(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.NewJob(t, h.store, queue.NewJob{ID: "J1"})
	h.clock.Advance(time.Millisecond)
	h.operatorPending(t, "J2")

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/jobs/missing", nil).Code)

	rec := h.do(t, http.MethodGet, "/api/jobs/J2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(queue.StatusOperatorPending), decodeJob(t, rec).Status)

	var list api.JobListResponse
	rec = h.do(t, http.MethodGet, "/api/jobs?status=OPERATOR_PENDING", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "J2", list.Jobs[0].ID)

	rec = h.do(t, http.MethodGet, "/api/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "J2", list.Jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/jobs?status=NOPE", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/jobs?limit=0", nil).Code)
}

func TestOperatorFlowOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.NewJob(t, h.store, queue.NewJob{ID: "queued", RawImagePath: "/raw.jpg"})
	h.operatorPending(t, "J1")

	rec := h.do(t, http.MethodPost, "/api/jobs/queued/lock-front", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TRANSITION")

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/back-ready", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/lock-front", nil, "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJob(t, rec).FrontLocked)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/back-ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJob(t, rec).BackReady)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/lock-canonical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJob(t, rec).CanonicalLocked)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/accept", api.AcceptRequest{
		TruthCore: api.TruthCore{Name: "Pikachu", HP: 60, CollectorNo: "25", SetName: "Base", SetSize: 102},
		ItemUID:   "item-7",
		CMCardID:  "base-25",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := decodeJob(t, rec)
	assert.Equal(t, string(queue.StatusAccepted), job.Status)
	assert.Equal(t, "item-7", job.ItemUID)
	require.NotNil(t, job.Accepted)
	assert.Equal(t, "Pikachu", job.Accepted.Name)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/accept", api.AcceptRequest{
		TruthCore: api.TruthCore{Name: "Pikachu"},
		ItemUID:   "item-8",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var history api.HistoryResponse
	rec = h.do(t, http.MethodGet, "/api/jobs/J1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	last := history.Events[len(history.Events)-1]
	assert.Equal(t, string(queue.StatusAccepted), last.Status)
	assert.Equal(t, "operator", last.Actor)

	assert.Equal(t, []events.Type{
		events.TypeGateChanged,
		events.TypeGateChanged,
		events.TypeGateChanged,
		events.TypeStatusChanged,
	}, h.publisher.types())
}

func TestAcceptBaselineRequiresName(t *testing.T) {
	h := newHarness(t, nil)
	h.operatorPending(t, "J1")

	rec := h.do(t, http.MethodPost, "/api/jobs/J1/accept-baseline", api.AcceptRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/accept-baseline", api.AcceptRequest{
		TruthCore: api.TruthCore{Name: "Eevee"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := decodeJob(t, rec)
	assert.Equal(t, string(queue.StatusAccepted), job.Status)
	assert.Empty(t, job.ItemUID)
}

func TestRetryAndReleaseWakeWorkers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	testsupport.NewJob(t, h.store, queue.NewJob{ID: "J1", RawImagePath: "/captures/J1.jpg"})
	require.NoError(t, h.store.UpdateStatus(ctx, "J1", queue.StatusFailed, nil))

	rec := h.do(t, http.MethodPost, "/api/jobs/J1/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(queue.StatusCaptured), decodeJob(t, rec).Status)
	assert.Equal(t, 1, h.waker.calls())

	claimed, err := h.store.ClaimNextPending(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	released := decodeJob(t, rec)
	assert.Empty(t, released.ProcessorID)
	assert.Equal(t, string(queue.StatusInferencing), released.Status)
	assert.Equal(t, 2, h.waker.calls())

	rec = h.do(t, http.MethodPost, "/api/jobs/J1/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueStats(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.NewJob(t, h.store, queue.NewJob{ID: "J1"})
	h.operatorPending(t, "J2")

	rec := h.do(t, http.MethodGet, "/api/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Counts[string(queue.StatusQueued)])
	assert.Equal(t, 1, stats.Counts[string(queue.StatusOperatorPending)])
	assert.Equal(t, 0, stats.Counts[string(queue.StatusFailed)])
	assert.Equal(t, 2, stats.Health.Total)
	assert.Equal(t, 1, stats.Health.OperatorPending)
}
