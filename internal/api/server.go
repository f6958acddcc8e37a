package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/logging"
)

// Server serves the intake API.
type Server struct {
	store     JobStore
	logger    *slog.Logger
	publisher events.Publisher
	waker     Waker
	limiter   *clientLimiter
	maxDepth  int
	token     string
	clock     func() time.Time
	engine    *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher sets where committed changes are published.
func WithPublisher(publisher events.Publisher) Option {
	return func(s *Server) { s.publisher = publisher }
}

// WithWaker sets what is woken after a job is admitted or requeued.
func WithWaker(waker Waker) Option {
	return func(s *Server) { s.waker = waker }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the limiter clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer builds the gin engine and routes.
func NewServer(cfg *config.Config, store JobStore, opts ...Option) *Server {
	s := &Server{
		store:    store,
		maxDepth: cfg.Admission.MaxQueueDepth,
		token:    cfg.API.Token,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api-server")
	s.limiter = newClientLimiter(cfg.Admission.RequestsPerSecond, cfg.Admission.Burst, s.clock)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggerMiddleware(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := r.Group("/api", authMiddleware(s.token))
	{
		group.POST("/jobs", s.rateLimitMiddleware(), s.createJob)
		group.GET("/jobs", s.listJobs)
		group.GET("/jobs/:id", s.getJob)
		group.GET("/jobs/:id/history", s.jobHistory)

		group.POST("/jobs/:id/lock-front", s.lockFront)
		group.POST("/jobs/:id/back-ready", s.markBackReady)
		group.POST("/jobs/:id/lock-canonical", s.lockCanonical)
		group.POST("/jobs/:id/accept", s.accept)
		group.POST("/jobs/:id/accept-baseline", s.acceptBaseline)
		group.POST("/jobs/:id/retry", s.retryJob)
		group.POST("/jobs/:id/release", s.releaseJob)

		group.GET("/queue/depth", s.queueDepth)
		group.GET("/queue/stats", s.queueStats)
	}
	return r
}

func (s *Server) publish(evt events.Event) {
	if s.publisher == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock().UTC()
	}
	s.publisher.Publish(evt)
}

func (s *Server) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}
