package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cardmint/internal/events"
	"cardmint/internal/queue"
)

const maxListLimit = 500

func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	status := queue.StatusQueued
	if strings.TrimSpace(req.Status) != "" {
		parsed, ok := queue.ParseStatus(req.Status)
		if !ok {
			badRequest(c, "unknown status "+strconv.Quote(req.Status))
			return
		}
		status = parsed
	}
	if !s.admit(c) {
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	job, err := s.store.Create(c.Request.Context(), queue.NewJob{
		ID:           id,
		CaptureUID:   strings.TrimSpace(req.CaptureUID),
		SessionID:    strings.TrimSpace(req.SessionID),
		Status:       status,
		RawImagePath: strings.TrimSpace(req.RawImagePath),
		Timings:      req.Timings,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.publish(events.Event{
		Type:   events.TypeJobCreated,
		JobID:  job.ID,
		Status: string(job.Status),
		Actor:  "operator",
	})
	s.wake()
	c.JSON(http.StatusCreated, JobResponse{Job: FromScanJob(job)})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobResponse{Job: FromScanJob(job)})
}

func (s *Server) listJobs(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		jobs []*queue.ScanJob
		err  error
	)
	if raw := c.QueryArray("status"); len(raw) > 0 {
		statuses := make([]queue.Status, 0, len(raw))
		for _, value := range raw {
			for _, part := range strings.Split(value, ",") {
				status, ok := queue.ParseStatus(part)
				if !ok {
					badRequest(c, "unknown status "+strconv.Quote(part))
					return
				}
				statuses = append(statuses, status)
			}
		}
		jobs, err = s.store.List(ctx, statuses...)
	} else {
		limit := 0
		if rawLimit := c.Query("limit"); rawLimit != "" {
			limit, err = strconv.Atoi(rawLimit)
			if err != nil || limit <= 0 || limit > maxListLimit {
				badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
				return
			}
		}
		jobs, err = s.store.ListRecent(ctx, limit)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobListResponse{Jobs: FromScanJobs(jobs)})
}

func (s *Server) jobHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.store.GetByID(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Events: FromJobEvents(history)})
}

func (s *Server) queueDepth(c *gin.Context) {
	depth, err := s.store.QueueDepth(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DepthResponse{
		Depth:     depth,
		MaxDepth:  s.maxDepth,
		Accepting: s.maxDepth <= 0 || depth < s.maxDepth,
	})
}

func (s *Server) queueStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	health, err := s.store.Health(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{Counts: MergeQueueStats(stats), Health: health})
}
