package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"cardmint/internal/events"
	"cardmint/internal/queue"
)

// respondWithJob reloads the job after a committed change, publishes evt
// and writes the job.
func (s *Server) respondWithJob(c *gin.Context, id string, evt events.Event) {
	job, err := s.store.GetByID(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	evt.JobID = job.ID
	evt.Actor = "operator"
	if evt.Status == "" {
		evt.Status = string(job.Status)
	}
	s.publish(evt)
	c.JSON(http.StatusOK, JobResponse{Job: FromScanJob(job)})
}

func (s *Server) gate(c *gin.Context, detail string, apply func(ctx context.Context, id string) error) {
	id := c.Param("id")
	if err := apply(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondWithJob(c, id, events.Event{Type: events.TypeGateChanged, Detail: detail})
}

func (s *Server) lockFront(c *gin.Context) {
	s.gate(c, "front locked", s.store.LockFront)
}

func (s *Server) markBackReady(c *gin.Context) {
	s.gate(c, "back ready", s.store.MarkBackReady)
}

func (s *Server) lockCanonical(c *gin.Context) {
	s.gate(c, "canonical locked", s.store.LockCanonical)
}

func (s *Server) accept(c *gin.Context) {
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	id := c.Param("id")
	err := s.store.AcceptWithTruthCoreAndInventory(c.Request.Context(), id,
		req.TruthCore.ToTruthCore(),
		queue.InventoryResult{ItemUID: req.ItemUID, CMCardID: req.CMCardID},
		queue.Timings(req.Timings),
	)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondWithJob(c, id, events.Event{Type: events.TypeStatusChanged, Detail: "item " + req.ItemUID})
}

func (s *Server) acceptBaseline(c *gin.Context) {
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	id := c.Param("id")
	if err := s.store.AcceptForBaselineOnly(c.Request.Context(), id, req.TruthCore.ToTruthCore()); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondWithJob(c, id, events.Event{Type: events.TypeStatusChanged, Detail: "baseline"})
}

func (s *Server) retryJob(c *gin.Context) {
	id := c.Param("id")
	status, err := s.store.ResetForRetry(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.wake()
	s.respondWithJob(c, id, events.Event{Type: events.TypeStatusChanged, Status: string(status), Detail: "retry"})
}

func (s *Server) releaseJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.ReleaseJob(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	s.wake()
	s.respondWithJob(c, id, events.Event{Type: events.TypeGateChanged, Detail: "lease released"})
}
