package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hallqvist/lyssna/internal/health"
	"github.com/hallqvist/lyssna/internal/observe"
)

// Server exposes the worker's loopback job API: submit, poll status, fetch
// result.
type Server struct {
	store   *Store
	queue   *Queue
	metrics *observe.Metrics
}

// NewServer builds the HTTP layer over the store and queue.
func NewServer(store *Store, queue *Queue, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{store: store, queue: queue, metrics: metrics}
}

// Router assembles the gin engine with all worker routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observe.Middleware(s.metrics))

	r.POST("/jobs", s.handleSubmit)
	r.GET("/jobs", s.handleList)
	r.GET("/jobs/:id", s.handleGet)
	r.GET("/jobs/:id/result", s.handleResult)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	health.New(health.Checker{
		Name:  "jobs_db",
		Check: func(context.Context) error { return s.store.Ping() },
	}).Register(r)

	return r
}

func apiError(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

type submitRequest struct {
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "Ogiltig JSON-kropp")
		return
	}
	switch req.JobType {
	case TypeProcessSession, TypeReinterpret:
	default:
		apiError(c, http.StatusBadRequest, "Okänd jobbtyp: "+req.JobType)
		return
	}

	job, err := s.store.Create(req.JobType, req.InputData)
	if err != nil {
		slog.Error("failed to create job", "type", req.JobType, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte skapa jobbet")
		return
	}
	if err := s.queue.Submit(c.Request.Context(), job.ID); err != nil {
		slog.Error("failed to queue job", "job_id", job.ID, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte köa jobbet")
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": StatusQueued})
}

func (s *Server) handleGet(c *gin.Context) {
	job, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleResult(c *gin.Context) {
	job, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}
	switch job.Status {
	case StatusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"job_id":      job.ID,
			"result_data": json.RawMessage(job.ResultData),
		})
	case StatusFailed:
		c.JSON(http.StatusOK, gin.H{
			"job_id": job.ID,
			"status": StatusFailed,
			"error":  job.Error,
		})
	default:
		apiError(c, http.StatusConflict, "Jobbet är inte klart")
	}
}

func (s *Server) handleList(c *gin.Context) {
	list, err := s.store.Recent(50)
	if err != nil {
		slog.Error("failed to list jobs", "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte lista jobb")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	if err := s.store.Ping(); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"queue_depth": s.queue.Depth(),
	})
}

func (s *Server) jobError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		apiError(c, http.StatusNotFound, "Jobb hittades inte")
		return
	}
	slog.Error("job lookup failed", "error", err)
	apiError(c, http.StatusInternalServerError, "Kunde inte läsa jobbet")
}
