// Package api is the http surface: job submission, result lookup, health
// and metrics.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/dispatch"
	"github.com/AlfredBerg/rod-runner/internal/intake"
	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/sandbox"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

type Server struct {
	intake     *intake.Intake
	store      *store.Store
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	exec       sandbox.Executor
	log        *zap.Logger
}

func New(in *intake.Intake, st *store.Store, q *queue.Queue, d *dispatch.Dispatcher, exec sandbox.Executor, log *zap.Logger) *Server {
	return &Server{intake: in, store: st, queue: q, dispatcher: d, exec: exec, log: log}
}

// Router builds the gin engine with recovery, logging and metrics
// middleware already attached.
func (s *Server) Router(m *metrics.Metrics, gatherer prometheus.Gatherer, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(metrics.Middleware(m))

	r.POST("/api/jobs", s.submit)
	r.GET("/api/jobs/:id", s.result)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}

type submitRequest struct {
	Name   string `json:"name"`
	Script string `json:"script"`
	Target string `json:"target"`
}

type submitResponse struct {
	JobID string    `json:"job_id"`
	State job.State `json:"state"`
}

type errorResponse struct {
	Kind    job.Kind `json:"kind"`
	Message string   `json:"message"`
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Kind: job.KindValidation, Message: "invalid json body: " + err.Error()})
		return
	}

	id, err := s.intake.Submit(req.Name, []byte(req.Script), req.Target)
	if err != nil {
		status := http.StatusBadRequest
		if job.KindOf(err) == job.KindQueueFull {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, toErrorResponse(err))
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{JobID: id, State: job.StateQueued})
}

type resultResponse struct {
	JobID           string     `json:"job_id"`
	Name            string     `json:"name"`
	State           job.State  `json:"state"`
	Output          string     `json:"output,omitempty"`
	Error           *job.Error `json:"error,omitempty"`
	FinalURL        string     `json:"final_url,omitempty"`
	Title           string     `json:"title,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
}

func (s *Server) result(c *gin.Context) {
	j, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, toErrorResponse(err))
		return
	}

	resp := resultResponse{
		JobID:       j.ID,
		Name:        j.Name,
		State:       j.State,
		SubmittedAt: j.SubmittedAt,
	}
	if j.State.Terminal() {
		resp.Output = j.Output
		resp.Error = j.Err
		resp.FinalURL = j.FinalURL
		resp.Title = j.Title
		d := j.Duration().Seconds()
		resp.DurationSeconds = &d
	}
	c.JSON(http.StatusOK, resp)
}

type healthResponse struct {
	Status           string `json:"status"`
	BrowserConnected bool   `json:"browser_connected"`
	Queued           int    `json:"queued"`
	Running          int    `json:"running"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:           "ok",
		BrowserConnected: s.exec.Connected(),
		Queued:           s.queue.Len(),
		Running:          s.dispatcher.Running(),
	})
}

func toErrorResponse(err error) errorResponse {
	var e *job.Error
	if errors.As(err, &e) {
		return errorResponse{Kind: e.Kind, Message: e.Message}
	}
	return errorResponse{Kind: job.KindInternal, Message: err.Error()}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
