package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dashpulse/internal/task/engine"
	logx "dashpulse/pkg/logx"
)

// EventService is the part of the event lifecycle exposed over HTTP.
type EventService interface {
	MarkReviewed(ctx context.Context, id string, hasProblem bool) error
	ResolveRedirectTarget(ctx context.Context, id string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type SnapshotSource interface {
	Snapshot() engine.Snapshot
}

// Deps wires the handlers. Store and Engines only feed /healthz.
type Deps struct {
	Events  EventService
	Store   Pinger
	Engines []SnapshotSource
	Log     logx.Logger
}

const pingTimeout = 2 * time.Second

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Log))
	Register(r, d)
	return r
}

// Register attaches the routes to r.
func Register(r *gin.Engine, d Deps) {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{d: d, log: d.Log.With(logx.String("comp", "api"))}

	ev := r.Group("/events/:id")
	{
		ev.POST("/feedback", h.feedback())
		ev.GET("/resolve", h.resolve())
	}

	legacy := r.Group("/api")
	{
		legacy.POST("/dashbord_colback/", h.legacyFeedback())
		legacy.GET("/to_dashboard/:id/", h.resolve())
	}

	r.GET("/healthz", h.health())
}

type handlers struct {
	d   Deps
	log logx.Logger
}

type feedbackRequest struct {
	Problem *bool `json:"problem" binding:"required"`
}

type legacyFeedbackRequest struct {
	EventUUID string `json:"event_uuid" binding:"required"`
	Problem   *bool  `json:"problem" binding:"required"`
}

func (h *handlers) feedback() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		h.review(c, c.Param("id"), *req.Problem)
	}
}

func (h *handlers) legacyFeedback() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req legacyFeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		h.review(c, req.EventUUID, *req.Problem)
	}
}

func (h *handlers) review(c *gin.Context, id string, problem bool) {
	if err := h.d.Events.MarkReviewed(c.Request.Context(), id, problem); err != nil {
		status, msg := statusFor(err, http.StatusBadRequest)
		h.log.Warn("feedback rejected", logx.String("event", id), logx.Int("status", status), logx.Err(err))
		abortError(c, status, msg)
		return
	}
	h.log.Info("event reviewed", logx.String("event", id), logx.Bool("problem", problem))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *handlers) resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		url, err := h.d.Events.ResolveRedirectTarget(c.Request.Context(), id)
		if err != nil {
			status, msg := statusFor(err, http.StatusNotFound)
			if status >= http.StatusInternalServerError {
				h.log.Error("redirect failed", logx.String("event", id), logx.Err(err))
			} else {
				h.log.Warn("redirect rejected", logx.String("event", id), logx.Err(err))
			}
			abortError(c, status, msg)
			return
		}
		c.Redirect(http.StatusFound, url)
	}
}

type engineHealth struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
	InFlight  int    `json:"in_flight"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

func (h *handlers) health() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok := true
		store := "ok"
		if h.d.Store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
			err := h.d.Store.Ping(ctx)
			cancel()
			if err != nil {
				ok = false
				store = "unavailable"
				h.log.Warn("health: store ping failed", logx.Err(err))
			}
		}

		engines := make([]engineHealth, 0, len(h.d.Engines))
		for _, src := range h.d.Engines {
			s := src.Snapshot()
			running := s.QueueCap > 0
			if s.Enabled && !running {
				ok = false
			}
			engines = append(engines, engineHealth{
				Name:      s.Name,
				Running:   running,
				QueueLen:  s.QueueLen,
				QueueCap:  s.QueueCap,
				InFlight:  s.InFlight,
				Completed: s.Completed,
				Failed:    s.Failed,
				Dropped:   s.Dropped,
			})
		}

		status, code := "ok", http.StatusOK
		if !ok {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "store": store, "engines": engines})
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}
