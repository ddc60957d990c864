// Package api exposes the care store and its services over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pathakanu/carely/internal/adherence"
	"github.com/pathakanu/carely/internal/alert"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/companion"
	"github.com/pathakanu/carely/internal/memory"
	"github.com/pathakanu/carely/internal/report"
	"github.com/pathakanu/carely/internal/store"
	"go.uber.org/zap"
)

// Server holds the handler dependencies.
type Server struct {
	store      *store.Store
	adherence  *adherence.Calculator
	alerts     *alert.Generator
	summarizer *memory.Summarizer
	companion  *companion.Companion
	reports    *report.Builder
	webhook    http.Handler
	logger     *zap.Logger
	now        func() time.Time
}

// Options wires a Server. Webhook may be nil.
type Options struct {
	Store      *store.Store
	Adherence  *adherence.Calculator
	Alerts     *alert.Generator
	Summarizer *memory.Summarizer
	Companion  *companion.Companion
	Reports    *report.Builder
	Webhook    http.Handler
	Logger     *zap.Logger
	Now        func() time.Time
}

// New returns a Server.
func New(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		adherence:  opts.Adherence,
		alerts:     opts.Alerts,
		summarizer: opts.Summarizer,
		companion:  opts.Companion,
		reports:    opts.Reports,
		webhook:    opts.Webhook,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.Default())

	r.GET("/health", s.health)

	r.POST("/users", s.createUser)
	r.GET("/users", s.listUsers)
	r.GET("/users/:id", s.getUser)
	r.PATCH("/users/:id/preferences", s.updatePreferences)

	r.POST("/medications", s.createMedication)
	r.GET("/users/:id/medications", s.listMedications)
	r.POST("/medications/:id/deactivate", s.deactivateMedication)
	r.POST("/medications/:id/log", s.recordDose)

	r.GET("/users/:id/logs", s.listLogs)
	r.POST("/logs/:id/taken", s.markTaken)
	r.POST("/logs/:id/skipped", s.markSkipped)
	r.GET("/users/:id/adherence", s.getAdherence)

	r.GET("/users/:id/reminders", s.dueReminders)
	r.POST("/reminders", s.createReminder)
	r.POST("/reminders/:id/complete", s.completeReminder)

	r.GET("/users/:id/alerts", s.listAlerts)
	r.POST("/users/:id/alerts/evaluate", s.evaluateAlerts)
	r.POST("/alerts/:id/resolve", s.resolveAlert)

	r.GET("/users/:id/memory/summary", s.memorySummary)
	r.GET("/users/:id/memory/context", s.memoryContext)

	r.POST("/chat", s.chat)
	r.GET("/users/:id/conversations", s.listConversations)
	r.GET("/users/:id/sentiment", s.sentimentTrend)

	r.POST("/caregivers/:id/patients", s.assignPatient)
	r.GET("/caregivers/:id/patients", s.listPatients)

	r.POST("/users/:id/events", s.createEvent)
	r.GET("/users/:id/events", s.listEvents)

	r.GET("/users/:id/report.xlsx", s.workbook)

	if s.webhook != nil {
		r.POST("/twilio/webhook", gin.WrapH(s.webhook))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("api: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps err onto a status code and writes it.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("api: request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// intQuery parses an integer query parameter, returning def when absent.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}
