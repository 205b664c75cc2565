// Package api is the daemon's HTTP surface.
package api

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobmail/internal/analytics"
	"jobmail/internal/classifier"
	"jobmail/internal/metrics"
	"jobmail/internal/storage"
	"jobmail/internal/textclean"
)

// Engines hands out the current classifier.
type Engines interface {
	Engine() (*classifier.Engine, error)
}

type Handler struct {
	engines Engines
	events  storage.Recorder
	logger  *zap.Logger
}

func NewHandler(engines Engines, events storage.Recorder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engines: engines, events: events, logger: logger}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/classify", h.Classify)
		api.GET("/metrics/daily", h.DailyMetrics)
	}
	r.GET("/metrics", metrics.Handler())
	r.GET("/health", h.HealthCheck)
}

// NewRouter builds a gin engine with the routes and request logging.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog(), cors())
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type classifyRequest struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Text    string `json:"text" binding:"required"`
}

// Classify scores one text. Nothing is stored.
func (h *Handler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, err := h.engines.Engine()
	if err != nil {
		h.logger.Error("classifier unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not loaded"})
		return
	}
	v, err := engine.Classify(req.ID, textclean.ClassificationText(req.Subject, req.Text))
	if err != nil {
		if errors.Is(err, classifier.ErrEmptyText) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("classification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "classification failed"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// DailyMetrics returns (date, label, count) rows, as JSON or ?format=csv.
func (h *Handler) DailyMetrics(c *gin.Context) {
	events, err := h.events.Load()
	if err != nil {
		h.logger.Error("failed to load verdicts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	rows := analytics.DailyCounts(events, time.UTC)
	if c.Query("format") == "csv" {
		var buf bytes.Buffer
		if err := analytics.EncodeCSV(&buf, rows); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if engine, err := h.engines.Engine(); err == nil {
		resp["model_loaded"] = true
		resp["trained_rows"] = engine.TrainedRows()
	} else {
		resp["model_loaded"] = false
	}
	c.JSON(http.StatusOK, resp)
}
