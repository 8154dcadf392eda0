package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ratepro/internal/metrics"
	"ratepro/internal/services"
)

// HealthHandler reports the state of the stores the pipeline depends on.
// Redis and the insight breaker are optional.
type HealthHandler struct {
	db      *gorm.DB
	redis   *redis.Client
	breaker *services.CircuitBreaker
	version string
	logger  *logrus.Logger
	started time.Time
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client, breaker *services.CircuitBreaker, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{
		db:      db,
		redis:   rdb,
		breaker: breaker,
		version: version,
		logger:  logger,
		started: time.Now(),
	}
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

// Health checks every dependency. The database is required; a failing
// Redis or an open insight breaker only degrade the status.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(h.started).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	db := h.checkDatabase(ctx)
	resp.Services["database"] = db
	if db.Status != "healthy" {
		resp.Status = "unhealthy"
	}

	if h.redis != nil {
		info := h.checkRedis(ctx)
		resp.Services["redis"] = info
		if info.Status != "healthy" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	if h.breaker != nil {
		stats := h.breaker.Stats()
		info := ServiceInfo{Status: "healthy", Details: stats}
		if h.breaker.State() == services.StateOpen {
			info.Status = "degraded"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
		resp.Services["insight"] = info
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Ready reports whether the API can serve requests.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	db := h.checkDatabase(ctx)
	ready := db.Status == "healthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
		"services":  gin.H{"database": db.Status},
	})
}

// Metrics writes the in-process counters in Prometheus text format.
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	if err := metrics.WriteText(c.Writer); err != nil {
		h.logger.WithError(err).Warn("failed to write metrics")
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	info := ServiceInfo{Details: gin.H{"dialect": h.db.Dialector.Name()}}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info.Latency = time.Since(start).String()
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	info.Status = "healthy"
	return info
}

func (h *HealthHandler) checkRedis(ctx context.Context) ServiceInfo {
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	info := ServiceInfo{Latency: time.Since(start).String()}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	info.Status = "healthy"
	return info
}

// RegisterHealthRoutes mounts the probes on the engine root.
func RegisterHealthRoutes(r gin.IRoutes, handler *HealthHandler, metricsPath string) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	if metricsPath != "" {
		r.GET(metricsPath, handler.Metrics)
	}
}
