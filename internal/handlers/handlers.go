// Package handlers implements the REST surface of the control plane.
package handlers

import (
	"net/http"

	"unideploy/internal/analyzer"
	"unideploy/internal/apperrors"
	"unideploy/internal/autofix"
	"unideploy/internal/cache"
	"unideploy/internal/config"
	"unideploy/internal/cost"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/intent"
	"unideploy/internal/lifecycle"
	"unideploy/internal/pipeline"
	"unideploy/pkg/models"

	"github.com/gin-gonic/gin"
)

// Version reported by the identity and health endpoints.
const Version = "1.0.0"

// Handler carries every dependency the REST surface needs.
type Handler struct {
	cfg       *config.Config
	database  *db.Database
	sysGuard  *guard.SystemGuard
	lifecycle *lifecycle.Service
	analyzer  *analyzer.Service
	autofix   *autofix.Engine
	runner    pipeline.Enqueuer
	costs     *cost.Ledger
	cache     *cache.Cache
	intents   *intent.Logger
}

// New wires the handler set.
func New(cfg *config.Config, database *db.Database, sysGuard *guard.SystemGuard,
	lc *lifecycle.Service, an *analyzer.Service, fix *autofix.Engine,
	runner pipeline.Enqueuer, costs *cost.Ledger, c *cache.Cache, intents *intent.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		database:  database,
		sysGuard:  sysGuard,
		lifecycle: lc,
		analyzer:  an,
		autofix:   fix,
		runner:    runner,
		costs:     costs,
		cache:     c,
		intents:   intents,
	}
}

// respondError maps an error to its HTTP status with a terse body.
func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
}

// Root is the service identity endpoint.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "unideploy-control-plane",
		"version": Version,
		"status":  "ok",
	})
}

// Health reports liveness plus coarse platform stats.
func (h *Handler) Health(c *gin.Context) {
	var projectCount, deploymentCount, runningCount int64
	h.database.DB.Model(&models.Project{}).Count(&projectCount)
	h.database.DB.Model(&models.Deployment{}).Count(&deploymentCount)
	h.database.DB.Model(&models.Project{}).
		Where("status = ?", models.StatusRunning).Count(&runningCount)

	status := "healthy"
	if err := h.database.Health(); err != nil {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"stats": gin.H{
			"projects":    projectCount,
			"deployments": deploymentCount,
			"running":     runningCount,
			"database":    h.database.Stats(),
			"version":     Version,
		},
	})
}

// SystemConfig exposes the platform limits clients need to render UI.
func (h *Handler) SystemConfig(c *gin.Context) {
	readOnly := h.cfg.IsReadOnly()
	c.JSON(http.StatusOK, gin.H{
		"read_only":       readOnly,
		"maintenance":     readOnly,
		"daily_limit_mins": h.cfg.DailyRuntimeLimitMins,
	})
}

// SystemCost returns the cost ledger summary.
func (h *Handler) SystemCost(c *gin.Context) {
	summary, err := h.costs.GetSummary()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
