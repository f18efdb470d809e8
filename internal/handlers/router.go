package handlers

import (
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/db"
	"unideploy/internal/metrics"
	"unideploy/internal/middleware"
	"unideploy/internal/ws"

	"github.com/gin-gonic/gin"
)

// NewRouter assembles the gin engine with the full middleware chain and
// every route.
func NewRouter(cfg *config.Config, database *db.Database, h *Handler,
	wsHandler *ws.Handler, verifier clients.TokenVerifier) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(metrics.PrometheusMiddleware())

	// Public surface.
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.PrometheusHandler())
	r.GET("/system/config", h.SystemConfig)
	r.GET("/system/cost", h.SystemCost)
	r.GET("/ws/deploy/:id", wsHandler.Serve)

	// Authenticated surface. Deploy endpoints carry a stricter per-IP
	// budget since each request can fan out real infrastructure work.
	authed := r.Group("/")
	authed.Use(middleware.Authenticate(database, verifier))
	{
		authed.POST("/projects", h.CreateProject)
		authed.GET("/projects", h.ListProjects)
		authed.POST("/projects/:id/start", h.StartProject)
		authed.POST("/projects/:id/stop", h.StopProject)

		authed.POST("/analyze", h.Analyze)
		authed.POST("/analyze/zip", h.AnalyzeZip)

		deployLimiter := middleware.NewIPRateLimiter(30, 10)
		deploy := authed.Group("/deploy")
		deploy.Use(deployLimiter.Middleware())
		{
			deploy.POST("/:project_id", h.DeployUpload)
			deploy.POST("/:project_id/git", h.DeployGit)
		}

		authed.GET("/deployments/:id", h.GetDeployment)
		authed.POST("/deployments/:id/apply-fix", h.ApplyFix)
	}

	return r
}
