package handlers

import (
	"net/http"
	"strconv"

	"unideploy/internal/apperrors"
	"unideploy/internal/cache"
	"unideploy/internal/lifecycle"
	"unideploy/internal/middleware"
	"unideploy/pkg/models"

	"github.com/gin-gonic/gin"
)

// CreateProject handles POST /projects.
func (h *Handler) CreateProject(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("not authenticated"))
		return
	}

	var req lifecycle.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body: "+err.Error()))
		return
	}

	project, err := h.lifecycle.CreateProject(c.Request.Context(), user.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.Invalidate(c.Request.Context(), cache.ProjectListKey(user.ID))
	c.JSON(http.StatusOK, project)
}

// ListProjects handles GET /projects, synthesizing latest_deployment_id
// at read time. The listing is cached briefly per owner.
func (h *Handler) ListProjects(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("not authenticated"))
		return
	}

	key := cache.ProjectListKey(user.ID)
	var cached []models.Project
	if err := h.cache.GetJSON(c.Request.Context(), key, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	var projects []models.Project
	if err := h.database.DB.Where("owner_id = ?", user.ID).
		Order("created_at DESC").Find(&projects).Error; err != nil {
		respondError(c, err)
		return
	}
	for i := range projects {
		var latest models.Deployment
		err := h.database.DB.Where("project_id = ?", projects[i].ID).
			Order("created_at DESC").First(&latest).Error
		if err == nil {
			projects[i].LatestDeploymentID = latest.ID
		}
	}

	h.cache.SetJSON(c.Request.Context(), key, projects, cache.ProjectListTTL)
	c.JSON(http.StatusOK, projects)
}

// StartProject handles POST /projects/:id/start.
func (h *Handler) StartProject(c *gin.Context) {
	user, projectID, err := h.ownedProject(c)
	if err != nil {
		respondError(c, err)
		return
	}

	status, err := h.lifecycle.Start(c.Request.Context(), projectID, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.Invalidate(c.Request.Context(), cache.ProjectListKey(user.ID))
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// StopProject handles POST /projects/:id/stop.
func (h *Handler) StopProject(c *gin.Context) {
	user, projectID, err := h.ownedProject(c)
	if err != nil {
		respondError(c, err)
		return
	}

	status, err := h.lifecycle.Stop(c.Request.Context(), projectID, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.Invalidate(c.Request.Context(), cache.ProjectListKey(user.ID))
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// ownedProject parses the :id param and verifies the caller owns it.
func (h *Handler) ownedProject(c *gin.Context) (*models.User, uint, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, 0, apperrors.Unauthorized("not authenticated")
	}
	param := c.Param("id")
	if param == "" {
		param = c.Param("project_id")
	}
	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		return nil, 0, apperrors.Validation("invalid project id")
	}

	var project models.Project
	if err := h.database.DB.First(&project, uint(id)).Error; err != nil {
		return nil, 0, apperrors.NotFound("project not found")
	}
	if project.OwnerID != user.ID {
		// Existence of other tenants' projects is not disclosed.
		return nil, 0, apperrors.NotFound("project not found")
	}
	return user, uint(id), nil
}
