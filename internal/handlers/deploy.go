package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"unideploy/internal/analyzer"
	"unideploy/internal/apperrors"
	"unideploy/internal/pipeline"
	"unideploy/pkg/models"

	"github.com/gin-gonic/gin"
)

// DeployUpload handles POST /deploy/:project_id with a multipart zip.
func (h *Handler) DeployUpload(c *gin.Context) {
	user, projectID, err := h.ownedProject(c)
	if err != nil {
		respondError(c, err)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, apperrors.Validation("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	if ok, reason := h.sysGuard.ValidateUpload(header.Size); !ok {
		h.intents.Rejected(projectID, user.ID, "DEPLOY_UPLOAD", reason)
		respondError(c, apperrors.PayloadTooLarge(reason))
		return
	}
	if ok, reason := h.sysGuard.CanBuild(h.database.DB); !ok {
		h.intents.Rejected(projectID, user.ID, "DEPLOY_UPLOAD", reason)
		respondError(c, apperrors.PlatformBlocked(reason))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		respondError(c, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		_, reason := h.sysGuard.ValidateUpload(int64(len(data)))
		respondError(c, apperrors.PayloadTooLarge(reason))
		return
	}

	deploy := models.Deployment{ProjectID: projectID, Status: models.DeployQueued}
	if err := h.database.DB.Create(&deploy).Error; err != nil {
		respondError(c, err)
		return
	}

	workspace := filepath.Join(h.cfg.WorkDir, fmt.Sprintf("%d", deploy.ID))
	if err := analyzer.ExtractZip(data, workspace); err != nil {
		h.database.DB.Model(&deploy).Updates(map[string]interface{}{
			"status":        models.DeployFailed,
			"error_message": "archive extraction failed: " + err.Error(),
		})
		respondError(c, apperrors.Wrap(apperrors.KindValidation, "archive extraction failed", err))
		return
	}

	h.intents.Success(projectID, user.ID, "DEPLOY_UPLOAD")
	h.runner.Enqueue(pipeline.Job{
		DeploymentID: deploy.ID,
		ProjectID:    projectID,
		ProjectPath:  workspace,
	})
	c.JSON(http.StatusOK, gin.H{"deployment_id": deploy.ID, "status": models.DeployQueued})
}

// DeployGit handles POST /deploy/:project_id/git.
func (h *Handler) DeployGit(c *gin.Context) {
	user, projectID, err := h.ownedProject(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		RepoURL string `json:"repo_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("repo_url is required"))
		return
	}

	if ok, reason := h.sysGuard.CanBuild(h.database.DB); !ok {
		h.intents.Rejected(projectID, user.ID, "DEPLOY_GIT", reason)
		respondError(c, apperrors.PlatformBlocked(reason))
		return
	}

	// Remember the repository so start and recovery can redeploy.
	h.database.DB.Model(&models.Project{}).Where("id = ?", projectID).
		Update("git_url", req.RepoURL)

	deploy := models.Deployment{ProjectID: projectID, Status: models.DeployQueued}
	if err := h.database.DB.Create(&deploy).Error; err != nil {
		respondError(c, err)
		return
	}

	h.intents.Success(projectID, user.ID, "DEPLOY_GIT")
	h.runner.Enqueue(pipeline.Job{
		DeploymentID: deploy.ID,
		ProjectID:    projectID,
		RepoURL:      req.RepoURL,
	})
	c.JSON(http.StatusOK, gin.H{"deployment_id": deploy.ID, "status": models.DeployQueued})
}

// GetDeployment handles GET /deployments/:id.
func (h *Handler) GetDeployment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.Validation("invalid deployment id"))
		return
	}
	var deploy models.Deployment
	if err := h.database.DB.First(&deploy, uint(id)).Error; err != nil {
		respondError(c, apperrors.NotFound("deployment not found"))
		return
	}
	c.JSON(http.StatusOK, deploy)
}

// ApplyFix handles POST /deployments/:id/apply-fix. The redeploy it
// enqueues is fire-and-forget.
func (h *Handler) ApplyFix(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.Validation("invalid deployment id"))
		return
	}

	patched, err := h.autofix.ApplyFix(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "patched_file": patched})
}
