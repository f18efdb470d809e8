// Package lifecycle implements the guarded project state-mutating
// operations: create, start, stop. Every mutation runs the same
// template: lock the row, check the lock flag, consult the guard,
// validate the transition, write the intermediate state, perform the
// external effect, then commit the terminal state or roll back.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"unideploy/internal/apperrors"
	"unideploy/internal/config"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/intent"
	"unideploy/internal/logging"
	"unideploy/internal/metrics"
	"unideploy/internal/pipeline"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	"gorm.io/gorm"
)

// Service exposes the project lifecycle operations.
type Service struct {
	cfg      *config.Config
	database *db.Database
	guard    *guard.SystemGuard
	provider sandbox.Provider
	runner   pipeline.Enqueuer
	intents  *intent.Logger
}

// NewService wires the lifecycle service.
func NewService(cfg *config.Config, database *db.Database, g *guard.SystemGuard,
	provider sandbox.Provider, runner pipeline.Enqueuer, intents *intent.Logger) *Service {
	return &Service{
		cfg:      cfg,
		database: database,
		guard:    g,
		provider: provider,
		runner:   runner,
		intents:  intents,
	}
}

// CreateRequest is the payload for a new project.
type CreateRequest struct {
	Name        string            `json:"name" binding:"required"`
	ProjectType string            `json:"project_type"`
	Port        int               `json:"port"`
	GitURL      string            `json:"git_url"`
	Tier        string            `json:"tier"`
	EnvVars     map[string]string `json:"env_vars"`
}

// CreateProject registers a new project for the owner.
func (s *Service) CreateProject(_ context.Context, ownerID uint, req CreateRequest) (*models.Project, error) {
	if s.guard.IsReadOnly() {
		return nil, apperrors.PlatformBlocked("Platform is in READ-ONLY mode for maintenance.")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("project name is required")
	}
	tier := req.Tier
	if tier == "" {
		tier = models.TierSeed
	}
	switch tier {
	case models.TierSeed, models.TierLaunch, models.TierScale:
	default:
		return nil, apperrors.Validation("unknown tier: " + tier)
	}

	project := models.Project{
		Name:        name,
		OwnerID:     ownerID,
		GitURL:      req.GitURL,
		ProjectType: req.ProjectType,
		Port:        req.Port,
		Tier:        tier,
		EnvVars:     req.EnvVars,
		Status:      models.StatusCreated,
		LastResetAt: time.Now().UTC(),
	}
	if err := s.database.DB.Create(&project).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return nil, apperrors.Validation("a project with this name already exists")
		}
		return nil, err
	}
	s.intents.Success(project.ID, ownerID, "CREATE_PROJECT")
	return &project, nil
}

// Start wakes a project by enqueueing a fresh pipeline run against the
// most recent deployment's repository. Idempotent on RUNNING.
func (s *Service) Start(ctx context.Context, projectID, userID uint) (string, error) {
	var project *models.Project
	var job pipeline.Job

	err := s.database.Transaction(func(tx *gorm.DB) error {
		p, err := db.LockProject(tx, projectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("project not found")
			}
			return err
		}
		project = p

		if p.IsLocked {
			return apperrors.Conflict("another operation is in progress for this project")
		}
		if p.Status == models.StatusRunning {
			// Repeated start is a no-op.
			return nil
		}

		if ok, reason := s.guard.CanStart(p, tx); !ok {
			s.intents.Rejected(p.ID, userID, "START_PROJECT", reason)
			return guardError(reason)
		}
		if err := guard.ValidateTransition(p.Status, models.StatusWaking); err != nil {
			s.intents.Rejected(p.ID, userID, "START_PROJECT", err.Error())
			return err
		}

		// Starting re-runs the latest deployment's source.
		latest, err := db.LatestDeployment(tx, p.ID, "")
		if err != nil || (latest == nil) {
			s.intents.Failed(p.ID, userID, "START_PROJECT", "no previous deployment to restart from")
			return apperrors.Validation("project has never been deployed; deploy it first")
		}
		repoURL := p.GitURL
		if repoURL == "" {
			s.intents.Failed(p.ID, userID, "START_PROJECT", "project has no repository url")
			return apperrors.Validation("project has no repository to redeploy from")
		}

		deploy := models.Deployment{ProjectID: p.ID, Status: models.DeployQueued}
		if err := tx.Create(&deploy).Error; err != nil {
			return err
		}
		job = pipeline.Job{DeploymentID: deploy.ID, ProjectID: p.ID, RepoURL: repoURL}

		return tx.Model(p).Updates(map[string]interface{}{
			"status":         models.StatusWaking,
			"is_locked":      true,
			"last_active_at": time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return "", err
	}
	if project.Status == models.StatusRunning {
		return models.StatusRunning, nil
	}

	// The pipeline owns the WAKING→RUNNING transition from here; the
	// lock is released immediately so the reconciler and stop can act
	// if the run dies.
	if uerr := s.database.DB.Model(&models.Project{}).Where("id = ?", projectID).
		Update("is_locked", false).Error; uerr != nil {
		logging.S().Errorw("failed to release project lock", "project_id", projectID, "error", uerr)
	}
	s.runner.Enqueue(job)
	s.intents.Success(projectID, userID, "START_PROJECT")
	return models.StatusWaking, nil
}

// Stop puts a project to sleep, killing any live sandbox. Idempotent on
// SLEEPING.
func (s *Service) Stop(ctx context.Context, projectID, userID uint) (string, error) {
	var sandboxID string
	var priorStatus string
	idempotent := false

	err := s.database.Transaction(func(tx *gorm.DB) error {
		p, err := db.LockProject(tx, projectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("project not found")
			}
			return err
		}
		if p.IsLocked {
			return apperrors.Conflict("another operation is in progress for this project")
		}
		if p.Status == models.StatusSleeping {
			idempotent = true
			return nil
		}
		if err := guard.ValidateTransition(p.Status, models.StatusSleeping); err != nil {
			s.intents.Rejected(p.ID, userID, "STOP_PROJECT", err.Error())
			return err
		}
		priorStatus = p.Status

		if latest, err := db.LatestDeployment(tx, p.ID, models.DeployLive); err == nil {
			sandboxID = latest.SandboxID
		}
		return tx.Model(p).Update("is_locked", true).Error
	})
	if err != nil {
		return "", err
	}
	if idempotent {
		return models.StatusSleeping, nil
	}

	if sandboxID != "" {
		if err := s.provider.Kill(ctx, sandboxID); err != nil {
			// Restore the pre-call state before surfacing the error.
			s.database.DB.Model(&models.Project{}).Where("id = ?", projectID).
				Updates(map[string]interface{}{"status": priorStatus, "is_locked": false})
			s.intents.Failed(projectID, userID, "STOP_PROJECT", err.Error())
			return "", err
		}
		metrics.Get().SandboxesActive.Dec()
	}

	err = s.database.DB.Model(&models.Project{}).Where("id = ?", projectID).
		Updates(map[string]interface{}{
			"status":         models.StatusSleeping,
			"is_locked":      false,
			"last_active_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return "", err
	}
	s.intents.Success(projectID, userID, "STOP_PROJECT")
	return models.StatusSleeping, nil
}

// guardError classifies a guard rejection reason into an error kind.
// Platform-wide conditions surface as 503; per-project conditions as 400.
func guardError(reason string) error {
	if strings.Contains(reason, "READ-ONLY") || strings.Contains(reason, "capacity") {
		return apperrors.PlatformBlocked(reason)
	}
	return apperrors.Validation(reason)
}
