// Package pipeline orchestrates one deployment end to end: clone, build,
// index, deploy, and the terminal live/failed write. Each run owns its
// database session and drives the deployment row strictly forward.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"unideploy/internal/apperrors"
	"unideploy/internal/builder"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/cost"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/logbroker"
	"unideploy/internal/logging"
	"unideploy/internal/metrics"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	git "github.com/go-git/go-git/v5"
	"gorm.io/gorm"
)

// Fixer proposes a fix for a failed deployment. Implemented by the
// autofix engine; failures here are always swallowed.
type Fixer interface {
	Suggest(ctx context.Context, deploymentID uint, errorLog string) (interface{}, error)
}

// Enqueuer starts deployment jobs in the background. Satisfied by
// Runner; tests substitute a recorder.
type Enqueuer interface {
	Enqueue(job Job)
}

// Job identifies one deployment run.
type Job struct {
	DeploymentID uint
	ProjectID    uint

	// RepoURL triggers the cloning stage; ProjectPath points at an
	// already-extracted workspace (zip uploads). Exactly one is set.
	RepoURL     string
	ProjectPath string
}

// Runner executes deployment jobs.
type Runner struct {
	cfg      *config.Config
	database *db.Database
	broker   *logbroker.Broker
	provider sandbox.Provider
	builds   *builder.Orchestrator
	vector   clients.VectorIndex
	gateway  clients.LogGateway
	costs    *cost.Ledger
	fixer    Fixer
}

// NewRunner wires a pipeline runner. fixer may be nil until the autofix
// engine is attached.
func NewRunner(cfg *config.Config, database *db.Database, broker *logbroker.Broker,
	provider sandbox.Provider, builds *builder.Orchestrator,
	vector clients.VectorIndex, gateway clients.LogGateway, costs *cost.Ledger) *Runner {
	return &Runner{
		cfg:      cfg,
		database: database,
		broker:   broker,
		provider: provider,
		builds:   builds,
		vector:   vector,
		gateway:  gateway,
		costs:    costs,
	}
}

// AttachFixer sets the autofix hook. Called once at wiring time.
func (r *Runner) AttachFixer(f Fixer) { r.fixer = f }

// Enqueue starts a job in the background. The HTTP layer never waits on
// pipeline completion, and a client disconnect does not cancel the run.
func (r *Runner) Enqueue(job Job) {
	go func() {
		if err := r.Run(context.Background(), job); err != nil {
			logging.S().Errorw("pipeline run failed",
				"deployment_id", job.DeploymentID, "error", err)
		}
	}()
}

// Run executes the pipeline for one deployment. The returned error is
// informational; the deployment row always reaches live or failed.
func (r *Runner) Run(ctx context.Context, job Job) error {
	// Each run gets its own session so background work never shares a
	// request-scoped handle.
	session := r.database.DB.Session(&gorm.Session{NewDB: true})

	var deploy models.Deployment
	if err := session.First(&deploy, job.DeploymentID).Error; err != nil {
		return fmt.Errorf("load deployment %d: %w", job.DeploymentID, err)
	}
	var project models.Project
	if err := session.First(&project, deploy.ProjectID).Error; err != nil {
		return fmt.Errorf("load project %d: %w", deploy.ProjectID, err)
	}

	workspace := job.ProjectPath
	gaugeHeld := false

	fail := func(stageErr error) error {
		msg := stageErr.Error()
		session.Model(&deploy).Updates(map[string]interface{}{
			"status":        models.DeployFailed,
			"error_message": msg,
		})
		if gaugeHeld {
			metrics.Get().SandboxesActive.Dec()
		}
		metrics.Get().TrackDeployment(models.DeployFailed, project.Tier)

		frame := logbroker.Frame{Status: models.DeployFailed, Error: msg}
		if r.fixer != nil {
			if fix, err := r.fixer.Suggest(ctx, deploy.ID, msg); err == nil {
				frame.AutoFix = fix
			} else {
				logging.S().Warnw("autofix suggestion failed",
					"deployment_id", deploy.ID, "error", err)
			}
		}
		r.broker.Broadcast(deploy.ID, frame)
		return stageErr
	}

	// Stage 1: clone.
	if job.RepoURL != "" {
		r.setStage(session, &deploy, models.DeployCloning, "Cloning repository...")
		workspace = filepath.Join(r.cfg.WorkDir, fmt.Sprintf("%d", deploy.ID))
		if err := os.MkdirAll(r.cfg.WorkDir, 0o755); err != nil {
			return fail(apperrors.Wrap(apperrors.KindInternal, "workspace create failed", err))
		}
		_, err := git.PlainCloneContext(ctx, workspace, false, &git.CloneOptions{
			URL:   job.RepoURL,
			Depth: 1,
		})
		if err != nil {
			return fail(apperrors.Wrap(apperrors.KindInternal, "git clone failed", err))
		}
	}
	if workspace == "" {
		return fail(apperrors.Validation("deployment has neither a repository URL nor an uploaded workspace"))
	}

	// Stage 2: build. Every line fans out to WS subscribers and is
	// pushed to the log gateway best-effort.
	r.setStage(session, &deploy, models.DeployBuilding, "Building project...")
	emit := func(line string) {
		r.broker.Broadcast(deploy.ID, logbroker.Frame{Status: models.DeployBuilding, Log: line})
		if r.gateway != nil {
			if err := r.gateway.Push(ctx, deploy.ID, line); err != nil {
				logging.S().Debugw("log gateway push dropped", "deployment_id", deploy.ID, "error", err)
			}
		}
	}
	build, err := r.builds.Build(ctx, workspace, emit)
	if err != nil {
		return fail(err)
	}
	session.Model(&deploy).Update("image_tag", build.ImageTag)

	// A first successful build promotes the project out of CREATED; a
	// later sandbox failure then leaves it BUILT rather than unborn.
	if project.Status == models.StatusCreated {
		if err := guard.ValidateTransition(project.Status, models.StatusBuilt); err != nil {
			return fail(err)
		}
		if err := session.Model(&models.Project{}).Where("id = ?", project.ID).
			Update("status", models.StatusBuilt).Error; err != nil {
			return fail(apperrors.Wrap(apperrors.KindInternal, "project status write failed", err))
		}
		project.Status = models.StatusBuilt
	}

	// Stage 3: index. Integration failures degrade AutoFix quality but
	// never abort the run.
	r.setStage(session, &deploy, models.DeployIndexing, "Indexing codebase...")
	if r.vector != nil {
		if err := r.vector.IndexProject(ctx, project.ID, workspace); err != nil {
			logging.S().Warnw("vector indexing failed, continuing",
				"project_id", project.ID, "error", err)
		}
	}

	// Stage 4: deploy.
	r.setStage(session, &deploy, models.DeployDeploying, "Provisioning sandbox...")
	port := project.Port
	if port == 0 {
		port = build.Detection.Port
	}
	createReq := sandbox.CreateRequest{
		RepoURL:      job.RepoURL,
		BuildCommand: build.Recipe.BuildCommand,
		StartCommand: build.Recipe.StartCommand,
		EnvVars:      project.EnvVars,
		Tier:         project.Tier,
		OnStdout:     emit,
		OnStderr:     emit,
	}
	start := time.Now()
	inst, err := r.provider.Create(ctx, createReq)
	metrics.Get().ObserveDeployDuration(project.Tier, time.Since(start))
	if err != nil {
		return fail(err)
	}
	metrics.Get().SandboxesActive.Inc()
	gaugeHeld = true

	// Stage 5: live.
	domain := fmt.Sprintf("%s.app.%s", Slug(project.Name), r.cfg.PublicSuffix)
	now := time.Now().UTC()
	err = session.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&deploy).Updates(map[string]interface{}{
			"status":     models.DeployLive,
			"sandbox_id": inst.ID,
			"domain":     domain,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Project{}).Where("id = ?", project.ID).Updates(map[string]interface{}{
			"status":         models.StatusRunning,
			"last_active_at": now,
		}).Error
	})
	if err != nil {
		return fail(apperrors.Wrap(apperrors.KindInternal, "terminal state write failed", err))
	}

	metrics.Get().TrackDeployment(models.DeployLive, project.Tier)
	r.broker.Broadcast(deploy.ID, logbroker.Frame{
		Status:  models.DeployLive,
		Message: "Deployment is live",
		Domain:  domain,
	})
	if r.costs != nil {
		r.costs.LogSandboxUsage(inst.ID, 60, project.Tier)
	}
	logging.S().Infow("deployment live",
		"deployment_id", deploy.ID, "project_id", project.ID,
		"sandbox_id", inst.ID, "domain", domain)
	return nil
}

func (r *Runner) setStage(session *gorm.DB, deploy *models.Deployment, status, message string) {
	if err := session.Model(deploy).Update("status", status).Error; err != nil {
		logging.S().Warnw("deployment status write failed",
			"deployment_id", deploy.ID, "status", status, "error", err)
	}
	r.broker.Broadcast(deploy.ID, logbroker.Frame{Status: status, Message: message})
}
