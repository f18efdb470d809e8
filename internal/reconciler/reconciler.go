// Package reconciler runs the maintenance loop: it reconciles recorded
// project status against the sandbox fleet, accounts runtime, enforces
// quotas, auto-sleeps idle projects, resets daily counters, and probes
// live deployments for health.
package reconciler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"unideploy/internal/config"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/intent"
	"unideploy/internal/logging"
	"unideploy/internal/metrics"
	"unideploy/internal/pipeline"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Loop is the maintenance reconciler.
type Loop struct {
	cfg       *config.Config
	database  *db.Database
	provider  sandbox.Provider
	runner    pipeline.Enqueuer
	guard     *guard.SystemGuard
	intents   *intent.Logger
	scheduler gocron.Scheduler
	probe     *http.Client
}

// New wires the reconciler.
func New(cfg *config.Config, database *db.Database, provider sandbox.Provider,
	runner pipeline.Enqueuer, g *guard.SystemGuard, intents *intent.Logger) (*Loop, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Loop{
		cfg:       cfg,
		database:  database,
		provider:  provider,
		runner:    runner,
		guard:     g,
		intents:   intents,
		scheduler: s,
		probe:     &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Start registers the tick and health-probe jobs and begins scheduling.
func (l *Loop) Start() error {
	if _, err := l.scheduler.NewJob(
		gocron.DurationJob(l.cfg.ReconcileInterval),
		gocron.NewTask(func() { l.Tick(context.Background()) }),
		gocron.WithName("reconcile-tick"),
	); err != nil {
		return fmt.Errorf("failed to schedule reconcile tick: %w", err)
	}
	if _, err := l.scheduler.NewJob(
		gocron.DurationJob(l.cfg.HealthProbeInterval),
		gocron.NewTask(func() { l.ProbeLive(context.Background()) }),
		gocron.WithName("health-probe"),
	); err != nil {
		return fmt.Errorf("failed to schedule health probe: %w", err)
	}
	l.scheduler.Start()
	logging.S().Infow("reconciler started",
		"tick_interval", l.cfg.ReconcileInterval,
		"probe_interval", l.cfg.HealthProbeInterval)
	return nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs.
func (l *Loop) Stop() error {
	return l.scheduler.Shutdown()
}

// Tick runs one reconciliation pass. One project's failure never halts
// the pass.
func (l *Loop) Tick(ctx context.Context) {
	defer metrics.Get().ReconcileTicks.Inc()

	session := l.database.DB.Session(&gorm.Session{NewDB: true})
	now := time.Now().UTC()

	l.resetDailyCounters(session, now)

	active, err := l.provider.ListActive(ctx)
	if err != nil {
		// Without a fleet snapshot drift correction would be guesswork.
		logging.S().Warnw("reconcile tick skipped: fleet snapshot failed", "error", err)
		return
	}

	var projects []models.Project
	if err := session.Where("is_locked = ? AND status != ?", false, models.StatusWaking).
		Find(&projects).Error; err != nil {
		logging.S().Errorw("reconcile tick: project scan failed", "error", err)
		return
	}

	for i := range projects {
		p := &projects[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.S().Errorw("reconcile panic isolated", "project_id", p.ID, "panic", r)
				}
			}()
			l.reconcileProject(ctx, session, p, active, now)
		}()
	}
}

func (l *Loop) reconcileProject(ctx context.Context, session *gorm.DB, p *models.Project, active map[string]bool, now time.Time) {
	sandboxID := ""
	if latest, err := db.LatestDeployment(session, p.ID, models.DeployLive); err == nil {
		sandboxID = latest.SandboxID
	}
	sandboxActive := sandboxID != "" && active[sandboxID]

	// Drift: recorded status vs fleet reality. Reconciliation is
	// authoritative and bypasses the transition table.
	effective := p.Status
	if sandboxActive {
		effective = models.StatusRunning
	} else if p.Status == models.StatusRunning || p.Status == models.StatusSleeping || p.Status == models.StatusWaking {
		effective = models.StatusSleeping
	}
	if effective != p.Status {
		if err := session.Model(p).Update("status", effective).Error; err != nil {
			logging.S().Errorw("drift correction failed", "project_id", p.ID, "error", err)
			return
		}
		metrics.Get().DriftCorrections.Inc()
		if p.Status == models.StatusRunning && effective == models.StatusSleeping {
			metrics.Get().SandboxesActive.Dec()
		}
		l.intents.Log(p.ID, 0, "RECONCILE_DRIFT", models.IntentSuccess,
			fmt.Sprintf("%s -> %s", p.Status, effective), nil)
		p.Status = effective
	}

	// Runtime accounting.
	if p.Status == models.StatusRunning && sandboxActive {
		p.DailyRuntimeMinutes += l.cfg.TickMinutes
		p.TotalRuntimeMinutes += l.cfg.TickMinutes
		if err := session.Model(p).Updates(map[string]interface{}{
			"daily_runtime_minutes": p.DailyRuntimeMinutes,
			"total_runtime_minutes": p.TotalRuntimeMinutes,
		}).Error; err != nil {
			logging.S().Errorw("runtime accounting failed", "project_id", p.ID, "error", err)
		}
	}

	// Quota enforcement.
	if p.Status == models.StatusRunning && p.DailyRuntimeMinutes >= l.cfg.DailyRuntimeLimitMins {
		l.sleep(ctx, session, p, sandboxID, "quota",
			fmt.Sprintf("daily runtime limit reached (%dm)", l.cfg.DailyRuntimeLimitMins))
		return
	}

	// Idle auto-sleep.
	if p.Status == models.StatusRunning && !p.LastActiveAt.IsZero() &&
		now.Sub(p.LastActiveAt) > l.cfg.IdleTimeout {
		l.sleep(ctx, session, p, sandboxID, "idle",
			fmt.Sprintf("idle for more than %s", l.cfg.IdleTimeout))
	}

	// Hard invariants. A violation means a control-plane bug slipped a
	// write past the guard; it is recorded loudly but not auto-repaired.
	if err := l.guard.CheckInvariants(p, session); err != nil {
		logging.S().Errorw("invariant violation", "project_id", p.ID, "error", err)
		l.intents.Log(p.ID, 0, "INVARIANT_VIOLATION", models.IntentFailed, err.Error(), nil)
	}
}

func (l *Loop) sleep(ctx context.Context, session *gorm.DB, p *models.Project, sandboxID, reason, detail string) {
	if sandboxID != "" {
		if err := l.provider.Kill(ctx, sandboxID); err != nil {
			logging.S().Errorw("auto-sleep kill failed", "project_id", p.ID, "sandbox_id", sandboxID, "error", err)
			return
		}
	}
	if err := session.Model(p).Update("status", models.StatusSleeping).Error; err != nil {
		logging.S().Errorw("auto-sleep status write failed", "project_id", p.ID, "error", err)
		return
	}
	metrics.Get().SandboxesActive.Dec()
	metrics.Get().AutoSleepsTotal.WithLabelValues(reason).Inc()
	l.intents.Log(p.ID, 0, "AUTO_SLEEP", models.IntentSuccess, detail, nil)
	p.Status = models.StatusSleeping
}

func (l *Loop) resetDailyCounters(session *gorm.DB, now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	res := session.Model(&models.Project{}).
		Where("last_reset_at < ?", cutoff).
		Updates(map[string]interface{}{
			"daily_runtime_minutes": 0,
			"last_reset_at":         now,
		})
	if res.Error != nil {
		logging.S().Errorw("daily counter reset failed", "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		logging.S().Infow("daily runtime counters reset", "projects", res.RowsAffected)
	}
}

// ProbeLive HTTP-probes every live deployment's domain. A single failed
// probe triggers recovery: a fresh pipeline run for the project.
func (l *Loop) ProbeLive(ctx context.Context) {
	session := l.database.DB.Session(&gorm.Session{NewDB: true})

	var projects []models.Project
	if err := session.Where("status = ? AND is_locked = ?", models.StatusRunning, false).
		Find(&projects).Error; err != nil {
		logging.S().Errorw("health probe: project scan failed", "error", err)
		return
	}

	for i := range projects {
		p := &projects[i]
		latest, err := db.LatestDeployment(session, p.ID, models.DeployLive)
		if err != nil || latest.Domain == "" {
			continue
		}
		if l.probeOK("https://" + latest.Domain) {
			continue
		}
		metrics.Get().HealthProbeFailure.Inc()
		logging.S().Warnw("health probe failed, triggering recovery",
			"project_id", p.ID, "domain", latest.Domain)
		l.recover(session, p)
	}
}

func (l *Loop) probeOK(url string) bool {
	resp, err := l.probe.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// recover re-enters the pipeline with a fresh deployment for the project.
func (l *Loop) recover(session *gorm.DB, p *models.Project) {
	if p.GitURL == "" {
		logging.S().Warnw("cannot recover project without repository url", "project_id", p.ID)
		return
	}
	deploy := models.Deployment{ProjectID: p.ID, Status: models.DeployQueued}
	if err := session.Create(&deploy).Error; err != nil {
		logging.S().Errorw("recovery deployment create failed", "project_id", p.ID, "error", err)
		return
	}
	l.intents.Log(p.ID, 0, "HEALTH_RECOVERY", models.IntentSuccess,
		"health probe failed, redeploying", nil)
	l.runner.Enqueue(pipeline.Job{DeploymentID: deploy.ID, ProjectID: p.ID, RepoURL: p.GitURL})
}
