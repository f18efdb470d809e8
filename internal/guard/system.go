package guard

import (
	"fmt"

	"unideploy/internal/config"
	"unideploy/pkg/models"

	"gorm.io/gorm"
)

// SystemGuard centrally enforces platform safety invariants before any
// state-mutating action is admitted.
type SystemGuard struct {
	cfg *config.Config
}

// NewSystemGuard wires the guard to its configuration.
func NewSystemGuard(cfg *config.Config) *SystemGuard {
	return &SystemGuard{cfg: cfg}
}

// IsReadOnly reports whether the platform is in maintenance mode.
func (g *SystemGuard) IsReadOnly() bool {
	return g.cfg.IsReadOnly()
}

// ValidateUpload rejects archives above the configured ceiling. A size of
// exactly the limit is accepted.
func (g *SystemGuard) ValidateUpload(size int64) (bool, string) {
	if size > g.cfg.MaxUploadBytes {
		return false, fmt.Sprintf("Project zip file is too large. Max %dMB allowed.", g.cfg.MaxUploadBytes/(1024*1024))
	}
	return true, "OK"
}

// CanBuild admits a new build when the platform is writable and the
// concurrent build ceiling has headroom.
func (g *SystemGuard) CanBuild(store *gorm.DB) (bool, string) {
	if g.IsReadOnly() {
		return false, "Platform is in READ-ONLY mode for maintenance."
	}

	var building int64
	store.Model(&models.Deployment{}).
		Where("status = ?", models.DeployBuilding).
		Count(&building)
	if building >= int64(g.cfg.MaxConcurrentBuilds) {
		return false, "Platform build capacity reached. Please try again in a few minutes."
	}
	return true, "OK"
}

// CanStart admits a project scale-up. Checks, in order: read-only mode,
// the project's daily runtime quota, the global running ceiling, and the
// SEED-tier single-running rule for the owner.
func (g *SystemGuard) CanStart(project *models.Project, store *gorm.DB) (bool, string) {
	if g.IsReadOnly() {
		return false, "Platform is in READ-ONLY mode for maintenance."
	}

	if project.DailyRuntimeMinutes >= g.cfg.DailyRuntimeLimitMins {
		return false, fmt.Sprintf("Daily runtime limit reached (%dm). Resets tomorrow.", g.cfg.DailyRuntimeLimitMins)
	}

	var running int64
	store.Model(&models.Project{}).
		Where("status = ?", models.StatusRunning).
		Count(&running)
	if running >= int64(g.cfg.PlatformMaxRunning) {
		return false, "Platform capacity reached. Please try again later."
	}

	// The single-running rule applies to SEED-tier projects only;
	// LAUNCH and SCALE count against the global ceiling alone.
	if project.Tier == "" || project.Tier == models.TierSeed {
		var ownerRunning int64
		store.Model(&models.Project{}).
			Where("owner_id = ? AND status = ? AND id != ?", project.OwnerID, models.StatusRunning, project.ID).
			Count(&ownerRunning)
		if ownerRunning >= 1 {
			return false, "Free tier limit: Only 1 project can run at a time."
		}
	}

	return true, "OK"
}

// CheckInvariants verifies the hard safety invariants for a project.
// Violations indicate a control-plane bug, not a user error.
func (g *SystemGuard) CheckInvariants(project *models.Project, store *gorm.DB) error {
	const tolerance = 5
	if project.DailyRuntimeMinutes > g.cfg.DailyRuntimeLimitMins+tolerance {
		return fmt.Errorf("project %q exceeded daily runtime limit significantly (%dm)",
			project.Name, project.DailyRuntimeMinutes)
	}

	if project.Tier == "" || project.Tier == models.TierSeed {
		var ownerRunning int64
		store.Model(&models.Project{}).
			Where("owner_id = ? AND status = ?", project.OwnerID, models.StatusRunning).
			Count(&ownerRunning)
		if ownerRunning > 1 {
			return fmt.Errorf("owner %d has multiple running projects on free tier", project.OwnerID)
		}
	}
	return nil
}
