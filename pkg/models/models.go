package models

import (
	"time"
)

// Project status values. Transitions between them are governed by
// guard.StateMachine; the reconciler may additionally write drift
// corrections that bypass the transition table.
const (
	StatusCreated  = "CREATED"
	StatusBuilt    = "BUILT"
	StatusWaking   = "WAKING"
	StatusRunning  = "RUNNING"
	StatusSleeping = "SLEEPING"
)

// Deployment status values. A deployment moves strictly forward through
// these and terminates at live or failed. Rows are never deleted.
const (
	DeployQueued    = "queued"
	DeployCloning   = "cloning"
	DeployBuilding  = "building"
	DeployIndexing  = "indexing"
	DeployDeploying = "deploying"
	DeployLive      = "live"
	DeployFailed    = "failed"
)

// Resource tiers, ordered SEED < LAUNCH < SCALE.
const (
	TierSeed   = "SEED"
	TierLaunch = "LAUNCH"
	TierScale  = "SCALE"
)

// User is created on first verified identity token and keyed by the
// verifier's opaque external id.
type User struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ExternalID string    `json:"external_id" gorm:"uniqueIndex;not null"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`

	Projects []Project `json:"-" gorm:"foreignKey:OwnerID"`
}

// Project is a durable tenant workload.
type Project struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string            `json:"name" gorm:"not null;index:idx_projects_owner_name,unique,composite:owner_name"`
	OwnerID     uint              `json:"owner_id" gorm:"not null;index:idx_projects_owner_name,unique,composite:owner_name"`
	Owner       User              `json:"-" gorm:"foreignKey:OwnerID"`
	GitURL      string            `json:"git_url"`
	ProjectType string            `json:"project_type"`
	Port        int               `json:"port"`
	Tier        string            `json:"tier" gorm:"default:'SEED'"`
	EnvVars     map[string]string `json:"env_vars" gorm:"serializer:json"`

	Status   string `json:"status" gorm:"default:'CREATED';index"`
	IsLocked bool   `json:"is_locked" gorm:"default:false"`

	LastActiveAt        time.Time `json:"last_active_at"`
	DailyRuntimeMinutes int       `json:"daily_runtime_minutes" gorm:"default:0"`
	TotalRuntimeMinutes int       `json:"total_runtime_minutes" gorm:"default:0"`
	LastResetAt         time.Time `json:"last_reset_at"`

	Deployments []Deployment `json:"-" gorm:"foreignKey:ProjectID"`

	// Computed at read time, never stored.
	LatestDeploymentID uint `json:"latest_deployment_id,omitempty" gorm:"-"`
}

// Deployment is one build+run attempt for a project.
type Deployment struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID uint    `json:"project_id" gorm:"not null;index"`
	Project   Project `json:"-" gorm:"foreignKey:ProjectID"`

	Status       string `json:"status" gorm:"default:'queued';index"`
	ImageTag     string `json:"image_tag"`
	Domain       string `json:"domain"`
	SandboxID    string `json:"sandbox_id"`
	ErrorMessage string `json:"error_message"`
}

// IntentLog is the append-only record of decisions made by the control
// plane. Rows are written alongside the structured log line.
type IntentLog struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	ProjectID uint   `json:"project_id" gorm:"index"`
	UserID    uint   `json:"user_id"`
	Intent    string `json:"intent" gorm:"not null"`
	Result    string `json:"result" gorm:"not null"` // SUCCESS, REJECTED, FAILED
	Reason    string `json:"reason"`
	Meta      string `json:"meta" gorm:"type:text"`
}

// Intent results.
const (
	IntentSuccess  = "SUCCESS"
	IntentRejected = "REJECTED"
	IntentFailed   = "FAILED"
)

// TierRank orders tiers for resource comparisons. Unknown tiers rank as SEED.
func TierRank(tier string) int {
	switch tier {
	case TierScale:
		return 2
	case TierLaunch:
		return 1
	default:
		return 0
	}
}

// IsTerminal reports whether a deployment status is final.
func IsTerminal(status string) bool {
	return status == DeployLive || status == DeployFailed
}
