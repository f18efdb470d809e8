package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"unideploy/internal/config"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/intent"
	"unideploy/internal/pipeline"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	jobs []pipeline.Job
}

func (f *fakeEnqueuer) Enqueue(job pipeline.Job) {
	f.jobs = append(f.jobs, job)
}

type loopFixture struct {
	loop     *Loop
	database *db.Database
	provider *sandbox.MockProvider
	enqueuer *fakeEnqueuer
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()

	database, err := db.New(&db.Config{SQLitePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		DailyRuntimeLimitMins: 60,
		IdleTimeout:           15 * time.Minute,
		ReconcileInterval:     120 * time.Second,
		HealthProbeInterval:   300 * time.Second,
		TickMinutes:           2,
	}
	provider := sandbox.NewMockProvider()
	enqueuer := &fakeEnqueuer{}
	loop, err := New(cfg, database, provider, enqueuer, guard.NewSystemGuard(cfg), intent.NewLogger(database.DB))
	require.NoError(t, err)

	return &loopFixture{loop: loop, database: database, provider: provider, enqueuer: enqueuer}
}

// seedProject persists a project plus a live deployment bound to sandboxID.
func (f *loopFixture) seedProject(t *testing.T, name, status, sandboxID string, mutate func(*models.Project)) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:         name,
		OwnerID:      1,
		Tier:         models.TierSeed,
		Status:       status,
		LastActiveAt: time.Now().UTC(),
		LastResetAt:  time.Now().UTC(),
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, f.database.DB.Create(p).Error)
	if sandboxID != "" {
		deploy := models.Deployment{ProjectID: p.ID, Status: models.DeployLive, SandboxID: sandboxID}
		require.NoError(t, f.database.DB.Create(&deploy).Error)
	}
	return p
}

func (f *loopFixture) reload(t *testing.T, id uint) models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, f.database.DB.First(&p, id).Error)
	return p
}

func TestTickCorrectsDriftToSleeping(t *testing.T) {
	f := newLoopFixture(t)
	// Recorded RUNNING, but the fleet has no such sandbox.
	p := f.seedProject(t, "drifted", models.StatusRunning, "sbx-gone", nil)

	f.loop.Tick(context.Background())

	got := f.reload(t, p.ID)
	assert.Equal(t, models.StatusSleeping, got.Status)

	var intents []models.IntentLog
	require.NoError(t, f.database.DB.Where("project_id = ? AND intent = ?", p.ID, "RECONCILE_DRIFT").
		Find(&intents).Error)
	require.Len(t, intents, 1)
	assert.Contains(t, intents[0].Reason, "RUNNING -> SLEEPING")
}

func TestTickCorrectsDriftToRunning(t *testing.T) {
	f := newLoopFixture(t)
	// Recorded SLEEPING, but the sandbox is alive.
	f.provider.SetActive("sbx-alive", true)
	p := f.seedProject(t, "zombie", models.StatusSleeping, "sbx-alive", nil)

	f.loop.Tick(context.Background())

	got := f.reload(t, p.ID)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestTickAccountsRuntime(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.SetActive("sbx-1", true)
	p := f.seedProject(t, "busy", models.StatusRunning, "sbx-1", func(p *models.Project) {
		p.DailyRuntimeMinutes = 10
		p.TotalRuntimeMinutes = 100
	})

	f.loop.Tick(context.Background())

	got := f.reload(t, p.ID)
	assert.Equal(t, 12, got.DailyRuntimeMinutes)
	assert.Equal(t, 102, got.TotalRuntimeMinutes)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Empty(t, f.provider.Killed())
}

func TestTickEnforcesDailyQuota(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.SetActive("sbx-1", true)
	p := f.seedProject(t, "greedy", models.StatusRunning, "sbx-1", func(p *models.Project) {
		p.DailyRuntimeMinutes = 59
	})

	f.loop.Tick(context.Background())

	got := f.reload(t, p.ID)
	assert.Equal(t, models.StatusSleeping, got.Status)
	assert.Equal(t, []string{"sbx-1"}, f.provider.Killed())

	var intents []models.IntentLog
	require.NoError(t, f.database.DB.Where("project_id = ? AND intent = ?", p.ID, "AUTO_SLEEP").
		Find(&intents).Error)
	require.Len(t, intents, 1)
	assert.Contains(t, intents[0].Reason, "daily runtime limit")
}

func TestTickSleepsIdleProjects(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.SetActive("sbx-1", true)
	p := f.seedProject(t, "dormant", models.StatusRunning, "sbx-1", func(p *models.Project) {
		p.LastActiveAt = time.Now().UTC().Add(-20 * time.Minute)
	})

	f.loop.Tick(context.Background())

	got := f.reload(t, p.ID)
	assert.Equal(t, models.StatusSleeping, got.Status)
	assert.Equal(t, []string{"sbx-1"}, f.provider.Killed())
}

func TestTickResetsDailyCounters(t *testing.T) {
	f := newLoopFixture(t)
	stale := f.seedProject(t, "stale", models.StatusSleeping, "", func(p *models.Project) {
		p.DailyRuntimeMinutes = 45
		p.LastResetAt = time.Now().UTC().Add(-25 * time.Hour)
	})
	fresh := f.seedProject(t, "fresh", models.StatusSleeping, "", func(p *models.Project) {
		p.DailyRuntimeMinutes = 30
	})

	f.loop.Tick(context.Background())

	assert.Equal(t, 0, f.reload(t, stale.ID).DailyRuntimeMinutes)
	assert.Equal(t, 30, f.reload(t, fresh.ID).DailyRuntimeMinutes)
}

func TestTickSkipsWakingAndLockedProjects(t *testing.T) {
	f := newLoopFixture(t)
	waking := f.seedProject(t, "waking", models.StatusWaking, "sbx-gone-1", nil)
	locked := f.seedProject(t, "locked", models.StatusRunning, "sbx-gone-2", func(p *models.Project) {
		p.IsLocked = true
	})

	f.loop.Tick(context.Background())

	assert.Equal(t, models.StatusWaking, f.reload(t, waking.ID).Status)
	assert.Equal(t, models.StatusRunning, f.reload(t, locked.ID).Status)
	assert.Empty(t, f.provider.Killed())
}

func TestTickRecordsInvariantViolations(t *testing.T) {
	f := newLoopFixture(t)
	// Two base-tier projects of the same owner running at once can only
	// happen if a write slipped past the admission guard.
	f.provider.SetActive("sbx-1", true)
	f.provider.SetActive("sbx-2", true)
	first := f.seedProject(t, "first", models.StatusRunning, "sbx-1", nil)
	f.seedProject(t, "second", models.StatusRunning, "sbx-2", nil)

	f.loop.Tick(context.Background())

	var violations []models.IntentLog
	require.NoError(t, f.database.DB.Where("intent = ?", "INVARIANT_VIOLATION").
		Find(&violations).Error)
	require.NotEmpty(t, violations)
	assert.Equal(t, models.IntentFailed, violations[0].Result)
	assert.Contains(t, violations[0].Reason, "multiple running projects")

	// Detection is record-only; the reconciler does not force-sleep.
	assert.Equal(t, models.StatusRunning, f.reload(t, first.ID).Status)
}

func TestProbeFailureTriggersRecovery(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.SetActive("sbx-1", true)
	p := f.seedProject(t, "flaky", models.StatusRunning, "sbx-1", func(p *models.Project) {
		p.GitURL = "https://git.example.com/flaky.git"
	})
	require.NoError(t, f.database.DB.Model(&models.Deployment{}).
		Where("project_id = ?", p.ID).
		Update("domain", "flaky.app.unreachable.invalid").Error)

	f.loop.ProbeLive(context.Background())

	require.Len(t, f.enqueuer.jobs, 1)
	assert.Equal(t, p.ID, f.enqueuer.jobs[0].ProjectID)
	assert.Equal(t, p.GitURL, f.enqueuer.jobs[0].RepoURL)

	var queued int64
	require.NoError(t, f.database.DB.Model(&models.Deployment{}).
		Where("project_id = ? AND status = ?", p.ID, models.DeployQueued).
		Count(&queued).Error)
	assert.EqualValues(t, 1, queued)
}

func TestProbeSkipsDeploymentsWithoutDomain(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.SetActive("sbx-1", true)
	f.seedProject(t, "nodomain", models.StatusRunning, "sbx-1", nil)

	f.loop.ProbeLive(context.Background())

	assert.Empty(t, f.enqueuer.jobs)
}
