package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"unideploy/internal/apperrors"
	"unideploy/internal/builder"
	"unideploy/internal/config"
	"unideploy/internal/cost"
	"unideploy/internal/db"
	"unideploy/internal/logbroker"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Cool App", "my-cool-app"},
		{"app42", "app42"},
		{"Hello, World!", "hello-world"},
		{"ALREADY-slugged", "already-slugged"},
		{"émoji🚀name", "mojiname"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

type pipelineFixture struct {
	runner   *Runner
	database *db.Database
	provider *sandbox.MockProvider
	broker   *logbroker.Broker
	project  models.Project
	deploy   models.Deployment
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	database, err := db.New(&db.Config{SQLitePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		WorkDir:      t.TempDir(),
		PublicSuffix: "example.com",
	}
	costs, err := cost.NewLedger(t.TempDir())
	require.NoError(t, err)

	provider := sandbox.NewMockProvider()
	broker := logbroker.New()
	builds := builder.NewOrchestrator(builder.NoopBuilder{})
	runner := NewRunner(cfg, database, broker, provider, builds, nil, nil, costs)

	owner := models.User{ExternalID: "u1"}
	require.NoError(t, database.DB.Create(&owner).Error)
	project := models.Project{
		Name:    "demo app",
		OwnerID: owner.ID,
		Tier:    models.TierSeed,
		Status:  models.StatusBuilt,
	}
	require.NoError(t, database.DB.Create(&project).Error)
	deploy := models.Deployment{ProjectID: project.ID, Status: models.DeployQueued}
	require.NoError(t, database.DB.Create(&deploy).Error)

	return &pipelineFixture{
		runner:   runner,
		database: database,
		provider: provider,
		broker:   broker,
		project:  project,
		deploy:   deploy,
	}
}

func nodeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"dependencies": {"express": "4.18.0"}}`), 0o644))
	return dir
}

func TestRunHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	sink := &recordingSink{}
	f.broker.Subscribe(f.deploy.ID, sink)

	err := f.runner.Run(context.Background(), Job{
		DeploymentID: f.deploy.ID,
		ProjectID:    f.project.ID,
		ProjectPath:  nodeWorkspace(t),
	})
	require.NoError(t, err)

	var deploy models.Deployment
	require.NoError(t, f.database.DB.First(&deploy, f.deploy.ID).Error)
	assert.Equal(t, models.DeployLive, deploy.Status)
	assert.Equal(t, "demo-app.app.example.com", deploy.Domain)
	assert.NotEmpty(t, deploy.SandboxID)
	assert.NotEmpty(t, deploy.ImageTag)

	var project models.Project
	require.NoError(t, f.database.DB.First(&project, f.project.ID).Error)
	assert.Equal(t, models.StatusRunning, project.Status)
	assert.False(t, project.LastActiveAt.IsZero())

	// Stage frames arrive strictly forward, ending live.
	statuses := sink.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.DeployBuilding, statuses[0])
	assert.Equal(t, models.DeployLive, statuses[len(statuses)-1])
}

func TestRunHappyPathFromCreated(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.database.DB.Model(&f.project).
		Update("status", models.StatusCreated).Error)

	err := f.runner.Run(context.Background(), Job{
		DeploymentID: f.deploy.ID,
		ProjectID:    f.project.ID,
		ProjectPath:  nodeWorkspace(t),
	})
	require.NoError(t, err)

	var project models.Project
	require.NoError(t, f.database.DB.First(&project, f.project.ID).Error)
	assert.Equal(t, models.StatusRunning, project.Status)
}

func TestRunBuildPromotesCreatedProject(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.database.DB.Model(&f.project).
		Update("status", models.StatusCreated).Error)
	// Provisioning fails after the build stage, so the promotion out of
	// CREATED must already be durable.
	f.provider.CreateErr = apperrors.New(apperrors.KindSandbox, "fleet unavailable")

	err := f.runner.Run(context.Background(), Job{
		DeploymentID: f.deploy.ID,
		ProjectID:    f.project.ID,
		ProjectPath:  nodeWorkspace(t),
	})
	require.Error(t, err)

	var project models.Project
	require.NoError(t, f.database.DB.First(&project, f.project.ID).Error)
	assert.Equal(t, models.StatusBuilt, project.Status,
		"a built project never reverts to CREATED, and never reaches RUNNING without a sandbox")

	var deploy models.Deployment
	require.NoError(t, f.database.DB.First(&deploy, f.deploy.ID).Error)
	assert.Equal(t, models.DeployFailed, deploy.Status)
}

func TestRunSandboxFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.provider.CreateErr = apperrors.New(apperrors.KindSandbox, "no capacity on fleet")
	sink := &recordingSink{}
	f.broker.Subscribe(f.deploy.ID, sink)

	err := f.runner.Run(context.Background(), Job{
		DeploymentID: f.deploy.ID,
		ProjectID:    f.project.ID,
		ProjectPath:  nodeWorkspace(t),
	})
	require.Error(t, err)

	var deploy models.Deployment
	require.NoError(t, f.database.DB.First(&deploy, f.deploy.ID).Error)
	assert.Equal(t, models.DeployFailed, deploy.Status)
	assert.Contains(t, deploy.ErrorMessage, "no capacity")

	// The project never reached RUNNING.
	var project models.Project
	require.NoError(t, f.database.DB.First(&project, f.project.ID).Error)
	assert.Equal(t, models.StatusBuilt, project.Status)

	statuses := sink.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.DeployFailed, statuses[len(statuses)-1])
}

func TestRunUnknownProjectTypeFails(t *testing.T) {
	f := newPipelineFixture(t)

	empty := t.TempDir()
	err := f.runner.Run(context.Background(), Job{
		DeploymentID: f.deploy.ID,
		ProjectID:    f.project.ID,
		ProjectPath:  empty,
	})
	require.Error(t, err)

	var deploy models.Deployment
	require.NoError(t, f.database.DB.First(&deploy, f.deploy.ID).Error)
	assert.Equal(t, models.DeployFailed, deploy.Status)
	assert.Contains(t, deploy.ErrorMessage, "could not detect project type")
}

type recordingSink struct {
	frames []logbroker.Frame
}

func (s *recordingSink) Send(frame logbroker.Frame) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) statuses() []string {
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Status)
	}
	return out
}
