package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"unideploy/internal/analyzer"
	"unideploy/internal/autofix"
	"unideploy/internal/cache"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/cost"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/intent"
	"unideploy/internal/lifecycle"
	"unideploy/internal/logbroker"
	"unideploy/internal/pipeline"
	"unideploy/internal/sandbox"
	"unideploy/internal/ws"
	"unideploy/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubVerifier accepts any token and derives the identity from it, so a
// test can act as different tenants by switching tokens.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (*clients.Identity, error) {
	return &clients.Identity{
		ExternalID: token,
		Email:      token + "@example.com",
		Name:       token,
	}, nil
}

type apiFixture struct {
	router   *gin.Engine
	database *db.Database
	provider *sandbox.MockProvider
	enqueuer *fakeEnqueuer
	cfg      *config.Config
}

type fakeEnqueuer struct {
	jobs []pipeline.Job
}

func (f *fakeEnqueuer) Enqueue(job pipeline.Job) {
	f.jobs = append(f.jobs, job)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	database, err := db.New(&db.Config{SQLitePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		Environment:           "development",
		Port:                  "0",
		MaxUploadBytes:        1024,
		DailyRuntimeLimitMins: 60,
		PlatformMaxRunning:    40,
		MaxConcurrentBuilds:   5,
		WorkDir:               t.TempDir(),
	}
	costs, err := cost.NewLedger(t.TempDir())
	require.NoError(t, err)

	provider := sandbox.NewMockProvider()
	enqueuer := &fakeEnqueuer{}
	intents := intent.NewLogger(database.DB)
	sysGuard := guard.NewSystemGuard(cfg)
	lc := lifecycle.NewService(cfg, database, sysGuard, provider, enqueuer, intents)
	an := analyzer.New(cfg, nil, nil)
	fix := autofix.New(cfg, database, provider, nil, nil, nil, enqueuer)

	h := New(cfg, database, sysGuard, lc, an, fix, enqueuer, costs, cache.New(""), intents)
	wsHandler := ws.NewHandler(logbroker.New(), nil)
	router := NewRouter(cfg, database, h, wsHandler, stubVerifier{})

	return &apiFixture{router: router, database: database, provider: provider, enqueuer: enqueuer, cfg: cfg}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unideploy-control-plane", body["service"])
	assert.Equal(t, Version, body["version"])

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestSystemConfigReflectsReadOnly(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/system/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["read_only"])

	t.Setenv("READ_ONLY", "true")
	rec = f.do(t, http.MethodGet, "/system/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["read_only"])
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListProjects(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a",
		map[string]interface{}{"name": "shop frontend", "tier": models.TierSeed})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode(t, rec)
	assert.Equal(t, models.StatusCreated, created["status"])

	// The duplicate name is rejected.
	rec = f.do(t, http.MethodPost, "/projects", "user-a",
		map[string]interface{}{"name": "shop frontend"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Listing is tenant-scoped.
	rec = f.do(t, http.MethodGet, "/projects", "user-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine, 1)

	rec = f.do(t, http.MethodGet, "/projects", "user-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var theirs []models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &theirs))
	assert.Empty(t, theirs)
}

func TestOtherTenantsProjectIsNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "private"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"]

	path := "/projects/" + jsonNumber(t, id) + "/start"
	rec = f.do(t, http.MethodPost, path, "user-b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopIllegalTransitionIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "fresh"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := jsonNumber(t, decode(t, rec)["id"])

	rec = f.do(t, http.MethodPost, "/projects/"+id+"/stop", "user-a", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Illegal status transition")
}

func TestStartReturnsWaking(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a",
		map[string]interface{}{"name": "sleeper", "git_url": "https://git.example.com/s.git"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := jsonNumber(t, decode(t, rec)["id"])

	var project models.Project
	require.NoError(t, f.database.DB.Where("name = ?", "sleeper").First(&project).Error)
	require.NoError(t, f.database.DB.Model(&project).Update("status", models.StatusSleeping).Error)
	require.NoError(t, f.database.DB.Create(&models.Deployment{
		ProjectID: project.ID, Status: models.DeployFailed,
	}).Error)

	rec = f.do(t, http.MethodPost, "/projects/"+id+"/start", "user-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusWaking, decode(t, rec)["status"])
	assert.Len(t, f.enqueuer.jobs, 1)
}

func TestDeployGitQueuesRun(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "gitapp"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := jsonNumber(t, decode(t, rec)["id"])

	rec = f.do(t, http.MethodPost, "/deploy/"+id+"/git", "user-a",
		map[string]interface{}{"repo_url": "https://git.example.com/app.git"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, models.DeployQueued, body["status"])

	require.Len(t, f.enqueuer.jobs, 1)
	assert.Equal(t, "https://git.example.com/app.git", f.enqueuer.jobs[0].RepoURL)

	// The repository sticks to the project for later restarts.
	var project models.Project
	require.NoError(t, f.database.DB.Where("name = ?", "gitapp").First(&project).Error)
	assert.Equal(t, "https://git.example.com/app.git", project.GitURL)
}

func TestDeployGitBlockedInReadOnlyMode(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "frozen"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := jsonNumber(t, decode(t, rec)["id"])

	t.Setenv("READ_ONLY", "true")
	rec = f.do(t, http.MethodPost, "/deploy/"+id+"/git", "user-a",
		map[string]interface{}{"repo_url": "https://git.example.com/app.git"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "READ-ONLY")
	assert.Empty(t, f.enqueuer.jobs)
}

func TestDeployUploadTooLarge(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "bigzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := jsonNumber(t, decode(t, rec)["id"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "project.zip")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), int(f.cfg.MaxUploadBytes)+1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/deploy/"+id, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer user-a")
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, out.Code)
	assert.Empty(t, f.enqueuer.jobs)
}

func TestGetDeployment(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", "user-a", map[string]interface{}{"name": "inspect"})
	require.Equal(t, http.StatusOK, rec.Code)

	var project models.Project
	require.NoError(t, f.database.DB.Where("name = ?", "inspect").First(&project).Error)
	deploy := models.Deployment{ProjectID: project.ID, Status: models.DeployLive, Domain: "inspect.app.example.com"}
	require.NoError(t, f.database.DB.Create(&deploy).Error)

	rec = f.do(t, http.MethodGet, "/deployments/1", "user-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inspect.app.example.com")

	rec = f.do(t, http.MethodGet, "/deployments/999", "user-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// jsonNumber renders a decoded JSON numeric id back to its path form.
func jsonNumber(t *testing.T, v interface{}) string {
	t.Helper()
	n, ok := v.(float64)
	require.True(t, ok, "expected numeric id, got %T", v)
	return strconv.FormatUint(uint64(n), 10)
}
