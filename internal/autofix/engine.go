// Package autofix turns a failed deployment's error log into a proposed
// code fix: retrieve context from the vector index and wisdom store,
// ask the model for a fix, verify it in a sandbox, and optionally apply
// it and redeploy.
package autofix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"unideploy/internal/apperrors"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/db"
	"unideploy/internal/logging"
	"unideploy/internal/pipeline"
	"unideploy/internal/sandbox"
	"unideploy/pkg/models"

	"gorm.io/gorm"
)

// errorLocation matches "path/to/file.ext:12" style references in error
// output. Deliberately permissive; a miss just means no focus file.
var errorLocation = regexp.MustCompile(`([\w./\\-]+\.(?:js|jsx|ts|tsx|mjs|py|json|html|css|go|rb))"?(?:[:,]\s*(?:line\s*)?(\d+))?`)

// Suggestion is what the engine returns for a failed deployment.
type Suggestion struct {
	FocusFile        string                 `json:"focus_file,omitempty"`
	Line             int                    `json:"line,omitempty"`
	Suggestion       string                 `json:"suggestion"`
	Verification     *sandbox.VerifyResult  `json:"verification,omitempty"`
	ContextRetrieved map[string]interface{} `json:"context_retrieved"`
}

// Engine runs the autofix flow.
type Engine struct {
	cfg      *config.Config
	database *db.Database
	provider sandbox.Provider
	vector   clients.VectorIndex
	wisdom   clients.WisdomStore
	ai       clients.AIClient
	runner   pipeline.Enqueuer
}

// New wires the engine.
func New(cfg *config.Config, database *db.Database, provider sandbox.Provider,
	vector clients.VectorIndex, wisdom clients.WisdomStore, ai clients.AIClient,
	runner pipeline.Enqueuer) *Engine {
	return &Engine{
		cfg:      cfg,
		database: database,
		provider: provider,
		vector:   vector,
		wisdom:   wisdom,
		ai:       ai,
		runner:   runner,
	}
}

// ParseErrorLocation extracts the referenced file and line from an error
// log, when present.
func ParseErrorLocation(errorLog string) (string, int) {
	m := errorLocation.FindStringSubmatch(errorLog)
	if m == nil {
		return "", 0
	}
	line := 0
	if m[2] != "" {
		line, _ = strconv.Atoi(m[2])
	}
	return m[1], line
}

// Suggest implements pipeline.Fixer: it builds a fix suggestion for a
// failed deployment without touching the workspace.
func (e *Engine) Suggest(ctx context.Context, deploymentID uint, errorLog string) (interface{}, error) {
	session := e.database.DB.Session(&gorm.Session{NewDB: true})

	var deploy models.Deployment
	if err := session.First(&deploy, deploymentID).Error; err != nil {
		return nil, fmt.Errorf("load deployment %d: %w", deploymentID, err)
	}

	focusFile, line := ParseErrorLocation(errorLog)
	query := tail(errorLog, 500)

	retrieved := map[string]interface{}{}
	var snippets []clients.CodeSnippet
	if e.vector != nil {
		if s, err := e.vector.Query(ctx, query, deploy.ProjectID, 5); err == nil {
			snippets = s
			retrieved["snippets"] = len(s)
		} else {
			logging.S().Warnw("vector retrieval failed", "deployment_id", deploymentID, "error", err)
		}
	}
	var wisdomContext string
	if e.wisdom != nil {
		if w, err := e.wisdom.Query(ctx, query); err == nil && w != "" {
			wisdomContext = w
			retrieved["wisdom"] = true
		}
	}

	if e.ai == nil {
		return nil, apperrors.New(apperrors.KindIntegration, "no ai client configured")
	}
	suggestion, err := e.ai.ChatCompletion(ctx, e.buildPrompt(errorLog, focusFile, snippets, wisdomContext))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIntegration, "fix suggestion failed", err)
	}

	result := &Suggestion{
		FocusFile:        focusFile,
		Line:             line,
		Suggestion:       suggestion,
		ContextRetrieved: retrieved,
	}

	if focusFile != "" {
		workspace := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("%d", deploy.ID))
		if v, err := e.provider.Verify(ctx, workspace, focusFile, suggestion, errorLog); err == nil {
			result.Verification = v
		} else {
			logging.S().Warnw("fix verification failed", "deployment_id", deploymentID, "error", err)
		}
	}
	return result, nil
}

// ApplyFix patches the focus file with a model-produced full replacement,
// stores the outcome as wisdom, and enqueues a redeploy. The redeploy is
// fire-and-forget; the caller gets the patched file path immediately.
func (e *Engine) ApplyFix(ctx context.Context, deploymentID uint) (string, error) {
	session := e.database.DB.Session(&gorm.Session{NewDB: true})

	var deploy models.Deployment
	if err := session.First(&deploy, deploymentID).Error; err != nil {
		return "", apperrors.NotFound("deployment not found")
	}
	if deploy.Status != models.DeployFailed {
		return "", apperrors.Validation("only failed deployments can be fixed")
	}
	if deploy.ErrorMessage == "" {
		return "", apperrors.Validation("deployment has no recorded error to fix")
	}
	var project models.Project
	if err := session.First(&project, deploy.ProjectID).Error; err != nil {
		return "", apperrors.NotFound("project not found")
	}

	focusFile, _ := ParseErrorLocation(deploy.ErrorMessage)
	if focusFile == "" {
		return "", apperrors.Validation("could not locate a file to patch in the error log")
	}
	workspace := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("%d", deploy.ID))
	target := filepath.Join(workspace, focusFile)
	original, err := os.ReadFile(target)
	if err != nil {
		return "", apperrors.NotFound(fmt.Sprintf("workspace file %s not found", focusFile))
	}

	patched, err := e.ai.ChatCompletion(ctx, []clients.ChatMessage{
		{Role: "system", Content: "You are a senior engineer fixing a broken deployment. " +
			"Reply with the complete corrected file content only. No commentary, no markdown fences."},
		{Role: "user", Content: fmt.Sprintf(
			"The deployment failed with:\n%s\n\nCurrent content of %s:\n%s\n\nReturn the full corrected file.",
			tail(deploy.ErrorMessage, 2000), focusFile, string(original))},
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindIntegration, "fix generation failed", err)
	}

	patched = StripCodeFences(patched)
	if len(patched) <= 10 {
		return "", apperrors.New(apperrors.KindIntegration, "generated fix is implausibly short, refusing to apply")
	}
	if err := os.WriteFile(target, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("write patched file: %w", err)
	}

	if e.wisdom != nil {
		if err := e.wisdom.Add(ctx,
			fmt.Sprintf("Fixed %s for project %s after error: %s", focusFile, project.Name, tail(deploy.ErrorMessage, 300)),
			"autofix"); err != nil {
			logging.S().Warnw("wisdom store add failed", "error", err)
		}
	}

	// Fresh run for the same project; repo re-clone picks up nothing,
	// so the patched workspace is passed through directly.
	redeploy := models.Deployment{ProjectID: project.ID, Status: models.DeployQueued}
	if err := session.Create(&redeploy).Error; err != nil {
		return "", fmt.Errorf("enqueue redeploy: %w", err)
	}
	e.runner.Enqueue(pipeline.Job{
		DeploymentID: redeploy.ID,
		ProjectID:    project.ID,
		ProjectPath:  workspace,
	})

	logging.S().Infow("autofix applied",
		"deployment_id", deploy.ID, "redeploy_id", redeploy.ID, "file", focusFile)
	return focusFile, nil
}

func (e *Engine) buildPrompt(errorLog, focusFile string, snippets []clients.CodeSnippet, wisdomContext string) []clients.ChatMessage {
	var b strings.Builder
	b.WriteString("A deployment failed. Diagnose the root cause and propose a concrete fix.\n\n")
	b.WriteString("Error log (tail):\n")
	b.WriteString(tail(errorLog, 2000))
	b.WriteString("\n")
	if focusFile != "" {
		fmt.Fprintf(&b, "\nThe error references file: %s\n", focusFile)
	}
	for _, s := range snippets {
		fmt.Fprintf(&b, "\nRelevant code (%s):\n%s\n", s.Path, s.Content)
	}
	if wisdomContext != "" {
		b.WriteString("\nPast context:\n")
		b.WriteString(wisdomContext)
		b.WriteString("\n")
	}
	return []clients.ChatMessage{
		{Role: "system", Content: "You are a deployment debugging assistant. Be specific and terse."},
		{Role: "user", Content: b.String()},
	}
}

// StripCodeFences removes a surrounding markdown code fence, including
// an optional language tag on the opening fence.
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if idx := strings.Index(t, "\n"); idx >= 0 {
		t = t[idx+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
