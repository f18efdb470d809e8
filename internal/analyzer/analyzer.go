// Package analyzer inspects a code source before any deployment exists:
// it clones or extracts the source, classifies the framework, and asks
// the model for a deployment config, falling back to heuristics when the
// model is unavailable.
package analyzer

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"unideploy/internal/apperrors"
	"unideploy/internal/builder"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/logging"
	"unideploy/pkg/models"

	git "github.com/go-git/go-git/v5"
	"github.com/google/uuid"
)

// Analysis is the analyzer's verdict for a code source.
type Analysis struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	BuildCommand     string   `json:"build_command"`
	StartCommand     string   `json:"start_command"`
	Port             int      `json:"port"`
	RecommendedTier  string   `json:"recommended_tier"`
	TierReasoning    string   `json:"tier_reasoning"`
	Files            []string `json:"files"`
	SuggestionEngine string   `json:"suggestion_engine"`
}

// Service runs source analysis.
type Service struct {
	cfg    *config.Config
	ai     clients.AIClient
	wisdom clients.WisdomStore
}

// New wires the analyzer.
func New(cfg *config.Config, ai clients.AIClient, wisdom clients.WisdomStore) *Service {
	return &Service{cfg: cfg, ai: ai, wisdom: wisdom}
}

// AnalyzeRepo clones the repository into a throwaway workspace and
// analyzes it.
func (s *Service) AnalyzeRepo(ctx context.Context, repoURL string) (*Analysis, error) {
	if strings.TrimSpace(repoURL) == "" {
		return nil, apperrors.Validation("repo_url is required")
	}

	id := uuid.New().String()
	workspace := filepath.Join(s.cfg.WorkDir, "analyze-"+id)
	defer os.RemoveAll(workspace)

	_, err := git.PlainCloneContext(ctx, workspace, false, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIntegration, "repository clone failed", err)
	}
	return s.analyzeWorkspace(ctx, id, workspace)
}

// AnalyzeZip extracts an uploaded archive and analyzes it. Size limits
// are enforced by the caller before the bytes reach here.
func (s *Service) AnalyzeZip(ctx context.Context, data []byte) (*Analysis, error) {
	id := uuid.New().String()
	workspace := filepath.Join(s.cfg.WorkDir, "analyze-"+id)
	defer os.RemoveAll(workspace)

	if err := ExtractZip(data, workspace); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "archive extraction failed", err)
	}
	return s.analyzeWorkspace(ctx, id, workspace)
}

func (s *Service) analyzeWorkspace(ctx context.Context, id, workspace string) (*Analysis, error) {
	files := listFiles(workspace, 50)

	det, err := builder.Detect(workspace)
	if err != nil {
		det = &builder.Detection{Type: builder.TypeUnknown}
	}

	analysis := &Analysis{
		ID:               id,
		Type:             det.Type,
		BuildCommand:     det.BuildCommand,
		StartCommand:     det.StartCommand,
		Port:             det.Port,
		Files:            files,
		SuggestionEngine: "heuristic",
	}

	if s.ai != nil {
		if cfg, ok := s.askModel(ctx, files, det); ok {
			analysis.Type = cfg.Type
			analysis.BuildCommand = cfg.BuildCommand
			analysis.StartCommand = cfg.StartCommand
			if cfg.Port > 0 {
				analysis.Port = cfg.Port
			}
			analysis.SuggestionEngine = "ai"
		}
	}

	analysis.RecommendedTier, analysis.TierReasoning = recommendTier(analysis.Type)
	return analysis, nil
}

type modelConfig struct {
	Type         string `json:"type"`
	BuildCommand string `json:"build_command"`
	StartCommand string `json:"start_command"`
	Port         int    `json:"port"`
}

func (s *Service) askModel(ctx context.Context, files []string, det *builder.Detection) (*modelConfig, bool) {
	var wisdomContext string
	if s.wisdom != nil {
		if w, err := s.wisdom.Query(ctx, "deployment config for "+det.Type+" projects"); err == nil {
			wisdomContext = w
		}
	}

	prompt := fmt.Sprintf(
		"Given this file listing of a project, produce a deployment config as JSON with keys "+
			"type, build_command, start_command, port. Heuristic detection says: %s.\n\nFiles:\n%s",
		det.Type, strings.Join(files, "\n"))
	if wisdomContext != "" {
		prompt += "\n\nPast deployment notes:\n" + wisdomContext
	}

	out, err := s.ai.ChatCompletion(ctx, []clients.ChatMessage{
		{Role: "system", Content: "You configure deployments. Reply with a single JSON object, nothing else."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		logging.S().Warnw("analysis model call failed, using heuristics", "error", err)
		return nil, false
	}

	out = strings.TrimSpace(out)
	if i := strings.Index(out, "{"); i >= 0 {
		if j := strings.LastIndex(out, "}"); j > i {
			out = out[i : j+1]
		}
	}
	var cfg modelConfig
	if err := json.Unmarshal([]byte(out), &cfg); err != nil || cfg.Type == "" {
		logging.S().Warnw("analysis model returned unusable config, using heuristics")
		return nil, false
	}
	return &cfg, true
}

func recommendTier(projectType string) (string, string) {
	switch projectType {
	case builder.TypeNextJS:
		return models.TierLaunch, "Server-rendered framework benefits from the larger memory band."
	case builder.TypePython, builder.TypeNode:
		return models.TierSeed, "A single dynamic process fits the base band."
	case builder.TypeVite, builder.TypeCRA, builder.TypeVanilla:
		return models.TierSeed, "Static output needs only the base band."
	default:
		return models.TierSeed, "Unrecognized project type, defaulting to the base band."
	}
}

// listFiles returns up to max relative paths, skipping vendored and VCS
// directories.
func listFiles(root string, max int) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if name == ".git" || name == "node_modules" || name == "__pycache__" || name == ".next" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= max {
			return io.EOF
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// ExtractZip unpacks an uploaded archive into dest, rejecting entries
// that escape it.
func ExtractZip(data []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, f := range reader.File {
		target := filepath.Join(dest, f.Name)
		// Reject entries escaping the destination.
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
