// Package builder turns a cloned workspace into a runnable artifact:
// framework detection, recipe rendering, and the streamed build itself.
package builder

import (
	"encoding/json"
	"os"
	"path/filepath"

	"unideploy/internal/apperrors"
)

// Framework type labels.
const (
	TypeNextJS  = "nextjs"
	TypeVite    = "vite"
	TypeCRA     = "cra"
	TypeNode    = "node"
	TypePython  = "python"
	TypeVanilla = "vanilla"
	TypeUnknown = "unknown"
)

// Detection is the outcome of inspecting a workspace root.
type Detection struct {
	Type         string `json:"type"`
	Static       bool   `json:"static"`
	OutputDir    string `json:"output_dir,omitempty"`
	BuildCommand string `json:"build_command"`
	StartCommand string `json:"start_command"`
	Port         int    `json:"port"`
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

func (p *packageJSON) hasDep(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

// Detect inspects the workspace root and classifies the project. An
// unrecognized layout returns a validation error, which fails the
// pipeline's build stage.
func Detect(workspace string) (*Detection, error) {
	if data, err := os.ReadFile(filepath.Join(workspace, "package.json")); err == nil {
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, apperrors.Validation("package.json is not valid JSON")
		}
		switch {
		case pkg.hasDep("next"):
			return &Detection{
				Type:         TypeNextJS,
				BuildCommand: "npm install && npm run build",
				StartCommand: "npm run start",
				Port:         3000,
			}, nil
		case pkg.hasDep("vite"):
			return &Detection{
				Type:         TypeVite,
				Static:       true,
				OutputDir:    "dist",
				BuildCommand: "npm install && npm run build",
				StartCommand: "npx serve -s dist",
				Port:         3000,
			}, nil
		case pkg.hasDep("react-scripts"):
			return &Detection{
				Type:         TypeCRA,
				Static:       true,
				OutputDir:    "build",
				BuildCommand: "npm install && npm run build",
				StartCommand: "npx serve -s build",
				Port:         3000,
			}, nil
		default:
			return &Detection{
				Type:         TypeNode,
				BuildCommand: "npm install",
				StartCommand: "npm start",
				Port:         3000,
			}, nil
		}
	}

	if fileExists(filepath.Join(workspace, "requirements.txt")) ||
		fileExists(filepath.Join(workspace, "pyproject.toml")) {
		return &Detection{
			Type:         TypePython,
			BuildCommand: "pip install -r requirements.txt",
			StartCommand: "python main.py",
			Port:         8000,
		}, nil
	}

	if fileExists(filepath.Join(workspace, "index.html")) {
		return &Detection{
			Type:         TypeVanilla,
			Static:       true,
			OutputDir:    ".",
			BuildCommand: "",
			StartCommand: "npx serve -s .",
			Port:         3000,
		}, nil
	}

	return nil, apperrors.Validation("could not detect project type: no recognizable entry file at workspace root")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
