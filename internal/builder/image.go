package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
)

// ImageBuilder produces an opaque artifact identifier from a workspace
// and a recipe. The pipeline treats the returned tag as a bound string.
type ImageBuilder interface {
	Build(ctx context.Context, workspace string, recipe *Recipe, onLine func(string)) (string, error)
}

// DockerBuilder builds images through the local Docker daemon.
type DockerBuilder struct {
	client *client.Client
	prefix string
}

// NewDockerBuilder connects to the daemon using the standard environment
// configuration.
func NewDockerBuilder(imagePrefix string) (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker sdk client init failed: %w", err)
	}
	if imagePrefix == "" {
		imagePrefix = "unideploy"
	}
	return &DockerBuilder{client: cli, prefix: imagePrefix}, nil
}

// Build writes the recipe's Dockerfile into the workspace, streams the
// image build, and returns the tag.
func (b *DockerBuilder) Build(ctx context.Context, workspace string, recipe *Recipe, onLine func(string)) (string, error) {
	dockerfile := filepath.Join(workspace, "Dockerfile")
	if _, err := os.Stat(dockerfile); os.IsNotExist(err) {
		if err := os.WriteFile(dockerfile, []byte(recipe.Dockerfile), 0o644); err != nil {
			return "", fmt.Errorf("write dockerfile: %w", err)
		}
	}

	tag := fmt.Sprintf("%s/%s:%s", b.prefix, recipe.Type, filepath.Base(workspace))

	buildCtx, err := archive.TarWithOptions(workspace, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("tar workspace: %w", err)
	}
	defer buildCtx.Close()

	resp, err := b.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			break
		}
		if msg.Error != "" {
			return "", fmt.Errorf("image build failed: %s", msg.Error)
		}
		if line := strings.TrimRight(msg.Stream, "\n"); line != "" && onLine != nil {
			onLine(line)
		}
	}
	return tag, nil
}

// NoopBuilder returns the recipe type as the artifact tag without
// building anything locally. Used when image building is delegated
// entirely to the sandbox provider.
type NoopBuilder struct{}

func (NoopBuilder) Build(_ context.Context, workspace string, recipe *Recipe, onLine func(string)) (string, error) {
	if onLine != nil {
		onLine(fmt.Sprintf("build delegated to sandbox provider (%s)", recipe.Type))
	}
	return fmt.Sprintf("remote/%s:%s", recipe.Type, filepath.Base(workspace)), nil
}
