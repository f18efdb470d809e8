package builder

import (
	"context"
	"fmt"

	"unideploy/internal/logging"
)

// Result is what the pipeline receives from a completed build.
type Result struct {
	Detection *Detection
	Recipe    *Recipe
	ImageTag  string
}

// Orchestrator runs detection, recipe rendering, and the image build,
// forwarding every log line through the supplied callback.
type Orchestrator struct {
	images ImageBuilder
}

// NewOrchestrator wires the orchestrator to an image builder.
func NewOrchestrator(images ImageBuilder) *Orchestrator {
	return &Orchestrator{images: images}
}

// Build inspects the workspace and produces the artifact. onLine may be
// nil when the caller does not need streamed output.
func (o *Orchestrator) Build(ctx context.Context, workspace string, onLine func(string)) (*Result, error) {
	emit := onLine
	if emit == nil {
		emit = func(string) {}
	}

	det, err := Detect(workspace)
	if err != nil {
		return nil, err
	}
	emit(fmt.Sprintf("detected project type: %s", det.Type))

	recipe, err := RenderRecipe(det)
	if err != nil {
		return nil, err
	}

	tag, err := o.images.Build(ctx, workspace, recipe, emit)
	if err != nil {
		return nil, err
	}
	logging.S().Infow("build complete", "workspace", workspace, "type", det.Type, "image_tag", tag)

	return &Result{Detection: det, Recipe: recipe, ImageTag: tag}, nil
}
