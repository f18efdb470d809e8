// Package sandbox abstracts the remote execution fleet. The control
// plane only ever talks to the Provider interface; concrete backends
// (the remote provider API, a mock for tests) are swappable by
// configuration.
package sandbox

import (
	"context"
)

// CreateRequest carries everything a provider needs to boot a workload.
type CreateRequest struct {
	RepoURL      string
	BuildCommand string
	StartCommand string
	EnvVars      map[string]string
	Tier         string

	// Line callbacks for streamed build/run output. Either may be nil.
	OnStdout func(line string)
	OnStderr func(line string)
}

// Instance describes a provisioned sandbox.
type Instance struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// VerifyResult is the outcome of a syntax/patch verification run.
type VerifyResult struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Provider is the capability set the control plane requires from a
// sandbox backend. Create may block for minutes while the remote side
// clones and builds; callers pass a context honoring the tier timeout.
type Provider interface {
	Create(ctx context.Context, req CreateRequest) (*Instance, error)
	Kill(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) (*Instance, error)
	Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (*VerifyResult, error)
	ListActive(ctx context.Context) (map[string]bool, error)
}
