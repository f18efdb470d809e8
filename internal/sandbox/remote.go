package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"unideploy/internal/apperrors"
	"unideploy/internal/config"
	"unideploy/internal/logging"
)

// RemoteProvider talks to the sandbox fleet's HTTP API. Creation streams
// newline-delimited events until the provider reports the instance
// running or failed.
type RemoteProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemoteProvider builds the production provider from configuration.
func NewRemoteProvider(cfg *config.Config) *RemoteProvider {
	return &RemoteProvider{
		baseURL: cfg.SandboxAPIURL,
		apiKey:  cfg.SandboxAPIKey,
		// Per-call deadlines come from the request context; the
		// client itself never times out.
		client: &http.Client{},
	}
}

// createEvent is one line of the provider's streaming create response.
type createEvent struct {
	Type   string `json:"type"` // stdout, stderr, status
	Line   string `json:"line,omitempty"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Create provisions a sandbox and blocks until it is running or failed.
// The tier timeout is applied on top of any deadline already on ctx.
func (p *RemoteProvider) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	if p.baseURL == "" {
		return nil, apperrors.New(apperrors.KindSandbox, "sandbox provider not configured")
	}

	res := ResourcesFor(req.Tier)
	ctx, cancel := context.WithTimeout(ctx, res.Timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"repo_url":      req.RepoURL,
		"build_command": req.BuildCommand,
		"start_command": req.StartCommand,
		"env_vars":      req.EnvVars,
		"tier":          req.Tier,
		"cpu_cores":     res.CPUCores,
		"memory_bytes":  res.MemoryBytes,
		"timeout_secs":  int(res.Timeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sandboxes", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "sandbox create failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox provider returned status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var last *Instance
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev createEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logging.S().Debugw("unparseable sandbox event", "line", line)
			continue
		}
		switch ev.Type {
		case "stdout":
			if req.OnStdout != nil {
				req.OnStdout(ev.Line)
			}
		case "stderr":
			if req.OnStderr != nil {
				req.OnStderr(ev.Line)
			}
		case "status":
			last = &Instance{ID: ev.ID, Status: ev.Status, URL: ev.URL}
			if ev.Status == "running" {
				return last, nil
			}
			if ev.Status == "failed" {
				msg := ev.Error
				if msg == "" {
					msg = "sandbox reported failure"
				}
				return nil, apperrors.New(apperrors.KindSandbox, msg)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.New(apperrors.KindSandbox,
				fmt.Sprintf("sandbox create timed out after %s", res.Timeout))
		}
		return nil, apperrors.Wrap(apperrors.KindSandbox, "sandbox event stream broke", err)
	}
	// Anything short of a terminal "running" is a failed provision: the
	// caller would otherwise mark the deployment live on a sandbox that
	// never came up.
	if last != nil {
		return nil, apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox stream ended in state %q before reaching running", last.Status))
	}
	return nil, apperrors.New(apperrors.KindSandbox, "sandbox create ended without a status event")
}

// Kill terminates a sandbox.
func (p *RemoteProvider) Kill(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/sandboxes/"+id, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSandbox, "sandbox kill failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox kill returned status %d", resp.StatusCode))
	}
	return nil
}

// Connect reattaches to an existing sandbox.
func (p *RemoteProvider) Connect(ctx context.Context, id string) (*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/sandboxes/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "sandbox connect failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("sandbox not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox connect returned status %d", resp.StatusCode))
	}

	var inst Instance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "malformed sandbox response", err)
	}
	return &inst, nil
}

// Verify runs a syntax check of a patched file inside a throwaway sandbox.
func (p *RemoteProvider) Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	payload, _ := json.Marshal(map[string]string{
		"workspace":  workspace,
		"focus_file": focusFile,
		"patch":      patch,
		"error":      errorLog,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "sandbox verify failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox verify returned status %d", resp.StatusCode))
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "malformed verify response", err)
	}
	return &result, nil
}

// ListActive returns the ids of every sandbox the provider reports running.
func (p *RemoteProvider) ListActive(ctx context.Context) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/sandboxes?status=running", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "sandbox list failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.KindSandbox,
			fmt.Sprintf("sandbox list returned status %d", resp.StatusCode))
	}

	var parsed struct {
		Sandboxes []Instance `json:"sandboxes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSandbox, "malformed list response", err)
	}
	active := make(map[string]bool, len(parsed.Sandboxes))
	for _, s := range parsed.Sandboxes {
		active[s.ID] = true
	}
	return active, nil
}
