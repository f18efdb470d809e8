package sandbox

import (
	"context"
	"fmt"
	"sync"

	"unideploy/internal/apperrors"
)

// MockProvider is an in-memory Provider for tests. All fields are
// optional; the zero value provisions successfully with generated ids.
type MockProvider struct {
	mu      sync.Mutex
	nextID  int
	active  map[string]bool
	created []CreateRequest
	killed  []string

	// CreateErr, when set, fails every Create call.
	CreateErr error
	// VerifyResult overrides the default passing verification.
	VerifyResponse *VerifyResult
	// BaseURL prefixes generated instance URLs.
	BaseURL string
}

// NewMockProvider returns an empty mock fleet.
func NewMockProvider() *MockProvider {
	return &MockProvider{active: make(map[string]bool)}
}

func (m *MockProvider) Create(_ context.Context, req CreateRequest) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if req.OnStdout != nil {
		req.OnStdout("mock: build started")
		req.OnStdout("mock: build finished")
	}

	m.nextID++
	id := fmt.Sprintf("mock-sbx-%d", m.nextID)
	m.active[id] = true
	m.created = append(m.created, req)
	return &Instance{ID: id, Status: "running", URL: m.BaseURL + "/" + id}, nil
}

func (m *MockProvider) Kill(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	m.killed = append(m.killed, id)
	return nil
}

func (m *MockProvider) Connect(_ context.Context, id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[id] {
		return nil, apperrors.NotFound("sandbox not found")
	}
	return &Instance{ID: id, Status: "running", URL: m.BaseURL + "/" + id}, nil
}

func (m *MockProvider) Verify(_ context.Context, _, _, _, _ string) (*VerifyResult, error) {
	if m.VerifyResponse != nil {
		return m.VerifyResponse, nil
	}
	return &VerifyResult{Status: "passed", Output: "ok"}, nil
}

func (m *MockProvider) ListActive(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.active))
	for id := range m.active {
		out[id] = true
	}
	return out, nil
}

// SetActive force-marks a sandbox id active or inactive, letting tests
// simulate fleet drift.
func (m *MockProvider) SetActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.active[id] = true
	} else {
		delete(m.active, id)
	}
}

// Killed returns the ids killed so far.
func (m *MockProvider) Killed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.killed...)
}

// Created returns the create requests observed so far.
func (m *MockProvider) Created() []CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreateRequest(nil), m.created...)
}
