// Package cost tracks estimated spend for sandbox sessions in a local
// append-only JSON ledger.
package cost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"unideploy/internal/logging"
	"unideploy/pkg/models"
)

const (
	// Base hourly rate for a SEED sandbox; higher tiers multiply it.
	sandboxCostPerHour = 0.05

	// maxEvents bounds the ledger file; older events are truncated.
	maxEvents = 100
)

// Event is one cost entry.
type Event struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Duration  int     `json:"duration"`
	Tier      string  `json:"tier"`
	CostUSD   float64 `json:"cost_usd"`
	Timestamp string  `json:"timestamp"`
}

// Summary is the persisted ledger shape.
type Summary struct {
	TotalEstimatedUSD float64 `json:"total_estimated_usd"`
	Events            []Event `json:"events"`
}

// Ledger persists cost events to local storage. Writes take an exclusive
// process-level lock; the file is rewritten atomically on each append.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// NewLedger creates the ledger under storageDir, initializing the file
// if absent.
func NewLedger(storageDir string) (*Ledger, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	l := &Ledger{path: filepath.Join(storageDir, "cost_logs.json")}
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.write(&Summary{Events: []Event{}}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// LogSandboxUsage records a sandbox session and returns its estimated
// cost. LAUNCH doubles and SCALE quadruples the base rate.
func (l *Ledger) LogSandboxUsage(sandboxID string, durationSeconds int, tier string) float64 {
	cost := float64(durationSeconds) / 3600 * sandboxCostPerHour
	switch tier {
	case models.TierLaunch:
		cost *= 2
	case models.TierScale:
		cost *= 4
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	summary, err := l.read()
	if err != nil {
		logging.S().Warnw("cost ledger read failed", "error", err)
		summary = &Summary{Events: []Event{}}
	}

	summary.TotalEstimatedUSD += cost
	summary.Events = append(summary.Events, Event{
		Type:      "SANDBOX",
		ID:        sandboxID,
		Duration:  durationSeconds,
		Tier:      tier,
		CostUSD:   cost,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if len(summary.Events) > maxEvents {
		summary.Events = summary.Events[len(summary.Events)-maxEvents:]
	}

	if err := l.write(summary); err != nil {
		logging.S().Warnw("cost ledger write failed", "error", err)
	}
	return cost
}

// GetSummary returns the current ledger contents.
func (l *Ledger) GetSummary() (*Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Ledger) read() (*Summary, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *Ledger) write(s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
