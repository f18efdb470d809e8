package cost

import (
	"testing"

	"unideploy/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierMultipliers(t *testing.T) {
	l, err := NewLedger(t.TempDir())
	require.NoError(t, err)

	base := l.LogSandboxUsage("sbx-seed", 3600, models.TierSeed)
	launch := l.LogSandboxUsage("sbx-launch", 3600, models.TierLaunch)
	scale := l.LogSandboxUsage("sbx-scale", 3600, models.TierScale)

	assert.InDelta(t, 0.05, base, 1e-9)
	assert.InDelta(t, 0.10, launch, 1e-9)
	assert.InDelta(t, 0.20, scale, 1e-9)

	summary, err := l.GetSummary()
	require.NoError(t, err)
	assert.InDelta(t, 0.35, summary.TotalEstimatedUSD, 1e-9)
	assert.Len(t, summary.Events, 3)
}

func TestLedgerTruncatesToMaxEvents(t *testing.T) {
	l, err := NewLedger(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < maxEvents+20; i++ {
		l.LogSandboxUsage("sbx", 60, models.TierSeed)
	}

	summary, err := l.GetSummary()
	require.NoError(t, err)
	assert.Len(t, summary.Events, maxEvents)
	// The running total survives truncation.
	assert.Greater(t, summary.TotalEstimatedUSD, 0.0)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLedger(dir)
	require.NoError(t, err)
	l.LogSandboxUsage("sbx-1", 120, models.TierSeed)

	reopened, err := NewLedger(dir)
	require.NoError(t, err)
	summary, err := reopened.GetSummary()
	require.NoError(t, err)
	require.Len(t, summary.Events, 1)
	assert.Equal(t, "sbx-1", summary.Events[0].ID)
	assert.Equal(t, 120, summary.Events[0].Duration)
}
