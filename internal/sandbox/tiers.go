package sandbox

import (
	"time"

	"unideploy/pkg/models"
)

// TierResources is the resource band a tier maps to. Bands are ordered:
// every field of SEED is <= LAUNCH is <= SCALE.
type TierResources struct {
	CPUCores    float64
	MemoryBytes int64
	Timeout     time.Duration
}

var tierResources = map[string]TierResources{
	models.TierSeed: {
		CPUCores:    0.5,
		MemoryBytes: 512 * 1024 * 1024,
		Timeout:     600 * time.Second,
	},
	models.TierLaunch: {
		CPUCores:    1.0,
		MemoryBytes: 1024 * 1024 * 1024,
		Timeout:     1800 * time.Second,
	},
	models.TierScale: {
		CPUCores:    2.0,
		MemoryBytes: 2048 * 1024 * 1024,
		Timeout:     3600 * time.Second,
	},
}

// ResourcesFor returns the resource band for a tier. Unknown tiers get
// the SEED band.
func ResourcesFor(tier string) TierResources {
	if r, ok := tierResources[tier]; ok {
		return r
	}
	return tierResources[models.TierSeed]
}
