// Package config loads control-plane configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunable limits and collaborator endpoints.
type Config struct {
	Port        string
	Environment string

	// Platform safety limits
	DailyRuntimeLimitMins int
	PlatformMaxRunning    int
	MaxConcurrentBuilds   int
	MaxUploadBytes        int64
	IdleTimeout           time.Duration
	ReadOnly              bool

	// Maintenance loop
	ReconcileInterval   time.Duration
	HealthProbeInterval time.Duration
	TickMinutes         int

	// HTTP surface
	AllowedOrigins []string
	PublicSuffix   string

	// Workspace roots
	WorkDir    string
	StorageDir string

	// LocalImageBuild switches on the Docker-backed image builder;
	// otherwise image building is delegated to the sandbox provider.
	LocalImageBuild bool

	// Collaborator endpoints and credentials (opaque to the core)
	SandboxAPIURL  string
	SandboxAPIKey  string
	GatewayURL     string
	AIBaseURL      string
	AIAPIKey       string
	AIModel        string
	VectorIndexURL string
	VectorIndexKey string
	WisdomURL      string
	WisdomKey      string
	AuthJWTSecret  string
	AuthVerifyURL  string
	RedisURL       string
}

// Load reads configuration from the environment, applying spec defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DailyRuntimeLimitMins: getEnvInt("DAILY_RUNTIME_LIMIT_MINS", 60),
		PlatformMaxRunning:    getEnvInt("PLATFORM_MAX_RUNNING", 40),
		MaxConcurrentBuilds:   getEnvInt("MAX_CONCURRENT_BUILDS", 5),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		IdleTimeout:           time.Duration(getEnvInt("IDLE_TIMEOUT_SECS", 900)) * time.Second,
		ReadOnly:              getEnvBool("READ_ONLY", false),

		ReconcileInterval:   time.Duration(getEnvInt("RECONCILE_INTERVAL_SECS", 120)) * time.Second,
		HealthProbeInterval: time.Duration(getEnvInt("HEALTH_PROBE_INTERVAL_SECS", 300)) * time.Second,
		TickMinutes:         getEnvInt("RECONCILE_TICK_MINUTES", 2),

		AllowedOrigins: splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		PublicSuffix:   getEnv("PUBLIC_SUFFIX", "unideploy.in"),

		WorkDir:    getEnv("WORK_DIR", "temp"),
		StorageDir: getEnv("STORAGE_DIR", "local_storage"),

		LocalImageBuild: getEnvBool("BUILD_LOCAL_IMAGES", false),

		SandboxAPIURL:  getEnv("SANDBOX_API_URL", ""),
		SandboxAPIKey:  getEnv("SANDBOX_API_KEY", ""),
		GatewayURL:     getEnv("GATEWAY_URL", "http://localhost:3001"),
		AIBaseURL:      getEnv("AI_BASE_URL", ""),
		AIAPIKey:       getEnv("AI_API_KEY", ""),
		AIModel:        getEnv("AI_MODEL", "llama-3.3-70b-versatile"),
		VectorIndexURL: getEnv("VECTOR_INDEX_URL", ""),
		VectorIndexKey: getEnv("VECTOR_INDEX_KEY", ""),
		WisdomURL:      getEnv("WISDOM_URL", ""),
		WisdomKey:      getEnv("WISDOM_KEY", ""),
		AuthJWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
		AuthVerifyURL:  getEnv("AUTH_VERIFY_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
	}
}

// IsReadOnly re-reads the READ_ONLY flag so operators can flip it on a
// running deployment without a restart.
func (c *Config) IsReadOnly() bool {
	if v, ok := os.LookupEnv("READ_ONLY"); ok {
		return strings.EqualFold(v, "true")
	}
	return c.ReadOnly
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
