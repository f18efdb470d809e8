package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	"unideploy/internal/logging"
)

// Minimum strength required for production credentials.
const (
	minJWTSecretLength = 32
	minJWTEntropyBits  = 128
)

// SecretRequirement is one credential the platform needs, with its
// validation rule.
type SecretRequirement struct {
	Name      string
	EnvVar    string
	Required  bool // required in production
	Validator func(string) error
}

// ValidationError aggregates everything wrong with the environment so an
// operator can fix it in one pass.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return "secret validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) hasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

func secretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			Name:      "JWT signing secret",
			EnvVar:    "AUTH_JWT_SECRET",
			Required:  false, // AUTH_VERIFY_URL is the alternative
			Validator: validateJWTSecret,
		},
		{
			Name:      "database url",
			EnvVar:    "DATABASE_URL",
			Required:  false, // individual PG vars or SQLITE_PATH also work
			Validator: validateDatabaseURL,
		},
	}
}

// ValidateSecrets checks the credential environment before the server
// starts. In production every violation is fatal; elsewhere violations
// are logged and tolerated so local setups stay frictionless.
func ValidateSecrets(cfg *Config) error {
	verr := &ValidationError{}

	for _, req := range secretRequirements() {
		value := os.Getenv(req.EnvVar)
		if value == "" {
			if req.Required {
				verr.Missing = append(verr.Missing, req.EnvVar)
			}
			continue
		}
		if err := req.Validator(value); err != nil {
			verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s (%v)", req.EnvVar, err))
		}
	}

	if cfg.Environment == "production" && cfg.AuthJWTSecret == "" && cfg.AuthVerifyURL == "" {
		verr.Missing = append(verr.Missing, "AUTH_JWT_SECRET or AUTH_VERIFY_URL")
	}

	if !verr.hasErrors() {
		return nil
	}
	if cfg.Environment != "production" {
		logging.S().Warnw("secret validation issues tolerated outside production",
			"missing", verr.Missing, "invalid", verr.Invalid)
		return nil
	}
	return verr
}

func validateJWTSecret(secret string) error {
	if len(secret) < minJWTSecretLength {
		return fmt.Errorf("must be at least %d characters", minJWTSecretLength)
	}
	if bits := estimateEntropyBits(secret); bits < minJWTEntropyBits {
		return fmt.Errorf("too predictable (~%.0f bits of entropy, need %d)", bits, minJWTEntropyBits)
	}
	return nil
}

func validateDatabaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// estimateEntropyBits approximates Shannon entropy of the secret, scaled
// by its length. Crude, but catches "password123"-grade keys.
func estimateEntropyBits(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	var perChar float64
	for _, count := range freq {
		p := float64(count) / n
		perChar -= p * math.Log2(p)
	}
	return perChar * n
}
