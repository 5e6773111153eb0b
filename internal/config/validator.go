package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/archgraph/sentinel/internal/apperrors"
)

// ValidationContext specifies which components a command path depends on,
// so validation only demands what that path actually needs.
type ValidationContext string

const (
	// ValidationContextProvision - provisioning a tenant requires Neo4j and a store.
	ValidationContextProvision ValidationContext = "provision"
	// ValidationContextWorker - running the job worker pool requires Neo4j, a store, and Redis.
	ValidationContextWorker ValidationContext = "worker"
	// ValidationContextAll - validate every section.
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nwarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context, using c.Mode when
// it names a mode and the auto-detected mode otherwise.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	mode := DetectMode()
	switch strings.ToLower(c.Mode) {
	case "development", "dev":
		mode = ModeDevelopment
	case "packaged", "pkg", "production", "prod":
		mode = ModePackaged
	case "ci", "cicd":
		mode = ModeCI
	}
	return c.ValidateWithMode(ctx, mode)
}

// ValidateWithMode validates configuration for the given context and deployment mode.
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextProvision:
		c.validateNeo4j(result, true, mode)
		c.validateStorage(result, true, mode)
	case ValidationContextWorker:
		c.validateNeo4j(result, true, mode)
		c.validateStorage(result, true, mode)
		c.validateRedis(result, true)
		c.validateGitHub(result, false)
	case ValidationContextAll:
		c.validateNeo4j(result, true, mode)
		c.validateStorage(result, true, mode)
		c.validateRedis(result, true)
		c.validateGitHub(result, false)
	}

	return result
}

// ValidateOrFatal validates configuration and exits if invalid.
func (c *Config) ValidateOrFatal(ctx ValidationContext) {
	c.ValidateOrFatalWithMode(ctx, DetectMode())
}

// ValidateOrFatalWithMode validates configuration with an explicit mode and exits if invalid.
func (c *Config) ValidateOrFatalWithMode(ctx ValidationContext, mode DeploymentMode) {
	result := c.ValidateWithMode(ctx, mode)
	if result.HasErrors() {
		fmt.Println(result.Error())
		fmt.Printf("\ndeployment mode: %s (%s)\n", mode, mode.Description())
		panic(apperrors.ConfigError(result.Error()))
	}

	if len(result.Warnings) > 0 {
		fmt.Println("configuration warnings:")
		for _, warn := range result.Warnings {
			fmt.Printf("  - %s\n", warn)
		}
	}
}

func (c *Config) validateNeo4j(result *ValidationResult, required bool, mode DeploymentMode) {
	if c.Neo4j.URI == "" {
		if required {
			result.AddError("NEO4J_URI is required but not set")
		} else {
			result.AddWarning("NEO4J_URI is not set")
		}
	} else if _, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	} else if strings.Contains(c.Neo4j.URI, "localhost") && mode.RequiresSecureCredentials() {
		result.AddError("NEO4J_URI uses localhost; %s mode requires a remote database URI", mode)
	}

	if c.Neo4j.User == "" {
		result.AddWarning("NEO4J_USER is not set")
	}

	if c.Neo4j.Password == "" {
		if required {
			result.AddError("NEO4J_PASSWORD is required but not set")
		} else {
			result.AddWarning("NEO4J_PASSWORD is not set")
		}
	} else if mode.RequiresSecureCredentials() {
		for _, insecure := range []string{"password", "neo4j", "changeme"} {
			if c.Neo4j.Password == insecure {
				result.AddError("NEO4J_PASSWORD is set to an insecure default; not allowed in %s mode", mode)
			}
		}
	}
}

func (c *Config) validateStorage(result *ValidationResult, required bool, mode DeploymentMode) {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("POSTGRES_DSN is required when storage.type is postgres")
			return
		}
		if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("POSTGRES_DSN must start with postgres:// or postgresql://")
		}
		if strings.Contains(c.Storage.PostgresDSN, "sslmode=disable") && mode.RequiresSecureCredentials() {
			result.AddError("POSTGRES_DSN has sslmode=disable; not allowed in %s mode", mode)
		}
	case "sqlite":
		if c.Storage.LocalPath == "" {
			result.AddError("LOCAL_DB_PATH is required when storage.type is sqlite")
		}
	default:
		if required {
			result.AddError("storage.type must be \"postgres\" or \"sqlite\", got %q", c.Storage.Type)
		}
	}
}

func (c *Config) validateRedis(result *ValidationResult, required bool) {
	if c.Redis.Host == "" {
		if required {
			result.AddError("REDIS_HOST is required but not set")
		} else {
			result.AddWarning("REDIS_HOST is not set")
		}
	}
	if c.Redis.Port <= 0 {
		result.AddWarning("REDIS_PORT is invalid (%d); it is used as given, no default is substituted", c.Redis.Port)
	}
}

func (c *Config) validateGitHub(result *ValidationResult, required bool) {
	if c.GitHub.Token == "" {
		if required {
			result.AddError("GITHUB_TOKEN is required but not set")
		} else {
			result.AddWarning("GITHUB_TOKEN is not set; PR comment and check-run hooks will fail")
		}
	}
	if c.GitHub.RateLimit <= 0 {
		result.AddWarning("GITHUB_RATE_LIMIT is invalid, will use default (10 req/s)")
	}
}

// RequireNeo4j returns an error if Neo4j configuration is incomplete.
func (c *Config) RequireNeo4j() error {
	result := &ValidationResult{Valid: true}
	c.validateNeo4j(result, true, DetectMode())
	if result.HasErrors() {
		return apperrors.ConfigError(result.Error())
	}
	return nil
}

// RequireRedis returns an error if Redis configuration is incomplete.
func (c *Config) RequireRedis() error {
	result := &ValidationResult{Valid: true}
	c.validateRedis(result, true)
	if result.HasErrors() {
		return apperrors.ConfigError(result.Error())
	}
	return nil
}
