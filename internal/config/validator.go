package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "remote.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// tagNameRegex validates configured protocol tag names
var tagNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateLocal()...)
	errors = append(errors, c.validateRemote()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateParser()...)
	errors = append(errors, c.validateDispatch()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBackend validates the BackendConfig
func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Backend.Kind) {
		errors = append(errors, ValidationError{
			Field:   "backend.kind",
			Value:   c.Backend.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	return errors
}

// validateLocal validates the LocalConfig
func (c *Config) validateLocal() []ValidationError {
	var errors []ValidationError

	if c.Backend.Kind == BackendLocal && c.Local.Shell == "" {
		errors = append(errors, ValidationError{
			Field:   "local.shell",
			Value:   c.Local.Shell,
			Message: "cannot be empty",
		})
	}
	if c.Local.UsePTY && (c.Local.PTYCols <= 0 || c.Local.PTYRows <= 0) {
		errors = append(errors, ValidationError{
			Field:   "local.pty_cols",
			Value:   fmt.Sprintf("%dx%d", c.Local.PTYCols, c.Local.PTYRows),
			Message: "pty dimensions must be positive when use_pty is enabled",
		})
	}

	return errors
}

// validateRemote validates the RemoteConfig
func (c *Config) validateRemote() []ValidationError {
	var errors []ValidationError

	if c.Backend.Kind == BackendRemote {
		if c.Remote.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "remote.base_url",
				Value:   c.Remote.BaseURL,
				Message: "is required when backend.kind is remote",
			})
		} else if u, err := url.Parse(c.Remote.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "remote.base_url",
				Value:   c.Remote.BaseURL,
				Message: "must be an absolute http(s) URL",
			})
		}
	}

	const maxAttemptsLimit = 10
	if c.Remote.MaxAttempts < 1 || c.Remote.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "remote.max_attempts",
			Value:   c.Remote.MaxAttempts,
			Message: fmt.Sprintf("must be between 1 and %d", maxAttemptsLimit),
		})
	}
	if c.Remote.InitialBackoffMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.initial_backoff_ms",
			Value:   c.Remote.InitialBackoffMs,
			Message: "must be non-negative",
		})
	}
	if c.Remote.BackoffMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "remote.backoff_multiplier",
			Value:   c.Remote.BackoffMultiplier,
			Message: "must be at least 1",
		})
	}

	const minPollInterval = 10
	if c.Remote.PollIntervalMs < minPollInterval {
		errors = append(errors, ValidationError{
			Field:   "remote.poll_interval_ms",
			Value:   c.Remote.PollIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minPollInterval),
		})
	}
	if c.Remote.QuickTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.quick_timeout_seconds",
			Value:   c.Remote.QuickTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Remote.LongTimeoutSeconds < c.Remote.QuickTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "remote.long_timeout_seconds",
			Value:   c.Remote.LongTimeoutSeconds,
			Message: "must be at least quick_timeout_seconds",
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.PollIntervalMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "watch.poll_interval_ms",
			Value:   c.Watch.PollIntervalMs,
			Message: "must be at least 10ms",
		})
	}
	for _, pattern := range c.Watch.Ignore {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   "watch.ignore",
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

// validateParser validates the ParserConfig
func (c *Config) validateParser() []ValidationError {
	var errors []ValidationError

	for field, value := range map[string]string{
		"parser.artifact_tag": c.Parser.ArtifactTag,
		"parser.action_tag":   c.Parser.ActionTag,
	} {
		if !tagNameRegex.MatchString(value) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   value,
				Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
			})
		}
	}
	if c.Parser.ArtifactTag != "" && c.Parser.ArtifactTag == c.Parser.ActionTag {
		errors = append(errors, ValidationError{
			Field:   "parser.action_tag",
			Value:   c.Parser.ActionTag,
			Message: "must differ from parser.artifact_tag",
		})
	}

	// Keep output deterministic regardless of map iteration order
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

// validateDispatch validates the DispatchConfig
func (c *Config) validateDispatch() []ValidationError {
	var errors []ValidationError

	if c.Dispatch.ShellTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.shell_timeout_seconds",
			Value:   c.Dispatch.ShellTimeoutSeconds,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
