package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTracking(&c.Tracking)...)
	errs = append(errs, validateEnforcement(&c.Enforcement)...)
	errs = append(errs, validateCategories(&c.Categories)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTracking(t *TrackingConfig) ValidationErrors {
	var errs ValidationErrors

	if t.HeartbeatSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "tracking.heartbeat_sec",
			Message: "must be at least 1",
		})
	}
	if t.CommitDebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "tracking.commit_debounce_ms",
			Message: "must not be negative",
		})
	}
	if t.IdleThresholdSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "tracking.idle_threshold_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateEnforcement(e *EnforcementConfig) ValidationErrors {
	var errs ValidationErrors

	if e.FastCheckSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "enforcement.fast_check_sec",
			Message: "must be at least 1",
		})
	}
	if e.SnoozeBufferMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "enforcement.snooze_buffer_ms",
			Message: "must not be negative",
		})
	}
	if e.BlockPagePath == "" {
		errs = append(errs, ValidationError{
			Field:   "enforcement.block_page_path",
			Message: "must not be empty",
		})
	}

	return errs
}

func validateCategories(c *CategoriesConfig) ValidationErrors {
	var errs ValidationErrors

	if c.BatchSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "categories.batch_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "must not be empty",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "required when output includes file",
		})
	}
	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "must not be empty",
		})
	}
	if i.Permissions != "" {
		if _, err := strconv.ParseUint(i.Permissions, 8, 32); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("not an octal mode: %q", i.Permissions),
			})
		}
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be at least 1",
		})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

// SocketMode parses the configured socket permissions.
func (i *IPCConfig) SocketMode() (uint32, error) {
	if i.Permissions == "" {
		return 0600, nil
	}
	mode, err := strconv.ParseUint(i.Permissions, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse socket permissions: %w", err)
	}
	return uint32(mode), nil
}
