package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if bs := cfg.Content.BlockSize; bs&(bs-1) != 0 {
		return fmt.Errorf("content.block_size: %d is not a power of two", bs)
	}

	if cfg.Content.MaxBytesInMemory != 0 && cfg.Content.MaxBytesInMemory < uint64(cfg.Content.BlockSize) {
		return fmt.Errorf("content.max_bytes_in_memory: must hold at least one block (%d bytes)", cfg.Content.BlockSize)
	}

	// Decode the selected spill section so typos fail at load time rather
	// than when the engine starts.
	switch cfg.Content.Spill.Type {
	case "fs":
		if _, err := decodeFSSpillOptions(cfg.Content.Spill); err != nil {
			return fmt.Errorf("content.spill.fs: %w", err)
		}
	case "badger":
		if _, err := decodeBadgerSpillOptions(cfg.Content.Spill); err != nil {
			return fmt.Errorf("content.spill.badger: %w", err)
		}
	}

	rl := cfg.Control.RateLimit
	if rl.Enabled && (rl.RequestsPerSecond == 0 || rl.Burst == 0) {
		return fmt.Errorf("control.rate_limit: requests_per_second and burst must be positive when enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
