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
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
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
	if !cfg.Adapters.Transfer.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	rl := cfg.Adapters.Transfer.RateLimit
	if rl.Enabled && rl.RequestsPerSecond == 0 {
		return fmt.Errorf("adapters.transfer.rate_limit: requests_per_second must be > 0 when enabled")
	}

	if cfg.Staging.Type == "filesystem" && cfg.Permanent.Type == "filesystem" {
		staging, _ := cfg.Staging.Filesystem["path"].(string)
		permanent, _ := cfg.Permanent.Filesystem["path"].(string)
		if staging != "" && staging == permanent {
			return fmt.Errorf("staging and permanent must not share the filesystem path %q", staging)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Adapters.Transfer.Port {
		return fmt.Errorf("metrics.port %d collides with adapters.transfer.port", cfg.Metrics.Port)
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
