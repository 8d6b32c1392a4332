package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/seekd/seekd/pkg/users"
)

// Validate checks the configuration for errors beyond what defaults can
// fix: struct tag violations, malformed share roots, database settings, and
// group definitions.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			return fmt.Errorf("%s", formatValidationErrors(errs))
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	if _, err := cfg.Shares.CacheConfig(); err != nil {
		return fmt.Errorf("invalid share configuration: %w", err)
	}

	return validateGroups(&cfg.Uploads)
}

// validateGroups rejects user-defined groups that shadow the built-in
// groups or each other.
func validateGroups(uploads *UploadsConfig) error {
	builtin := map[string]bool{
		users.GroupPrivileged: true,
		users.GroupDefault:    true,
		users.GroupLeechers:   true,
	}

	seen := make(map[string]bool, len(uploads.Groups))
	for _, g := range uploads.Groups {
		name := strings.ToLower(g.Name)
		if builtin[name] {
			return fmt.Errorf("group %q collides with a built-in group", g.Name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		seen[name] = true
	}

	return nil
}

// formatValidationErrors turns validator errors into readable messages with
// config-file field paths.
func formatValidationErrors(errs validator.ValidationErrors) string {
	var sb strings.Builder
	for i, fe := range errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fieldPath(fe))
		sb.WriteString(": ")
		sb.WriteString(constraintMessage(fe))
	}
	return sb.String()
}

// fieldPath converts the validator namespace (Config.Logging.Level) into
// the YAML path the user wrote (logging.level).
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns)
}

func constraintMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
