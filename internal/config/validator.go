package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Upstream timeout bounds. A timeout below the floor fails fast on slow
// but healthy upstreams; one above the ceiling holds request slots open
// too long under an outage.
const (
	MinUpstreamTimeout = 5 * time.Second
	MaxUpstreamTimeout = 30 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors. Struct tags cover shape;
// cross-field rules cover the duration fields, which are strings so the
// YAML stays human-writable ("15s", "4h").
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	timeout, err := time.ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return fmt.Errorf("upstream.timeout %q is not a duration: %w", c.Upstream.Timeout, err)
	}
	if timeout < MinUpstreamTimeout || timeout > MaxUpstreamTimeout {
		return fmt.Errorf("upstream.timeout %s out of range [%s, %s]",
			timeout, MinUpstreamTimeout, MaxUpstreamTimeout)
	}

	for _, field := range []struct {
		name    string
		value   string
		nonNeg  bool
		nonZero bool
	}{
		{"server.session_timeout", c.Server.SessionTimeout, true, true},
		{"cache.identity_ttl", c.Cache.IdentityTTL, true, true},
		{"impersonation.settle_delay", c.Impersonation.SettleDelay, true, false},
		{"impersonation.max_duration", c.Impersonation.MaxDuration, true, false},
		{"impersonation.tenant_cache_ttl", c.Impersonation.TenantCacheTTL, true, true},
	} {
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return fmt.Errorf("%s %q is not a duration: %w", field.name, field.value, err)
		}
		if field.nonNeg && d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", field.name, d)
		}
		if field.nonZero && d == 0 {
			return fmt.Errorf("%s must be positive, got %s", field.name, d)
		}
	}

	return nil
}

// formatValidationErrors renders validator errors as one readable line
// per field.
func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", fe.Namespace()))
		case "hostname_port":
			msgs = append(msgs, fmt.Sprintf("%s must be host:port", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Namespace(), fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
