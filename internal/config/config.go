// Package config provides configuration types and loading for ZapGate.
//
// The schema is file-based and intentionally small: the gateway proxies a
// single upstream, so there is no per-route configuration, and tenant and
// session data live in their own stores rather than in the config file.
package config

import (
	"time"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the WhatsApp gateway to proxy to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Cache configures identity-resolution memoization.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Impersonation configures the superadmin impersonation overlay.
	Impersonation ImpersonationConfig `yaml:"impersonation" mapstructure:"impersonation"`

	// Store configures persistence for impersonation records and tenants.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is handled by a fronting reverse proxy.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// SessionTimeout is the duration before sessions expire (e.g., "30m").
	// Defaults to "30m".
	SessionTimeout string `yaml:"session_timeout" mapstructure:"session_timeout" validate:"omitempty"`
}

// UpstreamConfig configures the upstream WhatsApp gateway.
type UpstreamConfig struct {
	// BaseURL is the gateway base URL (e.g., "http://localhost:8081").
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// Timeout bounds each forwarded call (e.g., "15s"). Must parse to a
	// duration between 5s and 30s; validated at startup, not per request.
	// Defaults to "15s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// AdminToken is the admin-level upstream credential used for
	// non-impersonated admin-prefix calls. Optional: when empty, admin
	// calls require an active impersonation.
	AdminToken string `yaml:"admin_token" mapstructure:"admin_token"`
}

// CacheConfig configures the identity-resolution cache.
type CacheConfig struct {
	// IdentityTTL is how long a resolved session is memoized (e.g., "5s").
	// Defaults to "5s".
	IdentityTTL string `yaml:"identity_ttl" mapstructure:"identity_ttl" validate:"omitempty"`

	// IdentityMax bounds the number of memoized sessions.
	// Defaults to 1024.
	IdentityMax int `yaml:"identity_max" mapstructure:"identity_max" validate:"omitempty,min=1"`
}

// ImpersonationConfig configures the impersonation overlay.
type ImpersonationConfig struct {
	// SettleDelay is how long a successful start blocks before reporting
	// the impersonation fully active (e.g., "150ms"). Defaults to "150ms";
	// "0" disables the delay.
	SettleDelay string `yaml:"settle_delay" mapstructure:"settle_delay" validate:"omitempty"`

	// MaxDuration caps an impersonation session's lifetime (e.g., "4h").
	// Defaults to "4h"; "0" disables the cap.
	MaxDuration string `yaml:"max_duration" mapstructure:"max_duration" validate:"omitempty"`

	// MirrorPath is where the durable mirror file is written.
	// Defaults to "./impersonation-mirror.json".
	MirrorPath string `yaml:"mirror_path" mapstructure:"mirror_path"`

	// TenantCacheTTL is how long tenant lookups are memoized (e.g., "30s").
	// Defaults to "30s".
	TenantCacheTTL string `yaml:"tenant_cache_ttl" mapstructure:"tenant_cache_ttl" validate:"omitempty"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// SQLitePath is the database file for impersonation records and the
	// tenant directory. Empty selects the in-memory stores (dev/test).
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// Default values applied by SetDefaults.
const (
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultLogLevel        = "info"
	DefaultSessionTimeout  = "30m"
	DefaultUpstreamTimeout = "15s"
	DefaultIdentityTTL     = "5s"
	DefaultIdentityMax     = 1024
	DefaultSettleDelay     = "150ms"
	DefaultMaxDuration     = "4h"
	DefaultMirrorPath      = "./impersonation-mirror.json"
	DefaultTenantCacheTTL  = "30s"
)

// SetDefaults fills in defaults for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Server.SessionTimeout == "" {
		c.Server.SessionTimeout = DefaultSessionTimeout
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Cache.IdentityTTL == "" {
		c.Cache.IdentityTTL = DefaultIdentityTTL
	}
	if c.Cache.IdentityMax == 0 {
		c.Cache.IdentityMax = DefaultIdentityMax
	}
	if c.Impersonation.SettleDelay == "" {
		c.Impersonation.SettleDelay = DefaultSettleDelay
	}
	if c.Impersonation.MaxDuration == "" {
		c.Impersonation.MaxDuration = DefaultMaxDuration
	}
	if c.Impersonation.MirrorPath == "" {
		c.Impersonation.MirrorPath = DefaultMirrorPath
	}
	if c.Impersonation.TenantCacheTTL == "" {
		c.Impersonation.TenantCacheTTL = DefaultTenantCacheTTL
	}
}

// SetDevDefaults applies dev-mode overrides. Must run before Validate.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}
}

// UpstreamTimeout returns the parsed upstream timeout.
// Call after Validate.
func (c *Config) UpstreamTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Upstream.Timeout)
	return d
}

// SessionTimeout returns the parsed session timeout.
func (c *Config) SessionTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.SessionTimeout)
	return d
}

// IdentityTTL returns the parsed identity cache TTL.
func (c *Config) IdentityTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.IdentityTTL)
	return d
}

// SettleDelay returns the parsed impersonation settle delay.
func (c *Config) SettleDelay() time.Duration {
	d, _ := time.ParseDuration(c.Impersonation.SettleDelay)
	return d
}

// MaxImpersonationDuration returns the parsed impersonation cap.
func (c *Config) MaxImpersonationDuration() time.Duration {
	d, _ := time.ParseDuration(c.Impersonation.MaxDuration)
	return d
}

// TenantCacheTTL returns the parsed tenant cache TTL.
func (c *Config) TenantCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Impersonation.TenantCacheTTL)
	return d
}
