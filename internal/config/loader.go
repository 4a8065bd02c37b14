package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for zapgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("zapgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: ZAPGATE_UPSTREAM_BASE_URL etc.
	viper.SetEnvPrefix("ZAPGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a zapgate config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".zapgate"),
		"/etc/zapgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "zapgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable
// overrides of nested values.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.session_timeout")

	_ = viper.BindEnv("upstream.base_url")
	_ = viper.BindEnv("upstream.timeout")
	_ = viper.BindEnv("upstream.admin_token")

	_ = viper.BindEnv("cache.identity_ttl")
	_ = viper.BindEnv("cache.identity_max")

	_ = viper.BindEnv("impersonation.settle_delay")
	_ = viper.BindEnv("impersonation.max_duration")
	_ = viper.BindEnv("impersonation.mirror_path")
	_ = viper.BindEnv("impersonation.tenant_cache_ttl")

	_ = viper.BindEnv("store.sqlite_path")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfigRaw reads the configuration file and environment overrides
// without applying defaults or validating. Callers that need to layer
// CLI flags on top (the start command's --dev flag) do so before
// validation. A missing config file is not an error; pure
// environment-variable configuration is supported.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadConfig reads the configuration, applies defaults, and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
