package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaults lists every config key with its default value. Keys missing here
// are not bound to environment variables.
func defaults() map[string]any {
	return map[string]any{
		"log.level": "info",
		"log.file":  "",

		"server.addr":             ":8080",
		"server.allowed_origins":  []string{"http://localhost:3000"},
		"server.rate_limit_rps":   10.0,
		"server.rate_limit_burst": 20,
		"server.stream_interval":  2 * time.Second,
		"server.secure_cookies":   false,

		"auth.jwt_secret":        "",
		"auth.issuer":            "devconsole",
		"auth.access_token_ttl":  15 * time.Minute,
		"auth.refresh_token_ttl": 30 * 24 * time.Hour,
		"auth.state_ttl":         10 * time.Minute,
		"auth.database_url":      "",

		"wechat_work.corp_id":       "",
		"wechat_work.agent_id":      "",
		"wechat_work.secret":        "",
		"wechat_work.redirect_url":  "http://localhost:8080/api/auth/wechat-work/callback",
		"wechat_work.authorize_url": "",
		"wechat_work.api_base_url":  "",
		"wechat_work.timeout":       10 * time.Second,

		"panel.storage_path": defaultPanelStoragePath(),

		"inspect.database_url": "",
		"inspect.sample_rows":  20,
		"inspect.page_url":     "http://localhost:3000",
		"inspect.flags_file":   "flags.yaml",
		"inspect.timeout":      5 * time.Second,

		"observability.metrics.enabled":       true,
		"observability.tracing.enabled":       false,
		"observability.tracing.otlp_endpoint": "localhost:4318",
		"observability.tracing.sample_rate":   1.0,
		"observability.tracing.service_name":  "devconsole",
	}
}

func defaultPanelStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".devconsole", "panel.json")
	}
	return filepath.Join(home, ".devconsole", "panel.json")
}

// Load reads configuration into v from path (optional), the environment and
// whatever flags the caller already bound on v. A nil v uses a fresh viper.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	aliases := DefaultEnvAliases()
	keys := make([]string, 0, len(defaults()))
	for key, value := range defaults() {
		v.SetDefault(key, value)
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		names := append([]string{envName(key)}, aliases[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)
	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated value
// coming from the environment.
func splitOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}

// Validate checks values that would make the server misbehave.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.RateLimitRPS < 0 {
		problems = append(problems, "server.rate_limit_rps must not be negative")
	}
	if c.Server.StreamInterval <= 0 {
		problems = append(problems, "server.stream_interval must be positive")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.StateTTL <= 0 {
		problems = append(problems, "auth token and state TTLs must be positive")
	}
	if c.Inspect.SampleRows < 0 {
		problems = append(problems, "inspect.sample_rows must not be negative")
	}
	if rate := c.Observability.Tracing.SampleRate; rate < 0 || rate > 1 {
		problems = append(problems, "observability.tracing.sample_rate must be within [0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
