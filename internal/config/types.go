package config

import "time"

// Config is the complete devconsole configuration.
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	WeChatWork    WeChatWorkConfig    `mapstructure:"wechat_work"`
	Panel         PanelConfig         `mapstructure:"panel"`
	Inspect       InspectConfig       `mapstructure:"inspect"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// LogConfig configures the component logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ServerConfig configures the JSON API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
}

// AuthConfig configures sessions and OAuth state.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	StateTTL        time.Duration `mapstructure:"state_ttl"`
	// DatabaseURL switches users, sessions and OAuth state to Postgres.
	DatabaseURL string `mapstructure:"database_url"`
}

// WeChatWorkConfig configures the WeChat Work identity provider.
type WeChatWorkConfig struct {
	CorpID       string        `mapstructure:"corp_id"`
	AgentID      string        `mapstructure:"agent_id"`
	Secret       string        `mapstructure:"secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	AuthorizeURL string        `mapstructure:"authorize_url"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Configured reports whether any of the required provider fields were set.
// A partially configured provider is still reported so validation can name
// the missing fields.
func (c WeChatWorkConfig) Configured() bool {
	return c.CorpID != "" || c.AgentID != "" || c.Secret != ""
}

// PanelConfig configures the float panel.
type PanelConfig struct {
	StoragePath string `mapstructure:"storage_path"`
}

// InspectConfig configures the built-in inspectors.
type InspectConfig struct {
	DatabaseURL string        `mapstructure:"database_url"`
	SampleRows  int           `mapstructure:"sample_rows"`
	PageURL     string        `mapstructure:"page_url"`
	FlagsFile   string        `mapstructure:"flags_file"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}
