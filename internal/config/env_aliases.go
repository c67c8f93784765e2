package config

import "strings"

// EnvPrefix is the prefix for environment variables read by devconsole.
const EnvPrefix = "DEVCONSOLE"

// DefaultEnvAliases returns the extra environment variable names accepted for
// a config key, in addition to the prefixed DEVCONSOLE_* form.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"wechat_work.corp_id":    {"WECHAT_WORK_CORP_ID"},
		"wechat_work.agent_id":   {"WECHAT_WORK_AGENT_ID"},
		"wechat_work.secret":     {"WECHAT_WORK_SECRET"},
		"inspect.database_url":   {"DATABASE_URL"},
		"server.allowed_origins": {"CORS_ALLOWED_ORIGINS"},
		"auth.jwt_secret":        {"AUTH_JWT_SECRET"},
		"auth.database_url":      {"AUTH_DATABASE_URL"},
	}

	copy := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		copy[key] = append([]string(nil), list...)
	}
	return copy
}

// envName returns the prefixed environment variable for a config key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
