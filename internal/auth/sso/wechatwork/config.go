package wechatwork

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAuthorizeURL = "https://open.work.weixin.qq.com/wwopen/sso/qrConnect"
	defaultAPIBaseURL   = "https://qyapi.weixin.qq.com/cgi-bin"
)

// ErrMissingConfig reports that a required setting is empty.
var ErrMissingConfig = errors.New("wechat-work: missing required config")

// Config configures the WeChat Work provider. CorpID, AgentID and Secret are
// required and have no defaults.
type Config struct {
	CorpID       string
	AgentID      string
	Secret       string
	RedirectURL  string
	AuthorizeURL string
	APIBaseURL   string
	HTTPClient   *http.Client
}

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.CorpID) == "" {
		missing = append(missing, "corp id")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		missing = append(missing, "agent id")
	}
	if strings.TrimSpace(c.Secret) == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) normalized() Config {
	out := Config{
		CorpID:       strings.TrimSpace(c.CorpID),
		AgentID:      strings.TrimSpace(c.AgentID),
		Secret:       strings.TrimSpace(c.Secret),
		RedirectURL:  strings.TrimSpace(c.RedirectURL),
		AuthorizeURL: strings.TrimSpace(c.AuthorizeURL),
		APIBaseURL:   strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/"),
		HTTPClient:   c.HTTPClient,
	}
	if out.AuthorizeURL == "" {
		out.AuthorizeURL = defaultAuthorizeURL
	}
	if out.APIBaseURL == "" {
		out.APIBaseURL = defaultAPIBaseURL
	}
	return out
}
