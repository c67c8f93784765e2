package wechatwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/ports"
	"devconsole/internal/httpclient"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

const (
	httpTimeout     = 10 * time.Second
	maxResponseBody = int64(1 << 20) // 1 MiB
	serviceName     = "wechat-work"
)

// ErrNotCorpMember reports a code that resolved to a visitor outside the corp.
var ErrNotCorpMember = errors.New("wechat-work: user is not a member of the corp")

// Provider speaks the WeChat Work (enterprise WeChat) SSO dialect.
type Provider struct {
	cfg     Config
	client  *http.Client
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option customises a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Provider) { p.logger = logging.OrNop(logger) }
}

// WithMetrics records one counter per exchange step.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Provider) { p.metrics = metrics }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Provider) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// New validates cfg and builds the provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		cfg:    cfg.normalized(),
		logger: logging.Nop(),
		tracer: observability.Tracer("devconsole/auth/sso/wechatwork"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = p.cfg.HTTPClient
	if p.client == nil {
		p.client = httpclient.New(httpTimeout, p.logger)
	}
	return p, nil
}

// Provider implements ports.OAuthProvider.
func (p *Provider) Provider() domain.ProviderType {
	return domain.ProviderWeChatWork
}

// BuildAuthURL returns the QR-code login page for the given state.
func (p *Provider) BuildAuthURL(state string) (string, error) {
	if p.cfg.RedirectURL == "" {
		return "", fmt.Errorf("wechat-work: redirect url is not configured")
	}
	u, err := url.Parse(p.cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("wechat-work: parse authorize url: %w", err)
	}
	q := u.Query()
	q.Set("appid", p.cfg.CorpID)
	q.Set("agentid", p.cfg.AgentID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	q.Set("state", state)
	q.Set("response_type", "code")
	q.Set("scope", "snsapi_base")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange turns an authorization code into the member identity. It calls
// gettoken, getuserinfo and user/get in order and stops at the first
// response whose errcode is not zero.
func (p *Provider) Exchange(ctx context.Context, code string) (ports.OAuthUserInfo, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ports.OAuthUserInfo{}, fmt.Errorf("wechat-work: authorization code is required")
	}

	ctx, span := p.tracer.Start(ctx, observability.SpanSSOExchange,
		trace.WithAttributes(attribute.String(observability.AttrProvider, serviceName)))
	defer span.End()

	token, err := p.fetchAccessToken(ctx)
	if err != nil {
		return ports.OAuthUserInfo{}, failSpan(span, err)
	}
	userID, err := p.fetchUserID(ctx, token.AccessToken, code)
	if err != nil {
		return ports.OAuthUserInfo{}, failSpan(span, err)
	}
	profile, err := p.fetchProfile(ctx, token.AccessToken, userID)
	if err != nil {
		return ports.OAuthUserInfo{}, failSpan(span, err)
	}

	info := MapProfile(profile)
	info.Token = token
	p.logger.Debug("wechat-work: resolved member %s", info.ProviderID)
	return info, nil
}

func (p *Provider) fetchAccessToken(ctx context.Context) (*oauth2.Token, error) {
	var resp tokenResponse
	if err := p.call(ctx, StepGetToken, "gettoken", url.Values{
		"corpid":     {p.cfg.CorpID},
		"corpsecret": {p.cfg.Secret},
	}, &resp, &resp.status); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("wechat-work: gettoken response missing access_token")
	}
	token := &oauth2.Token{AccessToken: resp.AccessToken, TokenType: "Bearer"}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return token, nil
}

func (p *Provider) fetchUserID(ctx context.Context, accessToken, code string) (string, error) {
	var resp userInfoResponse
	if err := p.call(ctx, StepGetUserInfo, "user/getuserinfo", url.Values{
		"access_token": {accessToken},
		"code":         {code},
	}, &resp, &resp.status); err != nil {
		return "", err
	}
	userID := resp.userID()
	if userID == "" {
		if resp.OpenID != "" {
			return "", ErrNotCorpMember
		}
		return "", fmt.Errorf("wechat-work: getuserinfo response missing UserId")
	}
	return userID, nil
}

func (p *Provider) fetchProfile(ctx context.Context, accessToken, userID string) (Profile, error) {
	var resp userDetailResponse
	if err := p.call(ctx, StepGetUser, "user/get", url.Values{
		"access_token": {accessToken},
		"userid":       {userID},
	}, &resp, &resp.status); err != nil {
		return Profile{}, err
	}
	if resp.UserID == "" {
		resp.UserID = userID
	}
	return resp.Profile, nil
}

// call performs one GET against the vendor API, decodes the body into out and
// turns a non-zero errcode into an *APIError.
func (p *Provider) call(ctx context.Context, step, path string, query url.Values, out any, st *status) (err error) {
	ctx, span := p.tracer.Start(ctx, observability.SpanSSOStep,
		trace.WithAttributes(
			attribute.String(observability.AttrProvider, serviceName),
			attribute.String(observability.AttrStep, step),
		))
	defer func() {
		p.metrics.RecordSSOStep(serviceName, step, outcome(err))
		if err != nil {
			failSpan(span, err)
		}
		span.End()
	}()

	endpoint := p.cfg.APIBaseURL + "/" + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("wechat-work: build %s request: %w", step, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("wechat-work: %s request failed: %w", step, redactURLError(err))
	}
	body, err := httpclient.Upstream{Service: serviceName, Step: step, Limit: maxResponseBody}.ReadBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("wechat-work: decode %s response: %w", step, err)
	}
	span.SetAttributes(attribute.Int(observability.AttrErrCode, st.ErrCode))
	if apiErr := st.errorFor(step); apiErr != nil {
		p.logger.Warn("wechat-work: %s rejected: errcode=%d errmsg=%s", step, st.ErrCode, st.ErrMsg)
		return apiErr
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return observability.OutcomeSuccess
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) || errors.Is(err, ErrNotCorpMember) {
		return observability.OutcomeRejected
	}
	return observability.OutcomeError
}

// redactURLError masks corpsecret and access_token in the request URL that
// net/http embeds in transport errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = logging.Redact(urlErr.URL)
	}
	return err
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, logging.Redact(err.Error()))
	return err
}

var _ ports.OAuthProvider = (*Provider)(nil)
