package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devconsole/internal/auth/adapters"
	authapp "devconsole/internal/auth/app"
	"devconsole/internal/auth/crypto"
	"devconsole/internal/auth/ports"
	"devconsole/internal/auth/sso/wechatwork"
	"devconsole/internal/config"
	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
	"devconsole/internal/devpanel/storage"
	apperrors "devconsole/internal/errors"
	"devconsole/internal/httpclient"
	"devconsole/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type vendorStub struct {
	mu        sync.Mutex
	responses map[string]string
}

func newVendorStub() *vendorStub {
	return &vendorStub{responses: map[string]string{
		"/gettoken":         `{"errcode":0,"errmsg":"ok","access_token":"vendor-access","expires_in":7200}`,
		"/user/getuserinfo": `{"errcode":0,"errmsg":"ok","UserId":"zhangsan"}`,
		"/user/get":         `{"errcode":0,"errmsg":"ok","userid":"zhangsan","name":"Zhang San","email":"zhangsan@corp.example","status":1,"enable":1}`,
	}}
}

func (v *vendorStub) set(path, body string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responses[path] = body
}

func (v *vendorStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	body, ok := v.responses[r.URL.Path]
	v.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

type stubInspector struct {
	key   string
	icon  string
	err   error
	mu    sync.Mutex
	query map[string]string
}

func (s *stubInspector) Key() string  { return s.key }
func (s *stubInspector) Icon() string { return s.icon }

func (s *stubInspector) Inspect(ctx context.Context) (inspect.View, error) {
	return s.InspectQuery(ctx, nil)
}

func (s *stubInspector) InspectQuery(_ context.Context, query map[string]string) (inspect.View, error) {
	s.mu.Lock()
	s.query = query
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return inspect.View{}, err
	}
	return inspect.View{Title: s.key, Sections: []inspect.Section{{
		Title:  "Summary",
		Fields: []inspect.Field{{Name: "table", Value: query["table"]}},
	}}}, nil
}

func (s *stubInspector) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type testEnv struct {
	router *gin.Engine
	vendor *vendorStub
	store  *storage.MemoryStore
	panel  *panel.Panel
	broken *stubInspector
}

type envOptions struct {
	withoutAuth bool
	server      config.ServerConfig
}

func newTestEnv(t *testing.T, opts envOptions) testEnv {
	t.Helper()
	env := testEnv{vendor: newVendorStub(), store: storage.NewMemoryStore()}

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	var service *authapp.Service
	if !opts.withoutAuth {
		vendorSrv := httptest.NewServer(env.vendor)
		t.Cleanup(vendorSrv.Close)
		provider, err := wechatwork.New(wechatwork.Config{
			CorpID:      "ww-corp",
			AgentID:     "1000002",
			Secret:      "corp-secret",
			RedirectURL: "https://console.example.test/api/auth/wechat-work/callback",
			APIBaseURL:  vendorSrv.URL,
			HTTPClient:  vendorSrv.Client(),
		})
		require.NoError(t, err)

		users, identities, sessions, states := adapters.NewMemoryStores()
		tokens := adapters.NewJWTTokenManager("secret", "devconsole-test", 15*time.Minute).
			WithHashParams(crypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1})
		service = authapp.NewService(users, identities, sessions, tokens, states,
			[]ports.OAuthProvider{provider}, authapp.Config{}, nil)
	}

	registry := inspect.NewRegistry(inspect.WithRegistryMetrics(metrics))
	env.broken = &stubInspector{key: "Broken Viewer", icon: "bug", err: errors.New("sampling failed")}
	require.NoError(t, registry.Register(&stubInspector{key: "Postgres Viewer", icon: "database"}))
	require.NoError(t, registry.Register(env.broken))

	env.panel, err = panel.New(registry.Items(), env.store)
	require.NoError(t, err)

	env.router = NewRouter(RouterDeps{
		Config:   opts.server,
		Auth:     service,
		Panel:    env.panel,
		Registry: registry,
		Metrics:  metrics,
	})
	return env
}

func (e testEnv) do(t *testing.T, method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login walks the OAuth flow and returns the callback response.
func (e testEnv) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	start := e.do(t, http.MethodGet, "/api/auth/wechat-work/login", "")
	require.Equal(t, http.StatusOK, start.Code, start.Body.String())
	state := decode(t, start)["state"].(string)
	require.NotEmpty(t, state)
	return e.do(t, http.MethodGet, "/api/auth/wechat-work/callback?code=auth-code&state="+url.QueryEscape(state), "")
}

func TestHealthReportsProvidersAndInspectors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"wechat-work"}, body["providers"])
	assert.EqualValues(t, 2, body["inspectors"])
}

func TestMetricsEndpointExposesHTTPRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodGet, "/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devconsole_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestOAuthStartReturnsAuthorizeURL(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/auth/wechat-work/login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	authURL, err := url.Parse(body["url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "ww-corp", authURL.Query().Get("appid"))
	assert.Equal(t, body["state"], authURL.Query().Get("state"))

	redirect := env.do(t, http.MethodGet, "/api/auth/wechat-work/login?redirect=1", "")
	assert.Equal(t, http.StatusFound, redirect.Code)
	assert.Contains(t, redirect.Header().Get("Location"), "appid=ww-corp")
}

func TestOAuthStartUnknownProvider(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/auth/github/login", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOAuthSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	callback := env.login(t)
	require.Equal(t, http.StatusOK, callback.Code, callback.Body.String())
	body := decode(t, callback)
	user := body["user"].(map[string]any)
	assert.Equal(t, "Zhang San", user["display_name"])
	assert.Equal(t, "zhangsan@corp.example", user["email"])
	access := body["access_token"].(string)
	require.NotEmpty(t, access)

	cookies := callback.Result().Cookies()
	require.NotNil(t, cookieNamed(cookies, accessCookieName))
	refresh := cookieNamed(cookies, refreshCookieName)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, "/api/auth", refresh.Path)

	me := env.do(t, http.MethodGet, "/api/auth/me", "", withBearer(access))
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "Zhang San", decode(t, me)["display_name"])

	state := env.do(t, http.MethodGet, "/api/devpanel/state", "", withCookies(cookies))
	assert.Equal(t, http.StatusOK, state.Code)

	refreshed := env.do(t, http.MethodPost, "/api/auth/refresh", "", withCookies([]*http.Cookie{refresh}))
	require.Equal(t, http.StatusOK, refreshed.Code, refreshed.Body.String())
	rotated := cookieNamed(refreshed.Result().Cookies(), refreshCookieName)
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	// The previous refresh token was rotated out.
	stale := env.do(t, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"`+refresh.Value+`"}`)
	assert.Equal(t, http.StatusUnauthorized, stale.Code)

	logout := env.do(t, http.MethodPost, "/api/auth/logout", "", withCookies([]*http.Cookie{rotated}))
	assert.Equal(t, http.StatusNoContent, logout.Code)

	again := env.do(t, http.MethodPost, "/api/auth/refresh", "", withCookies([]*http.Cookie{rotated}))
	assert.Equal(t, http.StatusUnauthorized, again.Code)

	// Logging out twice is harmless.
	logout = env.do(t, http.MethodPost, "/api/auth/logout", "", withCookies([]*http.Cookie{rotated}))
	assert.Equal(t, http.StatusNoContent, logout.Code)
}

func TestOAuthCallbackServesHTMLToBrowsers(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	start := env.do(t, http.MethodGet, "/api/auth/wechat-work/login", "")
	state := decode(t, start)["state"].(string)
	rec := env.do(t, http.MethodGet, "/api/auth/wechat-work/callback?code=auth-code&state="+url.QueryEscape(state), "",
		func(r *http.Request) { r.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9") })

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Login complete")
	assert.NotNil(t, cookieNamed(rec.Result().Cookies(), accessCookieName))
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/auth/wechat-work/callback?code=auth-code&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/wechat-work/callback?state=forged", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing code/state", decode(t, rec)["error"])
}

func TestOAuthCallbackSurfacesVendorMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.vendor.set("/user/getuserinfo", `{"errcode":40029,"errmsg":"invalid code"}`)

	rec := env.login(t)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "invalid code", body["error"])
	assert.Equal(t, wechatwork.StepGetUserInfo, body["step"])
	assert.EqualValues(t, 40029, body["errcode"])
	assert.Nil(t, cookieNamed(rec.Result().Cookies(), accessCookieName))
}

func TestOAuthCallbackOversizedVendorBodyIsBadGateway(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.vendor.set("/user/get", `{"errcode":0,"name":"`+strings.Repeat("x", 1<<20)+`"}`)

	rec := env.login(t)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "identity provider unavailable", decode(t, rec)["error"])
}

func TestOAuthCallbackRejectsNonMembers(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.vendor.set("/user/getuserinfo", `{"errcode":0,"errmsg":"ok","OpenId":"outsider"}`)

	rec := env.login(t)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMeRequiresToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/auth/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/auth/me", "", withBearer("garbage")).Code)
}

func TestDevPanelRequiresAuthWhenConfigured(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/devpanel/state", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevPanelStateRoundTrip(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})

	rec := env.do(t, http.MethodGet, "/api/devpanel/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state panel.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "Postgres Viewer", state.Tab)
	assert.False(t, state.Expanded)
	assert.Equal(t, panel.DefaultPosition, state.Position)

	rec = env.do(t, http.MethodPut, "/api/devpanel/state",
		`{"tab":"Broken Viewer","expanded":true,"size":{"width":400,"height":900},"position":{"x":20,"y":30}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "Broken Viewer", state.Tab)
	assert.True(t, state.Expanded)
	assert.Equal(t, panel.Size{Width: panel.MinWidth, Height: 900}, state.Size)
	assert.Equal(t, panel.Position{X: 20, Y: 30}, state.Position)

	stored, ok, err := env.store.Get(panel.SizeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"width":800,"height":900}`, stored)
	stored, ok, err = env.store.Get(panel.PositionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":20,"y":30}`, stored)
}

func TestDevPanelStateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/devpanel/state", `{"tab":"Nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/devpanel/state", `{"tab":`).Code)
	assert.Equal(t, "Postgres Viewer", env.panel.Snapshot().Tab)
}

func TestListInspectorsIncludesSlugs(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})

	rec := env.do(t, http.MethodGet, "/api/devpanel/inspectors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"inspectors":[
		{"key":"Postgres Viewer","icon":"database","slug":"postgres-viewer"},
		{"key":"Broken Viewer","icon":"bug","slug":"broken-viewer"}
	]}`, rec.Body.String())
}

func TestInspectResolvesKeysAndSlugs(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})

	rec := env.do(t, http.MethodGet, "/api/devpanel/inspectors/postgres-viewer?table=public.users", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view inspect.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Postgres Viewer", view.Key)
	require.Len(t, view.Sections, 1)
	assert.Equal(t, "public.users", view.Sections[0].Fields[0].Value)

	rec = env.do(t, http.MethodGet, "/api/devpanel/inspectors/"+url.PathEscape("Postgres Viewer"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInspectErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})

	rec := env.do(t, http.MethodGet, "/api/devpanel/inspectors/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/devpanel/inspectors/broken-viewer", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "sampling failed")

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: seo url must be on https://app.example.test", inspect.ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("inspect: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{&apperrors.StatusError{Service: "seo example.com", StatusCode: http.StatusNotFound}, http.StatusBadGateway},
		{&httpclient.BodyTooLargeError{Service: "seo", Step: "example.com", Limit: 1}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		env.broken.setErr(tc.err)
		rec = env.do(t, http.MethodGet, "/api/devpanel/inspectors/broken-viewer", "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true, server: config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 2}})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/devpanel/state", "").Code)
	}
	rec := env.do(t, http.MethodGet, "/api/devpanel/state", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
}

func TestInspectorStreamSendsFrames(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/devpanel/inspectors/postgres-viewer/stream?table=public.orders&interval=500ms"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 2; i++ {
		var frame streamFrame
		require.NoError(t, conn.ReadJSON(&frame))
		require.NotNil(t, frame.View)
		assert.Equal(t, "Postgres Viewer", frame.View.Key)
		assert.Equal(t, "public.orders", frame.View.Sections[0].Fields[0].Value)
	}
}

func TestInspectorStreamReportsErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/devpanel/inspectors/broken-viewer/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Nil(t, frame.View)
	assert.Contains(t, frame.Error, "probe failed")
}

func TestInspectorStreamRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, envOptions{withoutAuth: true, server: config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}}})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/devpanel/inspectors/postgres-viewer/stream"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	}
}

func TestCORSConfig(t *testing.T) {
	cfg := corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.False(t, cfg.AllowCredentials)

	cfg = corsConfig([]string{"https://console.example.test"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.True(t, cfg.AllowCredentials)
	assert.Equal(t, []string{"https://console.example.test"}, cfg.AllowOrigins)

	cfg = corsConfig(nil)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowOrigins)
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		assert.Equal(t, want, extractBearerToken(header), header)
	}
}

func TestPrefersHTML(t *testing.T) {
	assert.True(t, prefersHTML("text/html,application/xhtml+xml"))
	assert.True(t, prefersHTML("application/json, text/html;q=0.8"))
	assert.False(t, prefersHTML("application/json"))
	assert.False(t, prefersHTML(""))
}
