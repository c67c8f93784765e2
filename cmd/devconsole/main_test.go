package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devconsole/internal/devpanel/inspect"
)

// isolate points every file the CLI touches at a temp dir and clears the
// environment variables that would leak a developer's setup into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("DEVCONSOLE_CONFIG", "")
	t.Setenv("DEVCONSOLE_PANEL_STORAGE_PATH", filepath.Join(dir, "panel.json"))
	t.Setenv("DEVCONSOLE_INSPECT_FLAGS_FILE", filepath.Join(dir, "flags.yaml"))
	t.Setenv("DEVCONSOLE_OBSERVABILITY_TRACING_ENABLED", "false")
	for _, name := range []string{
		"DATABASE_URL", "DEVCONSOLE_INSPECT_DATABASE_URL",
		"AUTH_DATABASE_URL", "DEVCONSOLE_AUTH_DATABASE_URL",
		"WECHAT_WORK_CORP_ID", "WECHAT_WORK_AGENT_ID", "WECHAT_WORK_SECRET",
		"DEVCONSOLE_WECHAT_WORK_CORP_ID", "DEVCONSOLE_WECHAT_WORK_AGENT_ID", "DEVCONSOLE_WECHAT_WORK_SECRET",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func configureSSO(t *testing.T, apiBaseURL string) {
	t.Helper()
	t.Setenv("WECHAT_WORK_CORP_ID", "ww-corp")
	t.Setenv("WECHAT_WORK_AGENT_ID", "1000002")
	t.Setenv("WECHAT_WORK_SECRET", "corp-secret")
	t.Setenv("DEVCONSOLE_WECHAT_WORK_API_BASE_URL", apiBaseURL)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInspectListsInspectorsInTabOrder(t *testing.T) {
	isolate(t)

	out, err := run(t, "inspect")
	require.NoError(t, err)

	order := []string{"Postgres Viewer", "SEO Metadata", "Framework Caches", "Feature Flags", "System Status"}
	last := -1
	for _, key := range order {
		idx := strings.Index(out, key)
		require.GreaterOrEqual(t, idx, 0, "missing %s in\n%s", key, out)
		assert.Greater(t, idx, last, "%s out of order", key)
		last = idx
	}
	assert.Contains(t, out, "feature-flags")
}

func TestInspectFeatureFlagsAsJSON(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flags.yaml"), []byte("new-checkout: true\nlegacy-search:\n  enabled: false\n  owner: search-team\n"), 0o644))

	out, err := run(t, "inspect", "feature-flags", "--format", "json")
	require.NoError(t, err)

	var view inspect.View
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	assert.Equal(t, "Feature Flags", view.Key)
	require.Len(t, view.Sections, 2)
	rows := view.Sections[1].Table.Rows
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"legacy-search", "false", "file", "search-team", ""}, rows[0])
	assert.Equal(t, []string{"new-checkout", "true", "file", "", ""}, rows[1])
}

func TestInspectPostgresWithoutDatabase(t *testing.T) {
	isolate(t)

	out, err := run(t, "inspect", "Postgres Viewer", "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# Postgres Viewer")
	assert.Contains(t, out, "no database configured")

	out, err = run(t, "inspect", "postgres-viewer")
	require.NoError(t, err)
	assert.Contains(t, out, "CONNECTION")
	assert.Contains(t, out, "note: no database configured")
}

func TestInspectRejectsUnknownInspectorAndFormat(t *testing.T) {
	isolate(t)

	_, err := run(t, "inspect", "nope")
	assert.True(t, errors.Is(err, inspect.ErrUnknownInspector), "got %v", err)

	_, err = run(t, "inspect", "feature-flags", "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestSSORequiresConfiguration(t *testing.T) {
	isolate(t)

	_, err := run(t, "sso", "login-url")
	assert.ErrorIs(t, err, errSSONotConfigured)
}

func TestSSOLoginURL(t *testing.T) {
	isolate(t)
	configureSSO(t, "")

	out, err := run(t, "sso", "login-url", "--state", "fixed-state")
	require.NoError(t, err)
	assert.Contains(t, out, "appid=ww-corp")
	assert.Contains(t, out, "agentid=1000002")
	assert.Contains(t, out, "state=fixed-state")
	assert.NotContains(t, out, "corp-secret")
}

func vendorServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSOExchangePrintsMember(t *testing.T) {
	isolate(t)
	srv := vendorServer(t, map[string]string{
		"/gettoken":         `{"errcode":0,"errmsg":"ok","access_token":"vendor-access","expires_in":7200}`,
		"/user/getuserinfo": `{"errcode":0,"errmsg":"ok","UserId":"zhangsan"}`,
		"/user/get":         `{"errcode":0,"errmsg":"ok","userid":"zhangsan","name":"Zhang San","email":"zhangsan@corp.example"}`,
	})
	configureSSO(t, srv.URL)

	out, err := run(t, "sso", "exchange", "auth-code")
	require.NoError(t, err)
	assert.Contains(t, out, "zhangsan")
	assert.Contains(t, out, "Zhang San")
	assert.Contains(t, out, "zhangsan@corp.example")
	assert.Contains(t, out, "token expires")
}

func TestSSOExchangeReportsVendorRejection(t *testing.T) {
	isolate(t)
	srv := vendorServer(t, map[string]string{
		"/gettoken": `{"errcode":40001,"errmsg":"invalid credential"}`,
	})
	configureSSO(t, srv.URL)

	_, err := run(t, "sso", "exchange", "auth-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gettoken failed with errcode 40001: invalid credential")
}

func TestConfigLayering(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "devconsole.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: warn\nserver:\n  addr: \":9999\"\ninspect:\n  sample_rows: 7\n"), 0o644))
	t.Setenv("DEVCONSOLE_INSPECT_SAMPLE_ROWS", "11")

	c := &cli{v: viper.New()}
	root := c.command()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	// The bogus format fails after configuration has loaded.
	root.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "inspect", "--format", "bogus"})
	require.Error(t, root.Execute())

	assert.Equal(t, "error", c.cfg.Log.Level, "flag beats file")
	assert.Equal(t, ":9999", c.cfg.Server.Addr, "file beats default")
	assert.Equal(t, 11, c.cfg.Inspect.SampleRows, "env beats file")
}
