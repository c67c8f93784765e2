package inspect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devconsole/internal/httpclient"
)

const samplePage = `<!doctype html>
<html lang="en">
<head>
  <title>Dev Console</title>
  <meta name="description" content="Diagnostics for local development.">
  <meta name="robots" content="noindex">
  <link rel="canonical" href="https://example.com/">
  <meta property="og:title" content="Dev Console">
  <meta property="og:image" content="https://example.com/og.png">
  <meta name="twitter:card" content="summary">
</head>
<body><h1>Hello</h1></body>
</html>`

func TestParseMetadata(t *testing.T) {
	meta, err := ParseMetadata([]byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Dev Console", meta.Title)
	assert.Equal(t, "Diagnostics for local development.", meta.Description)
	assert.Equal(t, "https://example.com/", meta.Canonical)
	assert.Equal(t, "noindex", meta.Robots)
	assert.Equal(t, "en", meta.Lang)
	assert.Equal(t, 1, meta.H1Count)
	assert.Equal(t, map[string]string{"og:title": "Dev Console", "og:image": "https://example.com/og.png"}, meta.OpenGraph)
	assert.Equal(t, map[string]string{"twitter:card": "summary"}, meta.Twitter)
	assert.Empty(t, meta.Issues())
}

func TestMetadataIssues(t *testing.T) {
	meta := PageMetadata{
		Title:       strings.Repeat("t", 61),
		Description: strings.Repeat("d", 161),
		H1Count:     2,
		Lang:        "en",
	}
	issues := meta.Issues()
	require.Len(t, issues, 4)
	assert.Contains(t, issues[0], "title is 61 characters")
	assert.Contains(t, issues[1], "description is 161 characters")
	assert.Equal(t, "no canonical link", issues[2])
	assert.Equal(t, "2 <h1> elements", issues[3])
}

func TestMetadataInspectorFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	inspector := NewMetadataInspector(srv.URL, srv.Client())
	view, err := inspector.Inspect(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Sections, 4)
	assert.Equal(t, "Dev Console", view.Sections[0].Fields[2].Value)
	assert.Equal(t, "200", view.Sections[0].Fields[1].Value)
	assert.Equal(t, "none", view.Sections[3].Note)

	_, err = inspector.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, uint64(1), inspector.Cache().Stats().Hits)

	_, err = inspector.InspectQuery(context.Background(), map[string]string{"refresh": "1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestMetadataInspectorURLOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Other</title></head></html>`))
	}))
	defer srv.Close()

	inspector := NewMetadataInspector(srv.URL+"/", srv.Client())
	view, err := inspector.InspectQuery(context.Background(), map[string]string{"url": srv.URL + "/other"})
	require.NoError(t, err)
	assert.Equal(t, "Other", view.Sections[0].Fields[2].Value)
	assert.Contains(t, view.Sections[3].Note, "missing meta description")
}

func TestMetadataInspectorConfinesOverrideToPageHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	inspector := NewMetadataInspector("https://app.example.test/", srv.Client())
	for _, target := range []string{
		srv.URL + "/",
		"http://169.254.169.254/latest/meta-data/",
		"http://app.example.test/",
	} {
		_, err := inspector.InspectQuery(context.Background(), map[string]string{"url": target})
		assert.ErrorIs(t, err, ErrInvalidQuery, target)
	}
	assert.Zero(t, hits.Load())
}

func TestMetadataInspectorReportsOversizedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxPageBytes+1)))
	}))
	defer srv.Close()

	_, err := NewMetadataInspector(srv.URL, srv.Client()).Inspect(context.Background())
	var tooLarge *httpclient.BodyTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "seo", tooLarge.Service)
}

func TestMetadataInspectorRejectsBadURL(t *testing.T) {
	inspector := NewMetadataInspector("", nil)
	view, err := inspector.Inspect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, view.Sections[0].Note, "no page url configured")

	_, err = NewMetadataInspector("file:///etc/passwd", nil).Inspect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
