package inspect

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"devconsole/internal/httpclient"
)

const (
	maxPageBytes          = 2 << 20
	maxTitleLength        = 60
	maxDescriptionLength  = 160
	metadataCacheSize     = 16
	metadataCacheLifetime = 30 * time.Second
)

// PageMetadata is what the SEO inspector extracts from a page.
type PageMetadata struct {
	URL         string
	Status      int
	Title       string
	Description string
	Canonical   string
	Robots      string
	Lang        string
	H1Count     int
	OpenGraph   map[string]string
	Twitter     map[string]string
}

// Issues lists the problems a reviewer would flag on the page.
func (m PageMetadata) Issues() []string {
	var issues []string
	switch n := utf8.RuneCountInString(m.Title); {
	case n == 0:
		issues = append(issues, "missing <title>")
	case n > maxTitleLength:
		issues = append(issues, fmt.Sprintf("title is %d characters (max %d)", n, maxTitleLength))
	}
	switch n := utf8.RuneCountInString(m.Description); {
	case n == 0:
		issues = append(issues, "missing meta description")
	case n > maxDescriptionLength:
		issues = append(issues, fmt.Sprintf("description is %d characters (max %d)", n, maxDescriptionLength))
	}
	if m.Canonical == "" {
		issues = append(issues, "no canonical link")
	}
	if m.H1Count == 0 {
		issues = append(issues, "no <h1>")
	} else if m.H1Count > 1 {
		issues = append(issues, fmt.Sprintf("%d <h1> elements", m.H1Count))
	}
	if m.Lang == "" {
		issues = append(issues, "<html> has no lang attribute")
	}
	return issues
}

type cachedPage struct {
	meta      PageMetadata
	fetchedAt time.Time
}

// MetadataInspector fetches a page and reports its SEO tags.
type MetadataInspector struct {
	pageURL string
	client  *http.Client
	pages   *NamedCache[string, cachedPage]
	now     func() time.Time
}

// NewMetadataInspector inspects pageURL unless a "url" query overrides it.
func NewMetadataInspector(pageURL string, client *http.Client) *MetadataInspector {
	if client == nil {
		client = httpclient.New(10*time.Second, nil)
	}
	pages, _ := NewNamedCache[string, cachedPage]("seo-pages", metadataCacheSize)
	return &MetadataInspector{pageURL: pageURL, client: client, pages: pages, now: time.Now}
}

func (m *MetadataInspector) Key() string  { return "SEO Metadata" }
func (m *MetadataInspector) Icon() string { return "book-text" }

// Cache exposes the page cache to the cache inspector.
func (m *MetadataInspector) Cache() CacheInfo { return m.pages }

func (m *MetadataInspector) Inspect(ctx context.Context) (View, error) {
	return m.InspectQuery(ctx, nil)
}

// InspectQuery accepts "url" and "refresh" (any non-empty value bypasses the
// cache). An overriding url must be on the configured page's host, so the
// API cannot be used to fetch arbitrary addresses.
func (m *MetadataInspector) InspectQuery(ctx context.Context, query map[string]string) (View, error) {
	if m.pageURL == "" {
		return View{Title: "SEO Metadata", Sections: []Section{{Title: "Page", Note: "no page url configured (set inspect.page_url)"}}}, nil
	}
	page, err := parsePageURL(m.pageURL)
	if err != nil {
		return View{}, err
	}
	target := page
	if raw := strings.TrimSpace(query["url"]); raw != "" {
		if target, err = parsePageURL(raw); err != nil {
			return View{}, err
		}
		if !strings.EqualFold(target.Host, page.Host) || target.Scheme != page.Scheme {
			return View{}, fmt.Errorf("%w: seo url must be on %s://%s", ErrInvalidQuery, page.Scheme, page.Host)
		}
	}

	meta, err := m.metadata(ctx, target.String(), query["refresh"] != "")
	if err != nil {
		return View{}, err
	}
	return metadataView(meta), nil
}

func parsePageURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: seo page url %q", ErrInvalidQuery, raw)
	}
	return parsed, nil
}

func (m *MetadataInspector) metadata(ctx context.Context, target string, refresh bool) (PageMetadata, error) {
	if !refresh {
		if cached, ok := m.pages.Get(target); ok && m.now().Sub(cached.fetchedAt) < metadataCacheLifetime {
			return cached.meta, nil
		}
	}
	meta, err := m.fetch(ctx, target)
	if err != nil {
		return PageMetadata{}, err
	}
	m.pages.Add(target, cachedPage{meta: meta, fetchedAt: m.now()})
	return meta, nil
}

func (m *MetadataInspector) fetch(ctx context.Context, target string) (PageMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return PageMetadata{}, fmt.Errorf("seo: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", "devconsole-seo/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return PageMetadata{}, fmt.Errorf("seo: fetch %s: %w", target, err)
	}
	// Error pages still carry tags worth reporting; the status is shown.
	body, err := httpclient.Upstream{Service: "seo", Step: req.URL.Host, Limit: maxPageBytes, AnyStatus: true}.ReadBody(resp)
	if err != nil {
		return PageMetadata{}, err
	}
	meta, err := ParseMetadata(body)
	if err != nil {
		return PageMetadata{}, err
	}
	meta.URL = target
	meta.Status = resp.StatusCode
	return meta, nil
}

// ParseMetadata extracts SEO tags from an HTML document.
func ParseMetadata(html []byte) (PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return PageMetadata{}, fmt.Errorf("seo: parse html: %w", err)
	}

	meta := PageMetadata{
		Title:     strings.TrimSpace(doc.Find("head title").First().Text()),
		Lang:      strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
		H1Count:   doc.Find("h1").Length(),
		OpenGraph: map[string]string{},
		Twitter:   map[string]string{},
	}
	meta.Canonical = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		property := strings.ToLower(strings.TrimSpace(s.AttrOr("property", "")))
		switch {
		case name == "description":
			meta.Description = content
		case name == "robots":
			meta.Robots = content
		case strings.HasPrefix(property, "og:"):
			meta.OpenGraph[property] = content
		case strings.HasPrefix(name, "twitter:"):
			meta.Twitter[name] = content
		case strings.HasPrefix(property, "twitter:"):
			meta.Twitter[property] = content
		}
	})
	return meta, nil
}

func metadataView(meta PageMetadata) View {
	view := View{Title: "SEO Metadata"}
	view.Sections = append(view.Sections, Section{
		Title: "Page",
		Fields: []Field{
			{Name: "URL", Value: meta.URL},
			{Name: "Status", Value: fmt.Sprint(meta.Status)},
			{Name: "Title", Value: meta.Title},
			{Name: "Description", Value: meta.Description},
			{Name: "Canonical", Value: meta.Canonical},
			{Name: "Robots", Value: meta.Robots},
			{Name: "Lang", Value: meta.Lang},
			{Name: "H1 count", Value: fmt.Sprint(meta.H1Count)},
		},
	})
	view.Sections = append(view.Sections, tagSection("Open Graph", meta.OpenGraph))
	view.Sections = append(view.Sections, tagSection("Twitter Card", meta.Twitter))

	issues := Section{Title: "Issues"}
	if list := meta.Issues(); len(list) > 0 {
		issues.Note = strings.Join(list, "\n")
	} else {
		issues.Note = "none"
	}
	view.Sections = append(view.Sections, issues)
	return view
}

func tagSection(title string, tags map[string]string) Section {
	section := Section{Title: title}
	if len(tags) == 0 {
		section.Note = "no tags"
		return section
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		section.Fields = append(section.Fields, Field{Name: k, Value: tags[k]})
	}
	return section
}

var _ QueryInspector = (*MetadataInspector)(nil)
