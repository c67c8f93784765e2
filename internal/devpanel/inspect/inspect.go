// Package inspect provides the diagnostic views hosted by the float panel.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"devconsole/internal/devpanel/panel"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

// ErrUnknownInspector is returned for keys that were never registered.
var ErrUnknownInspector = errors.New("inspect: unknown inspector")

// ErrInvalidQuery is wrapped by inspectors rejecting a query parameter.
var ErrInvalidQuery = errors.New("inspect: invalid query")

// Inspector produces one panel tab.
type Inspector interface {
	Key() string
	Icon() string
	Inspect(ctx context.Context) (View, error)
}

// QueryInspector is implemented by inspectors that accept parameters, such
// as the table to sample or the page to fetch.
type QueryInspector interface {
	Inspector
	InspectQuery(ctx context.Context, query map[string]string) (View, error)
}

// View is what an inspector renders.
type View struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Sections    []Section `json:"sections"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Section is either a list of fields or a table, optionally with a note.
type Section struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields,omitempty"`
	Table  *Table  `json:"table,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// Field is a name/value pair.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Table is a simple grid of strings.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Registry keeps inspectors in registration order. That order is the tab
// order of the panel.
type Registry struct {
	mu         sync.RWMutex
	inspectors []Inspector
	index      map[string]int
	last       *NamedCache[string, View]

	timeout time.Duration
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds each Inspect call.
func WithTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = timeout }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logging.OrNop(logger) }
}

// WithRegistryMetrics records inspector durations.
func WithRegistryMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = metrics }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	last, _ := NewNamedCache[string, View]("inspector-views", 32)
	r := &Registry{
		index:   map[string]int{},
		last:    last,
		timeout: 10 * time.Second,
		logger:  logging.Nop(),
		tracer:  observability.Tracer("devconsole/devpanel/inspect"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends inspector. Keys must be unique.
func (r *Registry) Register(inspector Inspector) error {
	if inspector == nil {
		return fmt.Errorf("inspect: nil inspector")
	}
	key := inspector.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[key]; exists {
		return fmt.Errorf("inspect: duplicate inspector %q", key)
	}
	r.index[key] = len(r.inspectors)
	r.inspectors = append(r.inspectors, inspector)
	return nil
}

// Get returns the inspector registered under key.
func (r *Registry) Get(key string) (Inspector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.inspectors[i], true
}

// Resolve accepts a registered key or its slug and returns the key.
func (r *Registry) Resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if _, ok := r.Get(raw); ok {
		return raw, true
	}
	slug := Slug(raw)
	for _, inspector := range r.List() {
		if Slug(inspector.Key()) == slug {
			return inspector.Key(), true
		}
	}
	return "", false
}

// Slug turns "Postgres Viewer" into "postgres-viewer".
func Slug(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), "-")
}

// List returns the inspectors in registration order.
func (r *Registry) List() []Inspector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Inspector(nil), r.inspectors...)
}

// Items returns the panel tabs for the registered inspectors.
func (r *Registry) Items() []panel.Item {
	inspectors := r.List()
	items := make([]panel.Item, 0, len(inspectors))
	for _, inspector := range inspectors {
		items = append(items, panel.Item{Key: inspector.Key(), Icon: inspector.Icon()})
	}
	return items
}

// Caches exposes the registry's own caches to the cache inspector.
func (r *Registry) Caches() []CacheInfo {
	return []CacheInfo{r.last}
}

// Last returns the most recent successful view for key.
func (r *Registry) Last(key string) (View, bool) {
	return r.last.Get(key)
}

// Inspect runs the inspector registered under key. query is passed to
// inspectors implementing QueryInspector and ignored otherwise.
func (r *Registry) Inspect(ctx context.Context, key string, query map[string]string) (View, error) {
	inspector, ok := r.Get(key)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownInspector, key)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, observability.SpanInspect,
		trace.WithAttributes(attribute.String(observability.AttrInspector, key)))
	defer span.End()

	start := r.now()
	var view View
	var err error
	if qi, ok := inspector.(QueryInspector); ok && len(query) > 0 {
		view, err = qi.InspectQuery(ctx, query)
	} else {
		view, err = inspector.Inspect(ctx)
	}
	elapsed := r.now().Sub(start)
	r.metrics.RecordInspector(key, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("inspector %s failed after %s: %v", key, elapsed, err)
		return View{}, err
	}

	view.Key = key
	if view.Title == "" {
		view.Title = key
	}
	if view.GeneratedAt.IsZero() {
		view.GeneratedAt = r.now()
	}
	r.last.Add(key, view)
	return view, nil
}
