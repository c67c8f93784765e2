// Package panel holds the float panel state: which tab is selected, whether
// the panel is expanded, and where it sits. Position and size survive
// restarts through a storage.Storage; tab and expansion do not.
package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"devconsole/internal/devpanel/storage"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

// Storage keys.
const (
	PositionKey = "debug-panel-position"
	SizeKey     = "debug-panel-size"
)

// Minimum panel dimensions in pixels.
const (
	MinWidth  = 800
	MinHeight = 600
)

var (
	// DefaultPosition is used when nothing valid is stored.
	DefaultPosition = Position{X: 100, Y: 100}
	// DefaultSize is used when nothing valid is stored.
	DefaultSize = Size{Width: MinWidth, Height: MinHeight}
)

// ErrNoItems is returned when a panel is created without tabs.
var ErrNoItems = errors.New("panel: at least one item is required")

// Position is the top-left corner of the panel in pixels.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is the panel size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Item is one tab of the panel.
type Item struct {
	Key  string `json:"key"`
	Icon string `json:"icon"`
}

// State is the serialisable view of a panel.
type State struct {
	Items    []Item   `json:"items"`
	Tab      string   `json:"tab"`
	Expanded bool     `json:"expanded"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// Update carries a partial state change. Nil fields are left untouched.
type Update struct {
	Tab      *string   `json:"tab,omitempty"`
	Expanded *bool     `json:"expanded,omitempty"`
	Position *Position `json:"position,omitempty"`
	Size     *Size     `json:"size,omitempty"`
}

// Panel is safe for concurrent use.
type Panel struct {
	mu       sync.RWMutex
	items    []Item
	tab      string
	expanded bool
	position Position
	size     Size
	window   Size

	store   storage.Storage
	logger  logging.Logger
	metrics *observability.Metrics
}

// Option customises a Panel.
type Option func(*Panel)

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(logger logging.Logger) Option {
	return func(p *Panel) { p.logger = logging.OrNop(logger) }
}

// WithMetrics counts swallowed storage failures.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Panel) { p.metrics = metrics }
}

// New returns a collapsed panel showing the first item. store may be nil, in
// which case nothing is persisted.
func New(items []Item, store storage.Storage, opts ...Option) (*Panel, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Key == "" {
			return nil, fmt.Errorf("panel: item key is required")
		}
		if _, dup := seen[item.Key]; dup {
			return nil, fmt.Errorf("panel: duplicate item key %q", item.Key)
		}
		seen[item.Key] = struct{}{}
	}
	p := &Panel{
		items:    append([]Item(nil), items...),
		tab:      items[0].Key,
		position: DefaultPosition,
		size:     DefaultSize,
		store:    store,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load reads position and size from storage. Missing, unreadable or corrupt
// entries keep the defaults; Load never fails.
func (p *Panel) Load() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.loadPosition(); ok {
		p.position = pos
	}
	if size, ok := p.loadSize(); ok {
		p.size = clampSize(size)
	}
	p.position = p.clampToWindow(p.position, p.size)
}

// Toggle flips the expanded flag and returns the new value.
func (p *Panel) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expanded = !p.expanded
	return p.expanded
}

// Close collapses the panel.
func (p *Panel) Close() {
	p.mu.Lock()
	p.expanded = false
	p.mu.Unlock()
}

// SelectTab switches to key. Unknown keys are ignored and reported as false.
func (p *Panel) SelectTab(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexOf(key) < 0 {
		return false
	}
	p.tab = key
	return true
}

// SelectIndex switches to the tab at i, ignoring out-of-range values.
func (p *Panel) SelectIndex(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.items) {
		return false
	}
	p.tab = p.items[i].Key
	return true
}

// CycleTab moves the selection by delta, wrapping around.
func (p *Panel) CycleTab(delta int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.items)
	next := ((p.indexOf(p.tab)+delta)%n + n) % n
	p.tab = p.items[next].Key
	return p.tab
}

// DragStop records the final position of a drag and persists it.
func (p *Panel) DragStop(pos Position) Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.clampToWindow(pos, p.size)
	p.persist(PositionKey, p.position)
	return p.position
}

// ResizeStop records the final size and position of a resize and persists
// both. The size is clamped to the minimum.
func (p *Panel) ResizeStop(size Size, pos Position) (Size, Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = clampSize(size)
	p.position = p.clampToWindow(pos, p.size)
	p.persist(SizeKey, p.size)
	p.persist(PositionKey, p.position)
	return p.size, p.position
}

// SetBounds tells the panel the window size so it stays on screen. A zero
// dimension disables clamping on that axis. Nothing is persisted.
func (p *Panel) SetBounds(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = Size{Width: max(width, 0), Height: max(height, 0)}
	p.position = p.clampToWindow(p.position, p.size)
}

// Apply performs a partial update the way the UI would: a size change is a
// resize stop, a position change alone is a drag stop.
func (p *Panel) Apply(u Update) State {
	if u.Tab != nil {
		p.SelectTab(*u.Tab)
	}
	if u.Expanded != nil {
		p.mu.Lock()
		p.expanded = *u.Expanded
		p.mu.Unlock()
	}
	switch {
	case u.Size != nil:
		pos := p.Snapshot().Position
		if u.Position != nil {
			pos = *u.Position
		}
		p.ResizeStop(*u.Size, pos)
	case u.Position != nil:
		p.DragStop(*u.Position)
	}
	return p.Snapshot()
}

// Snapshot returns a copy of the current state.
func (p *Panel) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return State{
		Items:    append([]Item(nil), p.items...),
		Tab:      p.tab,
		Expanded: p.expanded,
		Position: p.position,
		Size:     p.size,
	}
}

func (p *Panel) indexOf(key string) int {
	for i, item := range p.items {
		if item.Key == key {
			return i
		}
	}
	return -1
}

func clampSize(size Size) Size {
	return Size{Width: max(size.Width, MinWidth), Height: max(size.Height, MinHeight)}
}

func (p *Panel) clampToWindow(pos Position, size Size) Position {
	if p.window.Width > 0 {
		pos.X = min(max(pos.X, 0), max(p.window.Width-size.Width, 0))
	}
	if p.window.Height > 0 {
		pos.Y = min(max(pos.Y, 0), max(p.window.Height-size.Height, 0))
	}
	return pos
}

// storedPosition and storedSize accept fractional pixels from browsers and
// require every field to be present.
type storedPosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type storedSize struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

func (p *Panel) loadPosition() (Position, bool) {
	var stored storedPosition
	if !p.read(PositionKey, &stored) || stored.X == nil || stored.Y == nil {
		return Position{}, false
	}
	x, okX := roundPixel(*stored.X)
	y, okY := roundPixel(*stored.Y)
	if !okX || !okY {
		p.swallow(PositionKey, "decode", fmt.Errorf("coordinates out of range: %v, %v", *stored.X, *stored.Y))
		return Position{}, false
	}
	return Position{X: x, Y: y}, true
}

func (p *Panel) loadSize() (Size, bool) {
	var stored storedSize
	if !p.read(SizeKey, &stored) || stored.Width == nil || stored.Height == nil {
		return Size{}, false
	}
	width, okW := roundPixel(*stored.Width)
	height, okH := roundPixel(*stored.Height)
	if !okW || !okH {
		p.swallow(SizeKey, "decode", fmt.Errorf("dimensions out of range: %v x %v", *stored.Width, *stored.Height))
		return Size{}, false
	}
	return Size{Width: width, Height: height}, true
}

func (p *Panel) read(key string, out any) bool {
	if p.store == nil {
		return false
	}
	raw, ok, err := p.store.Get(key)
	if err != nil {
		p.swallow(key, "get", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		p.swallow(key, "decode", err)
		return false
	}
	return true
}

func (p *Panel) persist(key string, value any) {
	if p.store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		p.swallow(key, "encode", err)
		return
	}
	if err := p.store.Set(key, string(data)); err != nil {
		p.swallow(key, "set", err)
	}
}

func (p *Panel) swallow(key, op string, err error) {
	p.logger.Debug("panel: %s %s failed: %v", op, key, err)
	p.metrics.RecordPersistFailure(key, op)
}

// maxPixel bounds stored coordinates; anything beyond it is treated as a
// corrupt entry rather than converted.
const maxPixel = 1 << 31

func roundPixel(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	v = math.Round(v)
	if v >= maxPixel || v <= -maxPixel {
		return 0, false
	}
	return int(v), true
}
