// Package tui renders the float panel in the terminal. Pixel positions are
// mapped onto the character grid so the persisted position and size are
// shared with the web frontend.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
)

// Pixels per terminal cell.
const (
	CellWidth  = 8
	CellHeight = 16
)

const helpLine = "ctrl+d toggle · esc close · tab/1-9 switch · arrows move · shift+arrows resize · r refresh · q quit"

type viewMsg struct {
	key  string
	view inspect.View
	err  error
}

// Model is the bubbletea model of the panel.
type Model struct {
	ctx      context.Context
	panel    *panel.Panel
	registry *inspect.Registry

	views   map[string]inspect.View
	errs    map[string]error
	loading map[string]bool

	spinner       spinner.Model
	viewport      viewport.Model
	renderer      *glamour.TermRenderer
	rendererWidth int
	style         string

	width  int
	height int
}

// Option customises a Model.
type Option func(*Model)

// WithMarkdownStyle selects the glamour style used for inspector views.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		if style != "" {
			m.style = style
		}
	}
}

// New returns a model over p whose tabs are served by registry.
func New(ctx context.Context, p *panel.Panel, registry *inspect.Registry, opts ...Option) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		ctx:      ctx,
		panel:    p,
		registry: registry,
		views:    map[string]inspect.View{},
		errs:     map[string]error{},
		loading:  map[string]bool{},
		spinner:  sp,
		viewport: viewport.New(0, 0),
		style:    "dark",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.panel.Snapshot().Expanded {
		return m.fetch(m.panel.Snapshot().Tab)
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.panel.SetBounds(msg.Width*CellWidth, msg.Height*CellHeight)
		m.layout()
		return m, nil

	case viewMsg:
		delete(m.loading, msg.key)
		if msg.err != nil {
			m.errs[msg.key] = msg.err
		} else {
			delete(m.errs, msg.key)
			m.views[msg.key] = msg.view
		}
		m.layout()
		return m, nil

	case spinner.TickMsg:
		if len(m.loading) == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "ctrl+d":
		if m.panel.Toggle() {
			m.layout()
			return m, m.ensure(m.panel.Snapshot().Tab)
		}
		return m, nil
	case "esc":
		m.panel.Close()
		return m, nil
	}

	state := m.panel.Snapshot()
	if !state.Expanded {
		return m, nil
	}

	switch key {
	case "tab":
		return m.switched(m.panel.CycleTab(1))
	case "shift+tab":
		return m.switched(m.panel.CycleTab(-1))
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if m.panel.SelectIndex(int(key[0] - '1')) {
			return m.switched(m.panel.Snapshot().Tab)
		}
		return m, nil
	case "r":
		delete(m.views, state.Tab)
		delete(m.errs, state.Tab)
		m.layout()
		return m, m.fetch(state.Tab)
	case "up", "down", "left", "right":
		dx, dy := direction(key)
		m.panel.DragStop(panel.Position{X: state.Position.X + dx*CellWidth, Y: state.Position.Y + dy*CellHeight})
		m.layout()
		return m, nil
	case "shift+up", "shift+down", "shift+left", "shift+right":
		dx, dy := direction(strings.TrimPrefix(key, "shift+"))
		size := panel.Size{Width: state.Size.Width + dx*CellWidth, Height: state.Size.Height + dy*CellHeight}
		m.panel.ResizeStop(size, state.Position)
		m.layout()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func direction(key string) (int, int) {
	switch key {
	case "up":
		return 0, -1
	case "down":
		return 0, 1
	case "left":
		return -1, 0
	case "right":
		return 1, 0
	}
	return 0, 0
}

func (m Model) switched(tab string) (tea.Model, tea.Cmd) {
	m.layout()
	m.viewport.GotoTop()
	return m, m.ensure(tab)
}

// ensure fetches tab unless it is already shown or loading.
func (m Model) ensure(tab string) tea.Cmd {
	if _, ok := m.views[tab]; ok || m.loading[tab] {
		return nil
	}
	return m.fetch(tab)
}

// fetch marks tab as loading and starts the spinner alongside load.
func (m Model) fetch(tab string) tea.Cmd {
	m.loading[tab] = true
	return tea.Batch(m.load(tab), m.spinner.Tick)
}

// load runs the inspector off the update loop and reports a viewMsg.
func (m Model) load(tab string) tea.Cmd {
	ctx, registry := m.ctx, m.registry
	return func() tea.Msg {
		view, err := registry.Inspect(ctx, tab, nil)
		return viewMsg{key: tab, view: view, err: err}
	}
}

// frame returns the panel rectangle in cells, clamped to the terminal.
func (m Model) frame() (left, top, cols, rows int) {
	state := m.panel.Snapshot()
	left, top = state.Position.X/CellWidth, state.Position.Y/CellHeight
	cols, rows = state.Size.Width/CellWidth, state.Size.Height/CellHeight
	if m.width > 0 {
		left = min(left, max(m.width-cols, 0))
		cols = min(cols, m.width-left)
	}
	if m.height > 0 {
		top = min(top, max(m.height-rows, 0))
		rows = min(rows, m.height-top)
	}
	return left, top, cols, rows
}

func (m *Model) layout() {
	_, _, cols, rows := m.frame()
	// border (2) + tab bar, separator, help line
	m.viewport.Width = max(cols-2, 0)
	m.viewport.Height = max(rows-5, 0)
	m.viewport.SetContent(m.content())
}

func (m *Model) content() string {
	tab := m.panel.Snapshot().Tab
	if err, ok := m.errs[tab]; ok {
		return styleError.Render("error: " + err.Error())
	}
	view, ok := m.views[tab]
	if !ok {
		return styleMuted.Render("loading…")
	}
	md := view.Markdown()
	width := max(m.viewport.Width-2, 20)
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(m.style), glamour.WithWordWrap(width))
		if err != nil {
			return md
		}
		m.renderer, m.rendererWidth = r, width
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

func (m Model) View() string {
	state := m.panel.Snapshot()
	if !state.Expanded {
		button := styleButton.Render(glyph("cog") + " dev")
		if m.width == 0 || m.height == 0 {
			return button
		}
		return lipgloss.Place(m.width, m.height, lipgloss.Right, lipgloss.Bottom, button)
	}

	left, top, cols, _ := m.frame()
	tabs := make([]string, 0, len(state.Items))
	for i, item := range state.Items {
		label := fmt.Sprintf("%d %s %s", i+1, glyph(item.Icon), item.Key)
		if item.Key == state.Tab {
			if m.loading[item.Key] {
				label += " " + m.spinner.View()
			}
			tabs = append(tabs, styleActiveTab.Render(label))
		} else {
			tabs = append(tabs, styleTab.Render(label))
		}
	}
	inner := max(cols-2, 0)
	body := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().MaxWidth(inner).Render(lipgloss.JoinHorizontal(lipgloss.Top, tabs...)),
		styleMuted.Render(strings.Repeat("─", inner)),
		m.viewport.View(),
		styleMuted.MaxWidth(inner).Render(helpLine),
	)
	return styleFrame.Width(inner).MarginLeft(left).MarginTop(top).Render(body)
}

// Run shows the panel until the user quits or ctx is done.
func Run(ctx context.Context, p *panel.Panel, registry *inspect.Registry, opts ...Option) error {
	program := tea.NewProgram(New(ctx, p, registry, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run panel: %w", err)
	}
	return nil
}
