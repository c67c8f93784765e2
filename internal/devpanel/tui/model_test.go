package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
	"devconsole/internal/devpanel/storage"
)

type fixedInspector struct {
	key  string
	icon string
}

func (f fixedInspector) Key() string  { return f.key }
func (f fixedInspector) Icon() string { return f.icon }
func (f fixedInspector) Inspect(context.Context) (inspect.View, error) {
	return inspect.View{Sections: []inspect.Section{{Title: "Host", Fields: []inspect.Field{{Name: "Hostname", Value: "devbox"}}}}}, nil
}

func newModel(t *testing.T) (Model, *panel.Panel, storage.Storage) {
	t.Helper()
	registry := inspect.NewRegistry()
	require.NoError(t, registry.Register(fixedInspector{key: "System Status", icon: "cog"}))
	require.NoError(t, registry.Register(fixedInspector{key: "Feature Flags", icon: "flag"}))

	store := storage.NewMemoryStore()
	p, err := panel.New(registry.Items(), store)
	require.NoError(t, err)
	m := New(context.Background(), p, registry, WithMarkdownStyle("notty"))
	return m, p, store
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

// findViewMsg runs cmd, descending into batches, until an inspector result
// turns up. Spinner ticks are skipped.
func findViewMsg(t *testing.T, cmd tea.Cmd) viewMsg {
	t.Helper()
	pending := []tea.Cmd{cmd}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]
		if next == nil {
			continue
		}
		switch msg := next().(type) {
		case viewMsg:
			return msg
		case tea.BatchMsg:
			pending = append(pending, msg...)
		}
	}
	t.Fatal("command produced no viewMsg")
	return viewMsg{}
}

func TestLoadReportsInspectorView(t *testing.T) {
	m, _, _ := newModel(t)
	msg, ok := m.load("Feature Flags")().(viewMsg)
	require.True(t, ok)
	assert.Equal(t, "Feature Flags", msg.key)
	require.NoError(t, msg.err)
}

func TestCollapsedShowsButton(t *testing.T) {
	m, _, _ := newModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 50})
	assert.Contains(t, m.View(), "dev")
	assert.NotContains(t, m.View(), "System Status")
}

func TestToggleLoadsCurrentTab(t *testing.T) {
	m, p, _ := newModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 50})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	require.NotNil(t, cmd)
	assert.True(t, p.Snapshot().Expanded)
	assert.Contains(t, m.View(), "loading")

	msg := findViewMsg(t, cmd)
	require.NoError(t, msg.err)
	assert.Equal(t, "System Status", msg.key)
	m, _ = update(t, m, msg)
	out := m.View()
	assert.Contains(t, out, "System Status")
	assert.Contains(t, out, "Feature Flags")
	assert.Contains(t, out, "devbox")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, p.Snapshot().Expanded)
}

func TestTabKeysSwitchTabs(t *testing.T) {
	m, p, _ := newModel(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "Feature Flags", p.Snapshot().Tab)
	assert.NotNil(t, cmd)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'1'}})
	assert.Equal(t, "System Status", p.Snapshot().Tab)

	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, "Feature Flags", p.Snapshot().Tab)
}

func TestArrowsMoveAndResizeInCells(t *testing.T) {
	m, p, store := newModel(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, panel.Position{X: 100 + CellWidth, Y: 100 + CellHeight}, p.Snapshot().Position)

	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftRight})
	assert.Equal(t, panel.Size{Width: panel.MinWidth + CellWidth, Height: panel.MinHeight}, p.Snapshot().Size)

	raw, ok, err := store.Get(panel.SizeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"width":808,"height":600}`, raw)
}

func TestKeysIgnoredWhileCollapsed(t *testing.T) {
	m, p, _ := newModel(t)
	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, panel.DefaultPosition, p.Snapshot().Position)
}

func TestQuit(t *testing.T) {
	m, _, _ := newModel(t)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
