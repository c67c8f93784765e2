package inspect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"devconsole/internal/async"
	"devconsole/internal/logging"
)

// FlagEnvPrefix prefixes environment overrides: DEVCONSOLE_FLAG_NEW_CHECKOUT=true
// overrides the flag new-checkout.
const FlagEnvPrefix = "DEVCONSOLE_FLAG"

const defaultFlagWatchDebounce = 200 * time.Millisecond

// Flag sources.
const (
	FlagSourceDefault = "default"
	FlagSourceFile    = "file"
	FlagSourceEnv     = "env"
)

// FlagDefinition is one entry of the flags file. It may be written as a bare
// boolean or as a mapping, either under a flags: root or at the top level:
//
//	flags:
//	  dark-mode: true
//	  new-checkout:
//	    enabled: false
//	    description: Rewritten checkout flow
//	    owner: payments
type FlagDefinition struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
	Owner       string `yaml:"owner"`
}

// UnmarshalYAML accepts the bare boolean form.
func (d *FlagDefinition) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return fmt.Errorf("line %d: flag value must be a boolean", node.Line)
		}
		*d = FlagDefinition{Enabled: enabled}
		return nil
	case yaml.MappingNode:
		type plain FlagDefinition
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*d = FlagDefinition(p)
		return nil
	default:
		return fmt.Errorf("line %d: flag must be a boolean or a mapping", node.Line)
	}
}

type flagFile struct {
	Flags map[string]FlagDefinition `yaml:"flags"`
}

// hasFlagsRoot reports whether doc is a mapping whose "flags" key holds a
// mapping, i.e. the nested form.
func hasFlagsRoot(doc *yaml.Node) bool {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "flags" {
			return doc.Content[i+1].Kind == yaml.MappingNode
		}
	}
	return false
}

// Flag is a resolved flag.
type Flag struct {
	Name        string
	Enabled     bool
	Source      string
	Description string
	Owner       string
}

// FlagsInspector reads feature flags from a YAML file, reloads them when the
// file changes and applies environment overrides on every read.
type FlagsInspector struct {
	path     string
	defaults map[string]bool
	env      *viper.Viper
	logger   logging.Logger
	debounce time.Duration

	mu        sync.RWMutex
	file      map[string]FlagDefinition
	loadErr   error
	loadedAt  time.Time
	reloads   int
	watcher   *fsnotify.Watcher
	timer     *time.Timer
	stopCh    chan struct{}
	stopOnce  sync.Once
	listeners []func()
}

// FlagsOption customises a FlagsInspector.
type FlagsOption func(*FlagsInspector)

// WithFlagDefaults declares flags known to the code. File and environment
// values take precedence.
func WithFlagDefaults(defaults map[string]bool) FlagsOption {
	return func(f *FlagsInspector) {
		for name, enabled := range defaults {
			f.defaults[name] = enabled
		}
	}
}

// WithFlagsLogger sets the logger for reload diagnostics.
func WithFlagsLogger(logger logging.Logger) FlagsOption {
	return func(f *FlagsInspector) { f.logger = logging.OrNop(logger) }
}

// WithFlagWatchDebounce sets the debounce window for reloads.
func WithFlagWatchDebounce(debounce time.Duration) FlagsOption {
	return func(f *FlagsInspector) {
		if debounce > 0 {
			f.debounce = debounce
		}
	}
}

// NewFlagsInspector loads path once. A missing file is not an error; the
// inspector then shows defaults and environment overrides only.
func NewFlagsInspector(path string, opts ...FlagsOption) *FlagsInspector {
	path = strings.TrimSpace(path)
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = filepath.Clean(abs)
		}
	}
	env := viper.New()
	env.SetEnvPrefix(FlagEnvPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	env.AutomaticEnv()

	f := &FlagsInspector{
		path:     path,
		defaults: map[string]bool{},
		env:      env,
		logger:   logging.Nop(),
		debounce: defaultFlagWatchDebounce,
		file:     map[string]FlagDefinition{},
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Reload(); err != nil {
		f.logger.Warn("flags: initial load of %s failed: %v", f.path, err)
	}
	return f
}

func (f *FlagsInspector) Key() string  { return "Feature Flags" }
func (f *FlagsInspector) Icon() string { return "flag" }

// OnChange registers fn to run after every reload triggered by the watcher.
func (f *FlagsInspector) OnChange(fn func()) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Reload re-reads the flags file. On error the previous flags stay active.
func (f *FlagsInspector) Reload() error {
	defs, err := readFlagFile(f.path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
	if err != nil {
		return err
	}
	f.file = defs
	f.loadedAt = time.Now()
	f.reloads++
	return nil
}

func readFlagFile(path string) (map[string]FlagDefinition, error) {
	if path == "" {
		return map[string]FlagDefinition{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]FlagDefinition{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flags: read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("flags: parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return map[string]FlagDefinition{}, nil
	}

	defs := map[string]FlagDefinition{}
	if hasFlagsRoot(&doc) {
		var parsed flagFile
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("flags: parse %s: %w", path, err)
		}
		if parsed.Flags != nil {
			defs = parsed.Flags
		}
		return defs, nil
	}
	if err := doc.Decode(&defs); err != nil {
		return nil, fmt.Errorf("flags: parse %s: %w", path, err)
	}
	return defs, nil
}

// Flags returns every known flag sorted by name.
func (f *FlagsInspector) Flags() []Flag {
	f.mu.RLock()
	names := make(map[string]struct{}, len(f.defaults)+len(f.file))
	for name := range f.defaults {
		names[name] = struct{}{}
	}
	for name := range f.file {
		names[name] = struct{}{}
	}
	flags := make([]Flag, 0, len(names))
	for name := range names {
		flag := Flag{Name: name, Enabled: f.defaults[name], Source: FlagSourceDefault}
		if def, ok := f.file[name]; ok {
			flag.Enabled = def.Enabled
			flag.Description = def.Description
			flag.Owner = def.Owner
			flag.Source = FlagSourceFile
		}
		flags = append(flags, flag)
	}
	f.mu.RUnlock()

	for i := range flags {
		if enabled, ok := f.envOverride(flags[i].Name); ok {
			flags[i].Enabled = enabled
			flags[i].Source = FlagSourceEnv
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

// Enabled reports whether name is on. Unknown flags are off.
func (f *FlagsInspector) Enabled(name string) bool {
	for _, flag := range f.Flags() {
		if flag.Name == name {
			return flag.Enabled
		}
	}
	return false
}

func (f *FlagsInspector) envOverride(name string) (bool, bool) {
	if !f.env.IsSet(name) {
		return false, false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(f.env.GetString(name)))
	if err != nil {
		f.logger.Warn("flags: ignoring non-boolean override for %s", name)
		return false, false
	}
	return enabled, true
}

func (f *FlagsInspector) Inspect(context.Context) (View, error) {
	f.mu.RLock()
	loadErr, loadedAt, reloads, watching := f.loadErr, f.loadedAt, f.reloads, f.watcher != nil
	f.mu.RUnlock()

	source := Section{
		Title: "Source",
		Fields: []Field{
			{Name: "File", Value: f.path},
			{Name: "Watching", Value: strconv.FormatBool(watching)},
			{Name: "Loads", Value: strconv.Itoa(reloads)},
			{Name: "Env prefix", Value: FlagEnvPrefix + "_"},
		},
	}
	if !loadedAt.IsZero() {
		source.Fields = append(source.Fields, Field{Name: "Loaded at", Value: loadedAt.Format(time.RFC3339)})
	}
	if loadErr != nil {
		source.Note = "last reload failed, showing previous flags: " + loadErr.Error()
	}

	flags := f.Flags()
	table := &Table{Columns: []string{"Flag", "Enabled", "Source", "Owner", "Description"}}
	for _, flag := range flags {
		table.Rows = append(table.Rows, []string{
			flag.Name, strconv.FormatBool(flag.Enabled), flag.Source, flag.Owner, flag.Description,
		})
	}
	list := Section{Title: "Flags", Table: table}
	if len(flags) == 0 {
		list.Note = "no flags defined"
	}
	return View{Title: "Feature Flags", Sections: []Section{source, list}}, nil
}

// Start watches the flags file until ctx is done or Stop is called.
func (f *FlagsInspector) Start(ctx context.Context) error {
	if f.path == "" {
		return fmt.Errorf("flags: no file to watch")
	}
	f.mu.Lock()
	if f.watcher != nil {
		f.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("flags: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		f.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("flags: watch %s: %w", filepath.Dir(f.path), err)
	}
	f.watcher = watcher
	f.mu.Unlock()

	async.Go(f.logger, "flags.watch", func() { f.watchLoop(watcher) })
	async.Go(f.logger, "flags.watch.ctx", func() {
		select {
		case <-ctx.Done():
			f.Stop()
		case <-f.stopCh:
		}
	})
	return nil
}

// Stop ends watching.
func (f *FlagsInspector) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.timer != nil {
			f.timer.Stop()
			f.timer = nil
		}
		if f.watcher != nil {
			_ = f.watcher.Close()
			f.watcher = nil
		}
	})
}

func (f *FlagsInspector) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-f.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("flags: watcher error: %v", err)
		}
	}
}

func (f *FlagsInspector) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != f.path {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, f.reloadFromWatcher)
}

func (f *FlagsInspector) reloadFromWatcher() {
	select {
	case <-f.stopCh:
		return
	default:
	}
	if err := f.Reload(); err != nil {
		f.logger.Warn("flags: reload failed: %v", err)
		return
	}
	f.logger.Info("flags: reloaded %s", f.path)
	f.mu.RLock()
	listeners := append([]func(){}, f.listeners...)
	f.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

var _ Inspector = (*FlagsInspector)(nil)
