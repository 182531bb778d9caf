// Package config loads and hot-reloads the host's configuration file with
// spf13/viper, watching it with fsnotify the way viper's own WatchConfig
// does, and retrying a dropped watch with cenkalti/backoff/v5 rather than
// a fixed-interval poll.
package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TilingMode mirrors internal/viewmanager.TilingMode in config form.
type TilingMode string

// Tiling is the host window's tiling policy.
type Tiling struct {
	Mode    TilingMode `mapstructure:"mode"`
	Gap     float64    `mapstructure:"gap"`
	Padding float64    `mapstructure:"padding"`
	Columns *int       `mapstructure:"columns"`
	Rows    *int       `mapstructure:"rows"`
}

// Config is the host's top-level configuration.
type Config struct {
	LoginAppID  string   `mapstructure:"login_app_id"`
	AppsDir     string   `mapstructure:"apps_dir"`
	DatabaseDSN string   `mapstructure:"database_dsn"`
	DebugListen string   `mapstructure:"debug_listen"`
	CoreApps    []string `mapstructure:"core_apps"`
	Tiling      Tiling   `mapstructure:"tiling"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("login_app_id", "com.eden.login")
	v.SetDefault("apps_dir", "./apps")
	v.SetDefault("database_dsn", "eden.db")
	v.SetDefault("debug_listen", "127.0.0.1:9090")
	v.SetDefault("tiling.mode", "grid")
	v.SetDefault("tiling.gap", 8.0)
	v.SetDefault("tiling.padding", 8.0)
}

// Watcher owns a viper instance bound to a config file, delivering every
// successfully reloaded Config to onChange.
type Watcher struct {
	v        *viper.Viper
	onChange func(Config)
	mu       sync.Mutex
	current  Config
}

// Load reads path once and returns the parsed Config without installing a
// watch.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// NewWatcher loads path and starts watching it for changes. onChange fires
// once immediately with the initial config, then again after every
// subsequent reload.
func NewWatcher(path string, onChange func(Config)) (*Watcher, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	w := &Watcher{v: v, onChange: onChange}
	if err := w.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(fsnotify.Event) {
		if err := w.reload(); err != nil {
			w.retryWatch()
		}
	})
	v.WatchConfig()

	return w, nil
}

func (w *Watcher) reload() error {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.onChange(cfg)
	return nil
}

// retryWatch runs when a reload after a change event fails: it re-reads
// the file and re-installs viper's fsnotify watch with exponential backoff
// (200ms initial interval, giving up after 30s). A watch that silently
// stops delivering events is not detected and does not trigger it.
func (w *Watcher) retryWatch() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	operation := func() (struct{}, error) {
		if err := w.v.ReadInConfig(); err != nil {
			return struct{}{}, err
		}
		w.v.WatchConfig()
		return struct{}{}, w.reload()
	}

	_, _ = backoff.Retry(context.Background(), operation, backoff.WithBackOff(b))
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
