// Command edenhost is the application runtime core's host process: it
// wires the Permission Engine, User & Session, Command Router,
// Subscription Bus, AppBus, package registry, View Manager, and Process
// Lifecycle into one running instance, then serves the debug/control
// HTTP surface until interrupted. The global zerolog logger is
// configured here, once, before any other package's logging can fire.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/b0czek/eden/internal/appbus"
	"github.com/b0czek/eden/internal/config"
	"github.com/b0czek/eden/internal/httpapi"
	"github.com/b0czek/eden/internal/lifecycle"
	"github.com/b0czek/eden/internal/manifest"
	"github.com/b0czek/eden/internal/permission"
	"github.com/b0czek/eden/internal/registry"
	"github.com/b0czek/eden/internal/router"
	"github.com/b0czek/eden/internal/session"
	"github.com/b0czek/eden/internal/store"
	"github.com/b0czek/eden/internal/subscription"
	"github.com/b0czek/eden/internal/viewhost"
	"github.com/b0czek/eden/internal/viewmanager"
	"github.com/b0czek/eden/internal/workerhost"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// workspaceBounds is the host window's fixed coordinate space; it is not
// yet configurable because the View Manager treats it as given rather
// than queried from a windowing toolkit.
var workspaceBounds = manifest.Bounds{X: 0, Y: 0, W: 1920, H: 1080}

func main() {
	configPath := flag.String("config", "eden.yaml", "path to the host configuration file")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("edenhost exited")
	}
}

// runningCheckerRef breaks the AppBus <-> Process Lifecycle construction
// cycle: the AppBus needs a running-app check at construction time, but
// that check is a method on the lifecycle.Manager, which itself needs
// the already-constructed AppBus as its ServiceRevoker.
type runningCheckerRef struct {
	mgr *lifecycle.Manager
}

func (r *runningCheckerRef) IsRunning(appID string) bool {
	if r.mgr == nil {
		return false
	}
	return r.mgr.IsRunning(appID)
}

// Shutdown drains every running app as part of a session change; a no-op
// before lifecycleMgr exists, which can only happen before any session
// change could possibly have been triggered.
func (r *runningCheckerRef) Shutdown() {
	if r.mgr != nil {
		r.mgr.Shutdown()
	}
}

func run(configPath string) error {
	watcher, err := config.NewWatcher(configPath, func(c config.Config) {
		log.Info().Str("apps_dir", c.AppsDir).Msg("configuration reloaded")
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := watcher.Current()

	st, err := store.OpenSQLite(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	perms := permission.New()

	subs := subscription.New(perms, log.Logger)

	// runningRef is declared before sessions so the onChange hook below can
	// close over it; its mgr field is filled in once lifecycleMgr exists.
	runningRef := &runningCheckerRef{}

	var sessions *session.Manager
	sessions = session.New(st, coreSet(cfg.CoreApps), func(ev session.ChangeEvent) {
		subs.Notify("user/changed", ev)
		if ev.Reason == session.ReasonLogout {
			runningRef.Shutdown()
			sessions.MarkDrained()
		}
	})
	if err := sessions.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrapping session: %w", err)
	}

	cmdRouter := router.New(perms, sessions, log.Logger)

	reg := registry.New(manifest.PresetTable{
		"read-only":  {"fs/read"},
		"full-disk":  {"fs/read", "fs/write"},
		"networking": {"net/connect"},
	})
	if err := reg.LoadDir(cfg.AppsDir); err != nil {
		return fmt.Errorf("loading app registry: %w", err)
	}
	for _, rec := range reg.List() {
		grants := make(map[string][]string, len(rec.ResolvedGrants))
		for _, g := range rec.ResolvedGrants {
			grants[g.GrantID] = g.Permissions
		}
		perms.Register(rec.Manifest.ID, rec.Manifest.Permissions, grants)
	}

	bus := appbus.New(runningRef)

	views := viewmanager.New(tilingConfig(cfg.Tiling), workspaceBounds, subs)
	vh := viewhost.New(views)

	wh, err := workerhost.New(log.Logger)
	if err != nil {
		return fmt.Errorf("starting worker host: %w", err)
	}
	defer wh.Close()

	lifecycleMgr := lifecycle.New(sessions, reg, bus, subs, vh, wh, subs, cmdRouter, cfg.LoginAppID)
	runningRef.mgr = lifecycleMgr

	registerFoundationCommands(cmdRouter, lifecycleMgr, reg, bus, sessions)

	httpRouter := httpapi.NewRouter(bus, subs, views, lifecycleMgr, sessions, log.Logger)

	srv := &http.Server{Addr: cfg.DebugListen, Handler: httpRouter}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("debug http server stopped")
		}
	}()
	log.Info().Str("addr", cfg.DebugListen).Msg("debug/control http surface listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	lifecycleMgr.Shutdown()
	return srv.Close()
}

// registerFoundationCommands installs the foundation-owned namespace every
// other handler in the system builds on: launching, stopping and listing
// apps, and discovering what services the AppBus currently exposes. These
// are the commands a view or worker reaches by sending its
// "command/invoke" request with the caller's identity attached; ownerRef
// "" marks them as foundation-owned rather than app-owned.
func registerFoundationCommands(r *router.Router, lifecycleMgr *lifecycle.Manager, reg *registry.Registry, bus *appbus.Bus, sessions *session.Manager) {
	type launchArgs struct {
		AppID  string
		Bounds *manifest.Bounds
	}
	r.Register("process/launch", "", "", "", "launch", func(_ router.CallerContext, args any) (any, error) {
		var a launchArgs
		if err := mapstructure.Decode(args, &a); err != nil {
			return nil, err
		}
		return lifecycleMgr.Launch(a.AppID, a.Bounds)
	})

	type appIDArgs struct {
		AppID string
	}
	r.Register("process/stop", "", "", "", "stop", func(_ router.CallerContext, args any) (any, error) {
		var a appIDArgs
		if err := mapstructure.Decode(args, &a); err != nil {
			return nil, err
		}
		return nil, lifecycleMgr.Stop(a.AppID)
	})

	r.Register("process/list", "", "", "", "list", func(_ router.CallerContext, _ any) (any, error) {
		return lifecycleMgr.GetRunningApps(), nil
	})

	r.Register("registry/list", "", "", "", "list", func(_ router.CallerContext, _ any) (any, error) {
		return reg.List(), nil
	})

	r.Register("appbus/services", "", "", "", "listServices", func(_ router.CallerContext, _ any) (any, error) {
		return bus.ListServices(), nil
	})

	type loginArgs struct {
		Username string
		Password string
	}
	r.Register("session/login", "", "", "", "login", func(_ router.CallerContext, args any) (any, error) {
		var a loginArgs
		if err := mapstructure.Decode(args, &a); err != nil {
			return nil, err
		}
		return nil, sessions.Login(a.Username, a.Password)
	})

	r.Register("session/logout", "", "", "", "logout", func(_ router.CallerContext, _ any) (any, error) {
		sessions.Logout()
		return nil, nil
	})
}

func coreSet(ids []string) session.CoreSet {
	set := make(session.CoreSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func tilingConfig(t config.Tiling) viewmanager.TilingConfig {
	return viewmanager.TilingConfig{
		Mode:    viewmanager.TilingMode(t.Mode),
		Gap:     t.Gap,
		Padding: t.Padding,
		Columns: t.Columns,
		Rows:    t.Rows,
	}
}
