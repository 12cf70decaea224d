package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"empathai/internal/clients"
	"empathai/internal/config"
	"empathai/internal/desktop"
	"empathai/internal/eventbus"
	"empathai/internal/httpserver"
	"empathai/internal/notifier"
	"empathai/internal/permission"
	"empathai/internal/permission/dbusprompt"
	"empathai/internal/pipeline"
	"empathai/internal/prefs"
	"empathai/internal/presenter"
	rtsup "empathai/internal/runtime/supervisor"
	"empathai/internal/scheduler"
	"empathai/internal/severity"
	"empathai/internal/source"
	"empathai/internal/source/bridge"
	"empathai/internal/source/dbusmon"
	"empathai/internal/source/push"
	"empathai/internal/storage"
	"empathai/internal/support"
	"empathai/internal/transport/telegram"
	"empathai/internal/worker"
	logx "empathai/pkg/logx"
)

const (
	jobHeartbeat = "worker.heartbeat"
	jobPrune     = "incidents.prune"
)

var errNoDesktop = errors.New("no desktop session bus")

// App owns every long-lived component of the daemon.
type App struct {
	cfgm *ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	prefs *prefs.Prefs

	support *support.Client
	desk    *desktop.Client
	hub     *clients.Hub
	push    *push.Source
	worker  *worker.Worker
	chain   *presenter.Chain
	direct  *presenter.Direct
	notif   *notifier.Service
	bot     *telegram.Bot
	pipe    *pipeline.Pipeline
	status  *source.Status
	group   *source.Group
	perm    *permission.Controller
	sched   *scheduler.Service
	http    *httpserver.Service
}

// LoadConfig reads .env from the working directory and from next to the
// config file, then parses, overlays the environment and validates.
func LoadConfig(cfgm *ConfigManager) (*Config, error) {
	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(cfgm.Path()), ".env")); err != nil {
		return nil, fmt.Errorf("dotenv: %w", err)
	}
	cfgm.SetOverlay(config.ApplyEnv)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)
	return cfg, nil
}

// OpenStore opens the configured store. A disabled store yields nil.
func OpenStore(cfg *Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorage(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}

// Classifier builds the keyword classifier described by cfg.
func Classifier(cfg *Config) (*severity.Classifier, error) { return mapClassifier(cfg) }

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := LoadConfig(cfgm)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	if a.store, err = OpenStore(cfg, comp("storage")); err != nil {
		return nil, err
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}
	a.prefs = prefs.New(a.store)

	classifier, err := mapClassifier(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapSupport(cfg)
	if err != nil {
		return nil, err
	}
	a.support = support.NewClient(sc, &http.Client{}, comp("support"))

	prompterKind := strings.ToLower(strings.TrimSpace(cfg.Permission.Prompter))
	if cfg.Worker.Enabled || prompterKind != "auto" {
		desk, err := desktop.Connect(comp("desktop"))
		if err != nil {
			a.log.Warn("desktop notifications unavailable", logx.Err(err))
		} else {
			a.desk = desk
		}
	}

	a.hub = clients.NewHub(comp("clients"))
	a.push = push.New(comp("push"))

	if cfg.Worker.Enabled && a.desk != nil {
		a.worker = worker.New(worker.Config{
			QueueSize: cfg.Worker.QueueSize,
			Watchdog:  cfg.Worker.Watchdog,
		}, worker.Deps{
			Display: worker.DesktopDisplay{Client: a.desk},
			Hub:     a.hub,
			Opener:  clients.CommandOpener{Command: cfg.Worker.Opener, BaseURL: cfg.Support.BaseURL},
			Push:    a.push,
			Bus:     a.bus,
			Log:     comp("worker"),
		})
	}

	direct, err := mapDirect(cfg)
	if err != nil {
		return nil, err
	}
	var strategies []presenter.Strategy
	if a.worker != nil {
		strategies = append(strategies, presenter.Worker{P: a.worker})
	}
	if direct != nil {
		direct.Log = comp("presenter")
		a.direct = direct
		strategies = append(strategies, direct)
	}
	a.chain = presenter.NewChain(cfg.Support.BaseURL, comp("presenter"), strategies...)

	tc, tokenSet, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	var sender notifier.Sender
	if tokenSet {
		if a.bot, err = telegram.New(tc, a.statusText, comp("telegram")); err != nil {
			return nil, err
		}
		sender = a.bot
	}
	nc, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(nc, sender, comp("notifier"), a.bus, a.store)

	pc, err := mapPipeline(cfg)
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Fetcher:   a.support,
		Presenter: a.chain,
		Relay:     a.notif,
		Bus:       a.bus,
		Log:       comp("pipeline"),
	}
	if a.store != nil {
		deps.Incidents = a.store
	}
	a.pipe = pipeline.New(pc, classifier, deps)

	a.status = source.NewStatus(comp("source"), a.bus)
	sources := []source.Source{a.push}
	if cfg.Sources.DBus.Enabled {
		sources = append(sources, dbusmon.New(dbusmon.Config{
			IgnoreApps: pc.IgnoreApps,
			Buffer:     cfg.Sources.DBus.Buffer,
		}, comp("dbusmon")))
	}
	if cfg.Sources.Bridge.Enabled {
		sources = append(sources, bridge.New(bridge.Config{
			Command: cfg.Sources.Bridge.Command,
			Args:    cfg.Sources.Bridge.Args,
		}, a.status, comp("bridge")))
	}
	a.group = source.NewGroup(a.pipe.Enqueue, a.status, comp("source"), sources...)

	permCfg, err := mapPermission(cfg)
	if err != nil {
		return nil, err
	}
	var notice presenter.Strategy
	if direct != nil {
		notice = direct
	} else if a.worker != nil {
		notice = presenter.Worker{P: a.worker}
	}
	a.perm = permission.NewController(permCfg, permission.Deps{
		Prompter: a.prompter(prompterKind),
		Listener: a.group,
		Store:    a.prefs,
		Notifier: presenter.Notices{S: notice, Log: comp("presenter")},
		Bus:      a.bus,
		Log:      comp("permission"),
	})

	a.sched = scheduler.New(scheduler.Config{DefaultTimeout: 30 * time.Second, HistorySize: 50}, comp("scheduler"))

	hc, err := mapHTTP(cfg)
	if err != nil {
		return nil, err
	}
	routes := httpserver.Routes{
		Settings: a.perm,
		Status:   func(ctx context.Context) any { return a.Status(ctx) },
	}
	if cfg.Sources.Push.Enabled {
		routes.Push = a.push
	}
	if a.worker != nil {
		routes.Clients = a.hub
	}
	if cfg.HTTP.ServeSupport {
		routes.Support = support.NewHandler(classifier, comp("support"))
	}
	a.http = httpserver.New(hc, routes, comp("http"))

	return a, nil
}

func (a *App) prompter(kind string) permission.Prompter {
	if kind == "auto" {
		return dbusprompt.AutoGrant{}
	}
	if a.desk == nil {
		return unavailablePrompter{}
	}
	return dbusprompt.Prompter{Bus: a.desk}
}

// unavailablePrompter dismisses every prompt so the controller keeps
// retrying until a desktop session appears or the budget runs out.
type unavailablePrompter struct{}

func (unavailablePrompter) Request(context.Context) (permission.State, error) {
	return permission.Dismissed, errNoDesktop
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound API address, or "" when the API is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return validateConfig(cfg) })
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	a.notif.Start(run)
	if a.bot != nil {
		if err := a.bot.Start(run); err != nil {
			return err
		}
	}
	a.pipe.Start(run)
	if a.worker != nil {
		if err := a.worker.Start(run); err != nil {
			a.log.Warn("worker unavailable; presenting directly", logx.Err(err))
		}
	}
	if err := a.perm.Start(run); err != nil {
		return fmt.Errorf("permission: %w", err)
	}

	if err := a.registerJobs(cfg); err != nil {
		return err
	}
	if err := a.sched.Start(run); err != nil {
		return err
	}
	if a.http.Enabled() {
		a.http.Start(run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("worker", a.worker != nil),
		logx.Bool("relay", a.notif.Enabled()),
		logx.Bool("http", a.http.Enabled()),
	)
	return nil
}

func (a *App) registerJobs(cfg *Config) error {
	if a.worker != nil {
		spec := strings.TrimSpace(cfg.Worker.Heartbeat)
		if spec == "" {
			spec = worker.DefaultHeartbeat
		}
		if err := a.sched.Add(scheduler.Job{Name: jobHeartbeat, Spec: spec, Timeout: 5 * time.Second, Run: a.worker.Heartbeat}); err != nil {
			return err
		}
	}
	if a.store != nil {
		if err := a.sched.Add(scheduler.Job{Name: jobPrune, Spec: pruneSchedule(cfg), Run: a.pruneIncidents}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) pruneIncidents(ctx context.Context) error {
	keep := maxIncidents(a.cfgm.Get())
	n, err := a.store.PruneIncidents(ctx, keep)
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("incidents pruned", logx.Int("removed", n), logx.Int("kept", keep))
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("stop step panicked", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Intake first so nothing new reaches the pipeline while it drains.
	step("http", time.Second, a.http.Stop)
	step("permission", 2*time.Second, a.perm.Close)
	step("pipeline", 3*time.Second, a.pipe.Stop)
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("worker", 2*time.Second, func(c context.Context) {
		if a.worker != nil {
			a.worker.Stop(c)
		}
		a.hub.CloseAll()
		if a.direct != nil {
			a.direct.Close(c)
		}
	})
	step("notifier", 2*time.Second, a.notif.Stop)
	step("telegram", 2*time.Second, func(c context.Context) {
		if a.bot != nil {
			_ = a.bot.Stop(c)
		}
	})
	step("desktop", time.Second, func(context.Context) {
		if a.desk != nil {
			_ = a.desk.Close()
		}
	})
	step("storage", time.Second, func(context.Context) {
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
	})
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
