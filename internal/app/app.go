// Package app wires the bell daemon together and owns its start and stop
// order.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schoolbell/internal/activation"
	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/config"
	"schoolbell/internal/engine"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/metrics"
	"schoolbell/internal/observability/statusd"
	"schoolbell/internal/playback"
	"schoolbell/internal/registry"
	"schoolbell/internal/runtime/supervisor"
	"schoolbell/internal/storage"
	"schoolbell/internal/transport/telegram"
	"schoolbell/pkg/logx"
)

const initTimeout = 15 * time.Second

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	sup  *supervisor.Supervisor

	clk   clock.Clock
	loc   *time.Location
	tick  time.Duration
	bus   eventbus.Bus
	store storage.Store
	prom  *prometheus.Registry
	sink  metrics.Sink

	reg  *registry.Registry
	act  *activation.Gate
	gate *playback.Gate
	eng  *engine.Engine

	status *statusd.Service
	bot    *telegram.Bot
	digest *digest
	sd     sdNotifier

	started time.Time
}

type Option func(*options)

type options struct {
	clk clock.Clock
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := checkRuntime(cfg); err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogging(cfg))
	a := &App{cfgm: cfgm, logs: logs, log: root.With(logx.String("comp", "app"))}
	if err := a.build(ctx, cfg, root, o); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger, o options) error {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	a.loc = loc
	if a.tick, err = mapTick(cfg); err != nil {
		return err
	}
	a.clk = o.clk
	if a.clk == nil {
		a.clk = clock.System{Location: loc}
	}

	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, root); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.reg = registry.New(a.store, root, registry.WithClock(a.clk.Now))
	if err := a.reg.Load(ctx); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	a.act = activation.New(a.store, cfg.Activation.CodeSuffix, root)
	if err := a.act.Init(ctx); err != nil {
		return fmt.Errorf("init activation: %w", err)
	}

	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.sink = metrics.NewPrometheusSink(a.prom, root)
	a.bus = eventbus.New()

	player, err := mapPlayer(cfg, root)
	if err != nil {
		return err
	}
	a.gate = playback.NewGate(a.reg, player, root,
		playback.WithNow(a.clk.Now),
		playback.OnChange(func(st playback.Status) {
			a.sink.PlaybackActive(st.Playing)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypePlayback, Data: st})
		}),
		playback.OnError(func(pe *playback.PlaybackError) {
			a.sink.PlaybackFailed()
			a.bus.Publish(eventbus.Event{Type: eventbus.TypePlaybackError, Data: eventbus.PlaybackError{
				ScheduleID: pe.ScheduleID, Error: pe.Err.Error(),
			}})
		}),
	)

	a.eng = engine.New(engine.Config{
		Location: loc,
		Interval: a.tick,
		Active:   a.active,
	}, a.reg, a.gate, a.clk, a.bus, a.sink, root)

	if cfg.Status.Enabled {
		sc, err := mapStatus(cfg)
		if err != nil {
			return err
		}
		a.status = statusd.New(sc,
			func(ctx context.Context) any { return a.Report(ctx) },
			a.health,
			a.prom,
			root.With(logx.String("comp", "status")),
		)
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tc, err := mapTelegram(cfg)
		if err != nil {
			return err
		}
		a.bot, err = telegram.New(tc, telegram.Deps{
			Schedules:  scheduleOps{Registry: a.reg, bus: a.bus},
			Player:     manualPlayer{Gate: a.gate, sink: a.sink},
			Engine:     a.eng,
			Activation: a.act,
			Audit:      a.store,
			Bus:        a.bus,
			Now:        func() time.Time { return a.clk.Now().In(loc) },
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.logs.AttachTelegram(a.bot, cfg.Telegram.NotifyChatID)
	}

	a.digest = newDigest(loc, root.With(logx.String("comp", "digest")), a.digestText, a.sendDigest)
	if err := a.digest.Apply(cfg.Digest); err != nil {
		return err
	}

	a.sd = sdNotifier{enabled: cfg.Systemd.Notify, log: root.With(logx.String("comp", "systemd")), alive: a.alive}
	return nil
}

// active gates firing on activation when the config requires it.
func (a *App) active() bool {
	if cfg := a.cfgm.Get(); cfg == nil || !cfg.Activation.Required {
		return true
	}
	return a.act.Activated()
}

// alive reports whether a tick landed recently.
func (a *App) alive() bool {
	last := a.eng.State().Now
	if last.IsZero() {
		return time.Since(a.started) < 10*a.tick+5*time.Second
	}
	return a.clk.Now().Sub(last) < 10*a.tick+5*time.Second
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if !a.alive() {
		return errors.New("tick loop stalled")
	}
	return nil
}

func (a *App) digestText(now time.Time) string {
	names := map[string]string{}
	for _, c := range a.reg.Clips() {
		names[c.ID] = c.Name
	}
	return buildDigest(now, a.reg.Schedules(), names, !a.active())
}

func (a *App) sendDigest(ctx context.Context, text string) error {
	chat := a.cfgm.Get().Telegram.NotifyChatID
	if a.bot == nil || chat == 0 {
		a.log.Info("daily digest", logx.String("text", text))
		return nil
	}
	return a.bot.Notify(ctx, chat, text)
}

// Done closes when the app context ends, on Stop or a fatal loop error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal loop error.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkRuntime(cfg)
	})

	a.sup.GoRestart("engine", a.eng.Run,
		supervisor.WithRestartBackoff(100*time.Millisecond, 2*time.Second),
		supervisor.WithMaxRestarts(20),
	)

	if a.status != nil {
		a.sup.GoRestart("status.http", a.status.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}
	if a.bot != nil {
		a.sup.GoRestart("telegram.poll", a.bot.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		a.sup.Go("telegram.notify", a.bot.RunNotifications)
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
				if e.Type != eventbus.TypeTick {
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Keep only the newest of a burst.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.digest.Start()
	a.sup.Go0("systemd.watchdog", a.sd.watchdog)
	a.sd.ready(a.readyStatus())

	a.log.Info("app started",
		logx.String("tz", a.loc.String()),
		logx.Int("schedules", len(a.reg.Schedules())),
		logx.String("device_id", a.act.DeviceID()),
		logx.Bool("activated", a.act.Activated()),
		logx.Bool("telegram", a.bot != nil),
		logx.Bool("status", a.status != nil),
	)
	return nil
}

func (a *App) readyStatus() string {
	next, ok := bell.Project(a.clk.Now().In(a.loc), a.reg.Schedules())
	if !ok {
		return "no more bells today"
	}
	return "next bell " + next.Label() + " at " + next.FireTime.Format("15:04")
}

// applyConfig fans a committed reload out to the hot sections.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if ch.Changed("logging") || ch.Changed("telegram") {
		a.logs.Apply(mapLogging(next))
		if a.bot != nil {
			a.logs.AttachTelegram(a.bot, next.Telegram.NotifyChatID)
		}
	}
	if ch.Changed("activation") {
		a.act.SetSuffix(next.Activation.CodeSuffix)
	}
	if a.bot != nil && (ch.Changed("telegram") || ch.Changed("activation")) {
		if tc, err := mapTelegram(next); err != nil {
			a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
		} else {
			a.bot.Apply(tc)
		}
	}
	if ch.Changed("digest") {
		if err := a.digest.Apply(next.Digest); err != nil {
			a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", ch.Restart))
	}

	fields := append([]logx.Field{logx.Strings("changed", ch.Sections)}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop cancels every loop and tears components down in order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", time.Second, a.digest.Stop)
	step("playback", time.Second, func(context.Context) error { a.gate.Stop(); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
