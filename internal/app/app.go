package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/saulrh/living-room-bot/internal/adapters/discord"
	"github.com/saulrh/living-room-bot/internal/config"
	"github.com/saulrh/living-room-bot/internal/janitor"
	"github.com/saulrh/living-room-bot/internal/presence"
	"github.com/saulrh/living-room-bot/internal/runtime/supervisor"
	"github.com/saulrh/living-room-bot/internal/services/scheduler"
	"github.com/saulrh/living-room-bot/internal/transport"
	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// TokenEnvVar is consulted when the config file omits discord.token.
const TokenEnvVar = "DISCORD_BOT_TOKEN"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	gateway transport.Gateway
	sched   *scheduler.Service
	tracker *presence.Tracker
	jan     *janitor.Janitor

	transitions chan transport.VoiceTransition
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	token := strings.TrimSpace(cfg.Discord.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(TokenEnvVar))
	}
	if token == "" {
		return nil, fmt.Errorf("discord token missing: set discord.token or %s", TokenEnvVar)
	}

	gw, err := discord.New(discord.Config{Token: token}, log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}

	schedSvc := scheduler.New(scheduler.Config{
		Workers:        2,
		QueueSize:      64,
		DefaultTimeout: time.Minute,
	}, log.With(logx.String("comp", "scheduler")))

	debounce, err := config.ParseDurationOrDefault("presence.debounce_period", cfg.Presence.DebouncePeriod, config.DefaultDebouncePeriod)
	if err != nil {
		return nil, err
	}
	tracker := presence.New(presence.Config{
		VoiceChannelID: cfg.Discord.VoiceChannelID,
		TextChannelID:  cfg.Discord.TextChannelID,
		DebouncePeriod: debounce,
	}, gw, schedSvc, log.With(logx.String("comp", "presence")))

	policy, err := janitorPolicy(cfg)
	if err != nil {
		return nil, err
	}
	jan := janitor.New(cfg.Discord.TextChannelID, policy, gw, log.With(logx.String("comp", "janitor")))

	return &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		gateway:     gw,
		sched:       schedSvc,
		tracker:     tracker,
		jan:         jan,
		transitions: make(chan transport.VoiceTransition, 64),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.gateway.Start(a.sup.Context(), a.transitions); err != nil {
		return err
	}

	// Both channels must exist before anything is scheduled. A missing channel
	// is a configuration error, not something to limp along with.
	cfg := a.cfgm.Get()
	for _, probe := range []struct{ key, id string }{
		{"discord.voice_channel_id", cfg.Discord.VoiceChannelID},
		{"discord.text_channel_id", cfg.Discord.TextChannelID},
	} {
		ch, err := a.gateway.ResolveChannel(a.sup.Context(), probe.id)
		if err != nil {
			if errors.Is(err, transport.ErrChannelNotFound) {
				return fmt.Errorf("%s: channel %s not found", probe.key, probe.id)
			}
			return fmt.Errorf("%s: %w", probe.key, err)
		}
		a.log.Info("channel resolved", logx.String("key", probe.key), logx.String("id", ch.ID), logx.String("name", ch.Name))
	}

	a.sched.Start(a.sup.Context())
	if err := a.jan.Register(a.sched); err != nil {
		return err
	}

	// Restart-with-backoff: a panic inside transition handling must not leave
	// the bot deaf to voice events for the rest of the process lifetime.
	a.sup.GoRestart("presence.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case t, ok := <-a.transitions:
				if !ok {
					return nil
				}
				if err := a.tracker.HandleTransition(c, t); err != nil {
					a.log.Warn("voice transition not handled", logx.String("member", t.MemberID), logx.Err(err))
				}
			}
		}
	})

	// Hot reload fan-out. Channel IDs and the token are fixed for the process
	// lifetime; logging and the two policies follow the file.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	debounce, err := config.ParseDurationOrDefault("presence.debounce_period", cfg.Presence.DebouncePeriod, config.DefaultDebouncePeriod)
	if err != nil {
		a.log.Warn("invalid debounce config; keeping previous", logx.Err(err))
	} else {
		a.tracker.Apply(debounce)
	}

	policy, err := janitorPolicy(cfg)
	if err != nil {
		a.log.Warn("invalid janitor config; keeping previous", logx.Err(err))
	} else if err := a.jan.Apply(policy, a.sched); err != nil {
		a.log.Warn("janitor policy not applied", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("gateway", 2*time.Second, func(c context.Context) error { return a.gateway.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func janitorPolicy(cfg *config.Config) (janitor.Policy, error) {
	scan, err := config.ParseDurationOrDefault("janitor.scan_interval", cfg.Janitor.ScanInterval, config.DefaultScanInterval)
	if err != nil {
		return janitor.Policy{}, err
	}
	horizon, err := config.ParseDurationOrDefault("janitor.lookback_horizon", cfg.Janitor.LookbackHorizon, config.DefaultLookbackHorizon)
	if err != nil {
		return janitor.Policy{}, err
	}
	retain, err := config.ParseDurationOrDefault("janitor.retain_after", cfg.Janitor.RetainAfter, config.DefaultRetainAfter)
	if err != nil {
		return janitor.Policy{}, err
	}
	return janitor.Policy{
		ScanInterval:    scan,
		LookbackHorizon: horizon,
		RetainAfter:     retain,
	}, nil
}
