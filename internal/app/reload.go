package app

import (
	"context"
	"strings"
	"time"

	"empathai/internal/config"
	"empathai/internal/worker"
	logx "empathai/pkg/logx"
)

// reloadLoop applies committed configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if cold := config.NeedsRestart(sections); len(cold) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strs("sections", cold))
	}

	a.logs.Apply(mapLogging(next))

	if pc, err := mapPipeline(next); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		a.pipe.Apply(pc)
	}
	if c, err := mapClassifier(next); err != nil {
		a.log.Warn("invalid classifier config; keeping previous", logx.Err(err))
	} else {
		a.pipe.SetClassifier(c)
	}
	if sc, err := mapSupport(next); err != nil {
		a.log.Warn("invalid support config; keeping previous", logx.Err(err))
	} else {
		a.support.Apply(sc)
	}
	if pc, err := mapPermission(next); err != nil {
		a.log.Warn("invalid permission config; keeping previous", logx.Err(err))
	} else {
		a.perm.Apply(pc)
	}

	if nc, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else if a.bot == nil && nc.Enabled {
		a.log.Warn("relay enabled without a running bot; restart required")
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case was && !nc.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("relay disabled via config")
		case !was && nc.Enabled:
			a.notif.Start(ctx)
			a.log.Info("relay enabled via config")
		}
	}

	if hc, err := mapHTTP(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	if a.worker != nil {
		spec := strings.TrimSpace(next.Worker.Heartbeat)
		if spec == "" {
			spec = worker.DefaultHeartbeat
		}
		if err := a.sched.Reschedule(jobHeartbeat, spec); err != nil {
			a.log.Warn("heartbeat reschedule failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.sched.Reschedule(jobPrune, pruneSchedule(next)); err != nil {
			a.log.Warn("prune reschedule failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
