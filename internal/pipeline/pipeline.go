// Package pipeline turns observed notifications into support
// presentations: classify, fetch a reply, present it, record an incident
// and relay high-severity alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"empathai/internal/eventbus"
	"empathai/internal/notifier"
	"empathai/internal/presenter"
	rtsup "empathai/internal/runtime/supervisor"
	"empathai/internal/severity"
	"empathai/internal/source"
	"empathai/internal/storage"
	"empathai/internal/support"
	logx "empathai/pkg/logx"
)

var ErrQueueFull = errors.New("pipeline: source queue full")

type Config struct {
	MinTier severity.Tier
	// RelayTier is the lowest tier relayed to contacts.
	RelayTier severity.Tier
	QueueSize int
	// PresentRate and PresentBurst smooth presentations; zero means
	// unlimited.
	PresentRate  float64
	PresentBurst int
	// IgnoreApps never reach the classifier.
	IgnoreApps []string
}

func DefaultConfig() Config {
	return Config{MinTier: severity.Medium, RelayTier: severity.High, QueueSize: 64}
}

// Fetcher produces a reply; it never fails.
type Fetcher interface {
	Fetch(ctx context.Context, req support.Request) support.Reply
}

// Shower presents a reply and reports the strategy used.
type Shower interface {
	Show(ctx context.Context, r support.Reply) (presenter.Outcome, error)
}

type Relayer interface {
	Relay(ctx context.Context, a notifier.Alert) error
}

type IncidentLog interface {
	AppendIncident(ctx context.Context, in storage.Incident) error
}

type Deps struct {
	Fetcher   Fetcher
	Presenter Shower
	Relay     Relayer
	Incidents IncidentLog
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Result describes one handled event. It never carries the message text.
type Result struct {
	Severity  severity.Tier `json:"severity"`
	Hits      int           `json:"hits"`
	Ignored   bool          `json:"ignored"`
	Presented bool          `json:"presented"`
	Strategy  string        `json:"strategy,omitempty"`
	Fallback  bool          `json:"fallback"`
	Relayed   bool          `json:"relayed"`
	Error     string        `json:"error,omitempty"`
	Source    string        `json:"source"`
	App       string        `json:"app,omitempty"`
}

type Stats struct {
	Received  uint64 `json:"received"`
	Ignored   uint64 `json:"ignored"`
	Presented uint64 `json:"presented"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Relayed   uint64 `json:"relayed"`
}

type Pipeline struct {
	deps Deps
	log  logx.Logger

	classifier atomic.Pointer[severity.Classifier]

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sup     *rtsup.Supervisor
	queues  map[string]chan source.Event

	received, ignored, presented, failed, dropped, relayed atomic.Uint64
}

func New(cfg Config, c *severity.Classifier, deps Deps) *Pipeline {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{deps: deps, log: log, queues: map[string]chan source.Event{}}
	if c == nil {
		c = severity.Default()
	}
	p.classifier.Store(c)
	p.Apply(cfg)
	return p
}

// Apply swaps tunables. Queue sizes apply to queues created afterwards.
func (p *Pipeline) Apply(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if !cfg.RelayTier.Valid() || cfg.RelayTier < cfg.MinTier {
		cfg.RelayTier = severity.High
	}
	var lim *rate.Limiter
	if cfg.PresentRate > 0 {
		burst := cfg.PresentBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.PresentRate), burst)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.limiter = lim
	p.mu.Unlock()
}

// SetClassifier swaps the keyword tables.
func (p *Pipeline) SetClassifier(c *severity.Classifier) {
	if c != nil {
		p.classifier.Store(c)
	}
}

func (p *Pipeline) config() (Config, *rate.Limiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, p.limiter
}

// Start enables asynchronous intake through Enqueue.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sup != nil {
		return
	}
	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(p.log.With(logx.String("comp", "pipeline"))),
		rtsup.WithCancelOnError(false),
	)
}

// Stop closes every source queue and waits for in-flight events until ctx
// expires.
func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	sup := p.sup
	p.sup = nil
	queues := p.queues
	p.queues = map[string]chan source.Event{}
	p.mu.Unlock()
	if sup == nil {
		return
	}
	for _, q := range queues {
		close(q)
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sup.Cancel()
		p.log.Warn("pipeline stop incomplete", logx.Err(err))
	}
}

// Enqueue is the source.Handler used by the listener. Events from one
// source are handled one at a time in arrival order; a full queue drops the
// event.
func (p *Pipeline) Enqueue(_ context.Context, e source.Event) {
	p.received.Add(1)
	origin := e.Origin
	if origin == "" {
		origin = "unknown"
	}

	p.mu.Lock()
	sup := p.sup
	if sup == nil {
		p.mu.Unlock()
		p.drop(e, errors.New("pipeline not running"))
		return
	}
	q, ok := p.queues[origin]
	if !ok {
		q = make(chan source.Event, p.cfg.QueueSize)
		p.queues[origin] = q
		sup.Go0("source."+origin, func(ctx context.Context) { p.consume(ctx, q) })
	}
	select {
	case q <- e:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.drop(e, ErrQueueFull)
	}
}

func (p *Pipeline) drop(e source.Event, err error) {
	p.dropped.Add(1)
	p.log.Warn("notification dropped", logx.String("source", e.Origin), logx.Err(err))
	eventbus.Publish(p.deps.Bus, eventbus.PipelineDropped, Result{Source: e.Origin, App: e.SourceApp, Error: err.Error()})
}

func (p *Pipeline) consume(ctx context.Context, q <-chan source.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q:
			if !ok {
				return
			}
			p.Handle(ctx, e)
		}
	}
}

// Handle runs one event through the pipeline synchronously. It never
// panics and never returns an error; failures are logged and reported in
// the result.
func (p *Pipeline) Handle(ctx context.Context, e source.Event) (res Result) {
	res = Result{Source: e.Origin, App: e.SourceApp}
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			res.Error = fmt.Sprintf("panic: %v", r)
			p.log.Error("pipeline panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			eventbus.Publish(p.deps.Bus, eventbus.PipelineFailed, res)
		}
	}()

	cfg, lim := p.config()
	if p.ignoredApp(cfg, e.SourceApp) {
		res.Ignored = true
		return res
	}

	text := e.Text()
	analysis := p.classifier.Load().Analyze(text)
	res.Severity, res.Hits = analysis.Tier, len(analysis.Hits)
	eventbus.Publish(p.deps.Bus, eventbus.PipelineClassified, res)

	if analysis.Tier < cfg.MinTier {
		p.ignored.Add(1)
		res.Ignored = true
		p.log.Debug("notification below threshold",
			logx.String("source", e.Origin), logx.String("severity", analysis.Tier.String()))
		eventbus.Publish(p.deps.Bus, eventbus.PipelineIgnored, res)
		return res
	}

	reply := support.FallbackReply(analysis.Tier)
	if p.deps.Fetcher != nil {
		// The title travels separately; the message is the body alone.
		msg := strings.TrimSpace(e.Body)
		if msg == "" {
			msg = text
		}
		reply = p.deps.Fetcher.Fetch(ctx, support.Request{
			Message:  msg,
			Severity: analysis.Tier,
			Source:   e.SourceApp,
			Title:    e.Title,
			Hits:     analysis.Hits,
		})
	}
	res.Fallback = reply.Fallback

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			res.Error = err.Error()
			p.finish(ctx, e, res)
			return res
		}
	}

	if p.deps.Presenter == nil {
		res.Error = presenter.ErrNoStrategy.Error()
	} else if out, err := p.deps.Presenter.Show(ctx, reply); err != nil {
		res.Error = err.Error()
	} else {
		res.Presented = true
		res.Strategy = out.Strategy
	}

	if res.Presented && analysis.Tier >= cfg.RelayTier && p.deps.Relay != nil {
		err := p.deps.Relay.Relay(ctx, notifier.Alert{Severity: analysis.Tier, SourceApp: e.SourceApp, At: e.ReceivedAt})
		switch {
		case err == nil:
			res.Relayed = true
			p.relayed.Add(1)
		case errors.Is(err, notifier.ErrDisabled):
		default:
			p.log.Warn("relay enqueue failed", logx.Err(err))
		}
	}

	p.finish(ctx, e, res)
	return res
}

func (p *Pipeline) finish(ctx context.Context, e source.Event, res Result) {
	if res.Presented {
		p.presented.Add(1)
		p.log.Info("support presented",
			logx.String("source", e.Origin),
			logx.String("severity", res.Severity.String()),
			logx.String("strategy", res.Strategy),
			logx.Bool("fallback", res.Fallback))
		eventbus.Publish(p.deps.Bus, eventbus.PipelinePresented, res)
	} else {
		p.failed.Add(1)
		p.log.Error("support presentation failed",
			logx.String("source", e.Origin),
			logx.String("severity", res.Severity.String()),
			logx.String("error", res.Error))
		eventbus.Publish(p.deps.Bus, eventbus.PipelineFailed, res)
	}
	if p.deps.Incidents == nil {
		return
	}
	at := e.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	in := storage.Incident{
		At:        at,
		Severity:  res.Severity.String(),
		Source:    e.Origin,
		App:       e.SourceApp,
		Hits:      res.Hits,
		Fallback:  res.Fallback,
		Presented: res.Presented,
		Strategy:  res.Strategy,
		Error:     res.Error,
	}
	if err := p.deps.Incidents.AppendIncident(ctx, in); err != nil {
		p.log.Warn("record incident failed", logx.Err(err))
	}
}

func (p *Pipeline) ignoredApp(cfg Config, app string) bool {
	app = strings.TrimSpace(app)
	if app == "" {
		return false
	}
	for _, a := range cfg.IgnoreApps {
		if strings.EqualFold(a, app) {
			return true
		}
	}
	return false
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Ignored:   p.ignored.Load(),
		Presented: p.presented.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Relayed:   p.relayed.Load(),
	}
}
