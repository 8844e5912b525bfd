package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"restbench/internal/config"
	"restbench/internal/env"
	"restbench/internal/loadgen"
	"restbench/internal/metrics"
	"restbench/internal/proc"
	"restbench/internal/report"
)

// EventType classifies progress events emitted during a pass.
type EventType int

const (
	EventImplStarting EventType = iota
	EventPhase
	EventScenarioStart
	EventScenarioDone
	EventImplDone
	EventBatchDone
)

// Event is a progress notification for the console follower or the live
// dashboard. Result is set on EventScenarioDone only.
type Event struct {
	Type     EventType
	Impl     string
	Scenario string
	Message  string
	Result   *report.BenchmarkResult
}

// ConnectionReaper terminates leftover database connections between runs.
type ConnectionReaper interface {
	Cleanup(ctx context.Context, timeout time.Duration) bool
}

// Config is the immutable orchestration configuration, built once at start.
type Config struct {
	RootDir     string
	OutDir      string
	Email       string
	Password    string
	Warmup      bool
	Parallel    bool
	Cooldown    time.Duration
	SettleDelay time.Duration
	ReapTimeout time.Duration
}

// Orchestrator sequences the implementation × scenario matrix: reap, start,
// optional warmup, scenarios, stop, reap again, next implementation.
type Orchestrator struct {
	cfg        Config
	impls      []config.ImplementationSpec
	scenarios  []config.ScenarioSpec
	controller *proc.Controller
	driver     loadgen.Driver
	reaper     ConnectionReaper
	events     chan<- Event

	mu      sync.Mutex
	started []*proc.RunHandle
}

// New wires an orchestrator. reaper and events may be nil (reaping skipped,
// events dropped).
func New(cfg Config, impls []config.ImplementationSpec, scenarios []config.ScenarioSpec,
	controller *proc.Controller, driver loadgen.Driver, reaper ConnectionReaper, events chan<- Event,
) *Orchestrator {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.ReapTimeout == 0 {
		cfg.ReapTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		impls:      impls,
		scenarios:  scenarios,
		controller: controller,
		driver:     driver,
		reaper:     reaper,
		events:     events,
	}
}

// Run executes the full matrix and returns every result, successes and
// failures alike. A start failure skips that implementation's scenario set;
// a scenario failure is recorded and the loop continues.
func (o *Orchestrator) Run(ctx context.Context) []report.BenchmarkResult {
	defer o.stopAll()

	var results []report.BenchmarkResult

	if o.cfg.Parallel {
		// Ports never overlap across the implementation table, so the
		// matrix can run column-parallel when asked to. Reaping has to
		// bracket the whole batch here: terminating connections while a
		// sibling implementation is mid-run would skew its numbers.
		o.reap(ctx, "all", "pre-run")
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, impl := range o.impls {
			wg.Add(1)
			go func(impl config.ImplementationSpec) {
				defer wg.Done()
				rs := o.runImplementation(ctx, impl)
				mu.Lock()
				results = append(results, rs...)
				mu.Unlock()
			}(impl)
		}
		wg.Wait()
		sleep(ctx, o.cfg.SettleDelay)
		o.reap(ctx, "all", "post-run")
	} else {
		for _, impl := range o.impls {
			if ctx.Err() != nil {
				break
			}
			results = append(results, o.runImplementation(ctx, impl)...)
		}
	}

	o.emit(Event{Type: EventBatchDone})
	return results
}

func (o *Orchestrator) runImplementation(ctx context.Context, impl config.ImplementationSpec) []report.BenchmarkResult {
	o.emit(Event{Type: EventImplStarting, Impl: impl.Name})

	if !o.cfg.Parallel {
		o.reap(ctx, impl.Name, "pre-run")
	}

	implDir := impl.Dir
	if !filepath.IsAbs(implDir) {
		implDir = filepath.Join(o.cfg.RootDir, implDir)
	}
	environ := env.Resolve(o.cfg.RootDir, implDir)
	spec := impl
	spec.Dir = implDir

	handle, err := o.controller.Start(ctx, spec, environ)
	if err != nil {
		log.WithError(err).Errorf("Skipping %s, startup failed", impl.Name)
		res := report.BenchmarkResult{Implementation: impl.Name, Test: "startup", Error: err.Error()}
		o.emit(Event{Type: EventImplDone, Impl: impl.Name, Message: "startup failed"})
		return []report.BenchmarkResult{res}
	}
	o.track(handle)

	if o.cfg.Warmup {
		o.emit(Event{Type: EventPhase, Impl: impl.Name, Message: "warming up"})
		warm := config.WarmupScenario()
		if _, err := o.driver.Run(ctx, o.request(impl, warm)); err != nil {
			log.WithError(err).Warnf("Warmup run for %s failed", impl.Name)
		}
	}

	var results []report.BenchmarkResult
	for i, scen := range o.scenarios {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			o.emit(Event{Type: EventPhase, Impl: impl.Name, Message: "cooling down"})
			sleep(ctx, o.cfg.Cooldown)
		}
		o.emit(Event{Type: EventScenarioStart, Impl: impl.Name, Scenario: scen.Name})
		res := o.runScenario(ctx, impl, scen)
		results = append(results, res)
		o.emit(Event{Type: EventScenarioDone, Impl: impl.Name, Scenario: scen.Name, Result: &res})
	}

	o.controller.Stop(handle)
	o.untrack(handle)

	if !o.cfg.Parallel {
		// Let sockets close before measuring leftover connections.
		sleep(ctx, o.cfg.SettleDelay)
		o.reap(ctx, impl.Name, "post-run")
	}

	o.emit(Event{Type: EventImplDone, Impl: impl.Name})
	return results
}

func (o *Orchestrator) runScenario(ctx context.Context, impl config.ImplementationSpec, scen config.ScenarioSpec) report.BenchmarkResult {
	res := report.BenchmarkResult{
		Implementation: impl.Name,
		Test:           scen.Name,
		VUs:            scen.VUs,
		Duration:       scen.Duration,
	}

	out, err := o.driver.Run(ctx, o.request(impl, scen))
	if err != nil {
		log.WithError(err).Errorf("Load run %s/%s failed", impl.Name, scen.Name)
		res.Error = err.Error()
		return res
	}

	nominal, _ := config.ParseDuration(scen.Duration)
	sample, ok := metrics.Extract(metrics.Inputs{
		SummaryPath:     out.SummaryPath,
		Stdout:          out.Stdout,
		RawPath:         out.RawPath,
		NominalDuration: nominal,
	})
	if !ok {
		log.Warnf("No metrics recovered for %s/%s", impl.Name, scen.Name)
		res.Error = "metrics extraction failed"
		return res
	}

	res.TotalRequests = sample.TotalRequests
	res.RPS = sample.RPS
	res.Latency = sample.Latency
	log.Infof("%s/%s: %d requests, %.2f req/s", impl.Name, scen.Name, res.TotalRequests, res.RPS)
	return res
}

func (o *Orchestrator) request(impl config.ImplementationSpec, scen config.ScenarioSpec) loadgen.Request {
	return loadgen.Request{
		Impl:     impl.Name,
		BaseURL:  impl.BaseURL(),
		Email:    o.cfg.Email,
		Password: o.cfg.Password,
		Scenario: scen,
		OutDir:   o.cfg.OutDir,
	}
}

func (o *Orchestrator) reap(ctx context.Context, impl, phase string) {
	if o.reaper == nil {
		return
	}
	o.emit(Event{Type: EventPhase, Impl: impl, Message: "reaping connections (" + phase + ")"})
	if !o.reaper.Cleanup(ctx, o.cfg.ReapTimeout) {
		log.Warnf("Connection reap (%s) for %s did not converge, continuing anyway", phase, impl)
	}
}

func (o *Orchestrator) track(h *proc.RunHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, h)
}

func (o *Orchestrator) untrack(h *proc.RunHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, other := range o.started {
		if other == h {
			o.started = append(o.started[:i], o.started[i+1:]...)
			return
		}
	}
}

// stopAll terminates every process the orchestrator itself started. Handles
// flagged external are never signalled.
func (o *Orchestrator) stopAll() {
	o.mu.Lock()
	handles := make([]*proc.RunHandle, len(o.started))
	copy(handles, o.started)
	o.started = nil
	o.mu.Unlock()

	for _, h := range handles {
		o.controller.Stop(h)
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.events == nil {
		return
	}
	o.events <- e
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
