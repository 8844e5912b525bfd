package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restbench/internal/config"
	"restbench/internal/loadgen"
	"restbench/internal/proc"
)

type fakeDriver struct {
	calls   []loadgen.Request
	summary string
	fail    func(req loadgen.Request) error
}

func (d *fakeDriver) Run(ctx context.Context, req loadgen.Request) (loadgen.Output, error) {
	d.calls = append(d.calls, req)
	if d.fail != nil {
		if err := d.fail(req); err != nil {
			return loadgen.Output{}, err
		}
	}
	return loadgen.Output{SummaryPath: d.summary}, nil
}

type fakeReaper struct {
	calls atomic.Int32
}

func (r *fakeReaper) Cleanup(ctx context.Context, timeout time.Duration) bool {
	r.calls.Add(1)
	return true
}

func writeSummary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "summary.json")
	data := `{"metrics": {"http_reqs": {"count": 1000, "rate": 50.0}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func fastController() *proc.Controller {
	c := proc.NewController()
	c.Host = "127.0.0.1"
	c.ProbeInterval = 10 * time.Millisecond
	c.ProbeAttempts = 10
	c.GracePeriod = 500 * time.Millisecond
	c.KillWait = 500 * time.Millisecond
	return c
}

func fastConfig(outDir string) Config {
	return Config{
		RootDir:     ".",
		OutDir:      outDir,
		Email:       "admin@benchmark.local",
		Password:    "benchmark123",
		Cooldown:    time.Millisecond,
		SettleDelay: time.Millisecond,
		ReapTimeout: time.Millisecond,
	}
}

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	return ts.Listener.Addr().(*net.TCPAddr).Port
}

func TestRun_EndToEnd(t *testing.T) {
	var probes atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	impl := config.ImplementationSpec{
		Name:    "X",
		Port:    serverPort(t, ts),
		Dir:     t.TempDir(),
		Command: []string{"sleep", "30"},
	}
	scen := config.ScenarioSpec{Name: "s1", Type: "read", VUs: 10, Duration: "5s"}

	driver := &fakeDriver{summary: writeSummary(t)}
	reap := &fakeReaper{}
	o := New(fastConfig(t.TempDir()), []config.ImplementationSpec{impl}, []config.ScenarioSpec{scen},
		fastController(), driver, reap, nil)

	results := o.Run(context.Background())

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "X", res.Implementation)
	assert.Equal(t, "s1", res.Test)
	assert.Empty(t, res.Error)
	assert.EqualValues(t, 1000, res.TotalRequests)
	assert.Equal(t, 50.0, res.RPS)

	assert.EqualValues(t, 3, probes.Load(), "readiness must be confirmed on the third probe")
	assert.EqualValues(t, 2, reap.calls.Load(), "connections must be reaped before and after the run")

	require.Len(t, driver.calls, 1)
	assert.Equal(t, impl.BaseURL(), driver.calls[0].BaseURL)
}

func TestRun_StartupFailureSkipsScenarioSet(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	impl := config.ImplementationSpec{
		Name:    "crasher",
		Port:    port,
		Dir:     t.TempDir(),
		Command: []string{"false"},
	}
	scens := config.DefaultScenarios()

	driver := &fakeDriver{summary: writeSummary(t)}
	c := fastController()
	c.ProbeAttempts = 50
	o := New(fastConfig(t.TempDir()), []config.ImplementationSpec{impl}, scens, c, driver, nil, nil)

	results := o.Run(context.Background())

	require.Len(t, results, 1, "a failed start records exactly one error result")
	assert.Equal(t, "startup", results[0].Test)
	assert.NotEmpty(t, results[0].Error)
	assert.Empty(t, driver.calls, "no load may be driven at a dead implementation")
}

func TestRun_ScenarioFailureContinues(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	impl := config.ImplementationSpec{Name: "ext", Port: serverPort(t, ts)}
	scens := []config.ScenarioSpec{
		{Name: "s1", Type: "read", VUs: 10, Duration: "5s"},
		{Name: "s2", Type: "write", VUs: 10, Duration: "5s"},
	}

	driver := &fakeDriver{
		summary: writeSummary(t),
		fail: func(req loadgen.Request) error {
			if req.Scenario.Name == "s1" {
				return errors.New("load run ext/s1 exceeded its budget and was killed")
			}
			return nil
		},
	}
	o := New(fastConfig(t.TempDir()), []config.ImplementationSpec{impl}, scens, fastController(), driver, nil, nil)

	results := o.Run(context.Background())

	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.Zero(t, results[0].RPS, "a failed run must not carry metrics")
	assert.Empty(t, results[1].Error)
	assert.Equal(t, 50.0, results[1].RPS)
}

func TestRun_EmitsEventsInOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	impl := config.ImplementationSpec{Name: "ext", Port: serverPort(t, ts)}
	scen := config.ScenarioSpec{Name: "s1", Type: "read", VUs: 10, Duration: "5s"}

	events := make(chan Event, 64)
	driver := &fakeDriver{summary: writeSummary(t)}
	o := New(fastConfig(t.TempDir()), []config.ImplementationSpec{impl}, []config.ScenarioSpec{scen},
		fastController(), driver, nil, events)

	o.Run(context.Background())
	close(events)

	var types []EventType
	for e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventImplStarting,
		EventScenarioStart,
		EventScenarioDone,
		EventImplDone,
		EventBatchDone,
	}, types)
}

// trackingDriver keeps an in-flight counter so a test can observe whether
// anything else runs concurrently with a load run.
type trackingDriver struct {
	summary  string
	inflight atomic.Int32
	runs     atomic.Int32
}

func (d *trackingDriver) Run(ctx context.Context, req loadgen.Request) (loadgen.Output, error) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	d.runs.Add(1)
	time.Sleep(50 * time.Millisecond)
	return loadgen.Output{SummaryPath: d.summary}, nil
}

// overlapReaper counts cleanups that fire while a load run is in flight.
type overlapReaper struct {
	inflight   *atomic.Int32
	calls      atomic.Int32
	violations atomic.Int32
}

func (r *overlapReaper) Cleanup(ctx context.Context, timeout time.Duration) bool {
	r.calls.Add(1)
	if r.inflight.Load() > 0 {
		r.violations.Add(1)
	}
	return true
}

func TestRun_ParallelReapsOnceAroundBatch(t *testing.T) {
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ready.Close()

	// The second implementation answers its readiness probe 60ms late, so
	// its run begins while the first one is already mid-flight.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer slow.Close()

	impls := []config.ImplementationSpec{
		{Name: "fast", Port: serverPort(t, ready)},
		{Name: "slow", Port: serverPort(t, slow)},
	}
	scen := config.ScenarioSpec{Name: "s1", Type: "read", VUs: 10, Duration: "5s"}

	driver := &trackingDriver{summary: writeSummary(t)}
	reap := &overlapReaper{inflight: &driver.inflight}

	cfg := fastConfig(t.TempDir())
	cfg.Parallel = true
	o := New(cfg, impls, []config.ScenarioSpec{scen},
		fastController(), driver, reap, nil)

	results := o.Run(context.Background())

	require.Len(t, results, 2)
	for _, res := range results {
		assert.Empty(t, res.Error)
	}
	assert.EqualValues(t, 2, driver.runs.Load())
	assert.EqualValues(t, 2, reap.calls.Load(),
		"a parallel batch is reaped once before and once after, not per implementation")
	assert.Zero(t, reap.violations.Load(),
		"connection reaping must never run while another implementation's load run is in flight")
}

func TestWarmupRunIsDiscarded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	impl := config.ImplementationSpec{Name: "ext", Port: serverPort(t, ts)}
	scen := config.ScenarioSpec{Name: "s1", Type: "read", VUs: 10, Duration: "5s"}

	cfg := fastConfig(t.TempDir())
	cfg.Warmup = true
	driver := &fakeDriver{summary: writeSummary(t)}
	o := New(cfg, []config.ImplementationSpec{impl}, []config.ScenarioSpec{scen},
		fastController(), driver, nil, nil)

	results := o.Run(context.Background())

	require.Len(t, results, 1, "warmup must not produce a result")
	require.Len(t, driver.calls, 2)
	assert.Equal(t, "warmup", driver.calls[0].Scenario.Name)
	assert.Equal(t, "s1", driver.calls[1].Scenario.Name)
}
