package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"restbench/internal/config"
	"restbench/internal/env"
)

// Controller starts and stops implementation server processes and owns the
// readiness polling policy.
type Controller struct {
	Client        *http.Client
	Host          string
	ReadinessPath string
	ProbeInterval time.Duration
	ProbeAttempts int
	GracePeriod   time.Duration
	KillWait      time.Duration
}

func NewController() *Controller {
	return &Controller{
		Client:        &http.Client{Timeout: 2 * time.Second},
		Host:          "localhost",
		ReadinessPath: "/auth/me",
		ProbeInterval: 2 * time.Second,
		ProbeAttempts: 30,
		GracePeriod:   5 * time.Second,
		KillWait:      5 * time.Second,
	}
}

// RunHandle is the runtime state of one started implementation. A handle
// flagged external marks a pre-existing server the controller must never
// signal.
type RunHandle struct {
	Impl string
	Port int

	cmd      *exec.Cmd
	external bool
	exited   atomic.Bool
	exitCode atomic.Int32
}

// External reports whether the server was already running before Start and
// is therefore not managed by us.
func (h *RunHandle) External() bool { return h.external }

// Exited reports whether the started process has been observed to exit.
func (h *RunHandle) Exited() bool { return h.exited.Load() }

// ExitCode is only meaningful once Exited returns true.
func (h *RunHandle) ExitCode() int { return int(h.exitCode.Load()) }

// Start brings up one implementation and waits for it to answer its health
// endpoint. If something already answers on the configured port the spec is
// treated as externally managed and nothing is spawned.
func (c *Controller) Start(ctx context.Context, spec config.ImplementationSpec, environ map[string]string) (*RunHandle, error) {
	if c.probe(ctx, spec.Port) {
		log.Infof("%s already answering on port %d, benchmarking the running instance", spec.Name, spec.Port)
		return &RunHandle{Impl: spec.Name, Port: spec.Port, external: true}, nil
	}

	if len(spec.Command) == 0 {
		return nil, errors.Errorf("implementation %s has no start command", spec.Name)
	}

	merged := make(map[string]string, len(environ)+1)
	for k, v := range environ {
		merged[k] = v
	}
	merged["PORT"] = strconv.Itoa(spec.Port)

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = env.Environ(merged)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	log.Infof("Starting %s in %s (port %d)", spec.Name, spec.Dir, spec.Port)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", spec.Name)
	}

	h := &RunHandle{Impl: spec.Name, Port: spec.Port, cmd: cmd}

	go forward(spec.Name, stdout)
	go forward(spec.Name, stderr)
	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		h.exitCode.Store(int32(code))
		h.exited.Store(true)
	}()

	for attempt := 0; attempt < c.ProbeAttempts; attempt++ {
		if h.Exited() {
			return nil, errors.Errorf("%s exited with code %d before becoming ready on port %d",
				spec.Name, h.ExitCode(), spec.Port)
		}
		if c.probe(ctx, spec.Port) {
			log.Infof("%s is ready on port %d", spec.Name, spec.Port)
			return h, nil
		}
		select {
		case <-ctx.Done():
			c.Stop(h)
			return nil, errors.Wrapf(ctx.Err(), "cancelled while waiting for %s", spec.Name)
		case <-time.After(c.ProbeInterval):
		}
	}

	c.Stop(h)
	return nil, errors.Errorf("%s never became ready on port %d after %d probes",
		spec.Name, spec.Port, c.ProbeAttempts)
}

// Stop performs the two-phase shutdown: graceful signal, bounded grace
// period, then a forced kill. External and already-exited handles are left
// alone.
func (c *Controller) Stop(h *RunHandle) {
	if h == nil || h.external || h.cmd == nil {
		return
	}
	if h.Exited() {
		return
	}

	log.Infof("Stopping %s (pid %d)", h.Impl, h.cmd.Process.Pid)
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).Warnf("SIGTERM to %s failed", h.Impl)
	}
	if h.waitExit(c.GracePeriod) {
		return
	}

	// Some runtimes hold database sockets until killed; give them the grace
	// period to drain before forcing.
	log.Warnf("%s still alive after %s, sending SIGKILL", h.Impl, c.GracePeriod)
	if err := h.cmd.Process.Kill(); err != nil {
		log.WithError(err).Warnf("SIGKILL to %s failed", h.Impl)
	}
	h.waitExit(c.KillWait)
}

func (h *RunHandle) waitExit(budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if h.exited.Load() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return h.exited.Load()
}

// probe issues one readiness check. Anything below 500 counts as ready:
// auth-protected endpoints answer 401 long before the app is degraded.
func (c *Controller) probe(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://%s:%d%s", c.Host, port, c.ReadinessPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < 500
}

// forward relays a child's output for diagnostics, dropping lines that look
// like warnings so load runs don't drown the log.
func forward(name string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if isWarning(line) {
			continue
		}
		log.Debugf("[%s] %s", name, line)
	}
}

func isWarning(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "warn") || strings.Contains(l, "deprecat")
}
