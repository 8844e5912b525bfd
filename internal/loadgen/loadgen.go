package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"restbench/internal/config"
)

// Request describes one load run against one implementation.
type Request struct {
	Impl     string
	BaseURL  string
	Email    string
	Password string
	Scenario config.ScenarioSpec
	OutDir   string
}

// Output is whatever the run left behind for the metrics extractor.
type Output struct {
	Stdout      string
	SummaryPath string
	RawPath     string
}

// Driver abstracts the external load generator so the orchestrator can be
// tested without shelling out.
type Driver interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// K6 invokes the k6 binary against the fixed benchmark script.
type K6 struct {
	Binary string
	Script string
}

func NewK6(script string) *K6 {
	return &K6{Binary: "k6", Script: script}
}

func (k *K6) Run(ctx context.Context, req Request) (Output, error) {
	timeout := config.InvocationTimeout(req.Scenario.Duration)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summaryPath := filepath.Join(req.OutDir, fmt.Sprintf("%s_%s_summary.json", req.Impl, req.Scenario.Name))
	rawPath := filepath.Join(req.OutDir, fmt.Sprintf("%s_%s_raw.ndjson", req.Impl, req.Scenario.Name))
	args := k.args(req, summaryPath, rawPath)

	log.Infof("Running %s %s against %s (%d VUs, %s, budget %s)",
		req.Scenario.Type, req.Scenario.Name, req.BaseURL, req.Scenario.VUs, req.Scenario.Duration, timeout)

	cmd := exec.CommandContext(runCtx, k.Binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	out := Output{Stdout: buf.String(), SummaryPath: summaryPath, RawPath: rawPath}

	stdoutPath := filepath.Join(req.OutDir, fmt.Sprintf("%s_%s.txt", req.Impl, req.Scenario.Name))
	if err := os.WriteFile(stdoutPath, buf.Bytes(), 0o644); err != nil {
		log.WithError(err).Warnf("Could not persist load tool output to %s", stdoutPath)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, errors.Errorf("load run %s/%s exceeded its %s budget and was killed",
			req.Impl, req.Scenario.Name, timeout)
	}
	if runErr != nil {
		return out, errors.Wrapf(runErr, "load run %s/%s failed", req.Impl, req.Scenario.Name)
	}
	return out, nil
}

func (k *K6) args(req Request, summaryPath, rawPath string) []string {
	return []string{
		"run",
		"--summary-export", summaryPath,
		"--out", "json=" + rawPath,
		"-e", "BASE_URL=" + req.BaseURL,
		"-e", "EMAIL=" + req.Email,
		"-e", "PASSWORD=" + req.Password,
		"-e", "TEST_TYPE=" + req.Scenario.Type,
		"-e", fmt.Sprintf("VUS=%d", req.Scenario.VUs),
		"-e", "DURATION=" + req.Scenario.Duration,
		k.Script,
	}
}
