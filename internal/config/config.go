package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// ImplementationSpec describes one backend under test. The table is built
// once at startup and never mutated afterwards.
type ImplementationSpec struct {
	Name    string
	Port    int
	Dir     string
	Command []string
}

// ScenarioSpec is a named (workload type, VU count, duration) triple exercised
// against every implementation.
type ScenarioSpec struct {
	Name     string
	Type     string // "read", "write" or "mixed"
	VUs      int
	Duration string // "<N>s" or "<N>m"
}

// DefaultImplementations returns the static backend table. Ports must not
// overlap so that parallel mode stays safe.
func DefaultImplementations() []ImplementationSpec {
	return []ImplementationSpec{
		{Name: "go-fiber", Port: 8080, Dir: "src/go-fiber", Command: []string{"go", "run", "main.go"}},
		{Name: "rust-axum", Port: 8081, Dir: "src/rust-axum", Command: []string{"./target/release/rust-axum"}},
		{Name: "python-fastapi", Port: 8000, Dir: "src/python-fastapi", Command: []string{"python", "start_server.py"}},
		{Name: "node-express", Port: 3000, Dir: "src/node-express", Command: []string{"node", "src/index.js"}},
		{Name: "bun-elysia", Port: 3001, Dir: "src/bun-elysia", Command: []string{"bun", "run", "src/index.ts"}},
	}
}

// DefaultScenarios returns the static scenario table.
func DefaultScenarios() []ScenarioSpec {
	return []ScenarioSpec{
		{Name: "read", Type: "read", VUs: 50, Duration: "30s"},
		{Name: "write", Type: "write", VUs: 50, Duration: "30s"},
		{Name: "mixed", Type: "mixed", VUs: 100, Duration: "1m"},
	}
}

// WarmupScenario is a short mixed run whose result is discarded.
func WarmupScenario() ScenarioSpec {
	return ScenarioSpec{Name: "warmup", Type: "mixed", VUs: 5, Duration: "10s"}
}

// SelectImplementations filters the table by the requested names. An empty
// selection means everything. Unknown names are skipped with a logged error
// rather than failing the batch.
func SelectImplementations(table []ImplementationSpec, names []string) []ImplementationSpec {
	if len(names) == 0 {
		return table
	}
	byName := make(map[string]ImplementationSpec, len(table))
	for _, s := range table {
		byName[s.Name] = s
	}
	var out []ImplementationSpec
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			log.Errorf("Unknown implementation %q, skipping", n)
			continue
		}
		out = append(out, s)
	}
	return out
}

// SelectScenarios filters the scenario table by name, same rules as
// SelectImplementations.
func SelectScenarios(table []ScenarioSpec, names []string) []ScenarioSpec {
	if len(names) == 0 {
		return table
	}
	byName := make(map[string]ScenarioSpec, len(table))
	for _, s := range table {
		byName[s.Name] = s
	}
	var out []ScenarioSpec
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			log.Errorf("Unknown scenario %q, skipping", n)
			continue
		}
		out = append(out, s)
	}
	return out
}

var durationPattern = regexp.MustCompile(`^(\d+)([sm])$`)

const (
	// DefaultInvocationTimeout is used when a scenario duration cannot be parsed.
	DefaultInvocationTimeout = 180 * time.Second

	invocationBuffer = 60 * time.Second
)

// ParseDuration converts a scenario duration ("30s", "1m") into a
// time.Duration. Returns false if the string does not match.
func ParseDuration(d string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(d)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if m[2] == "m" {
		return time.Duration(n) * time.Minute, true
	}
	return time.Duration(n) * time.Second, true
}

// InvocationTimeout computes the hard budget for one load run: scenario
// duration plus a fixed buffer, so a hung run cannot block the orchestrator.
func InvocationTimeout(duration string) time.Duration {
	d, ok := ParseDuration(duration)
	if !ok {
		return DefaultInvocationTimeout
	}
	return d + invocationBuffer
}

// BaseURL builds the target URL for an implementation.
func (s ImplementationSpec) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

func (s ScenarioSpec) String() string {
	return fmt.Sprintf("%s (%d VUs, %s)", s.Name, s.VUs, s.Duration)
}
