package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"restbench/internal/stats"
)

// BenchmarkResult is the outcome of one (implementation, scenario) pair.
// Either RPS/TotalRequests are populated or Error is non-empty, never a mix.
type BenchmarkResult struct {
	Implementation string         `json:"implementation"`
	Test           string         `json:"test"`
	VUs            int            `json:"vus"`
	Duration       string         `json:"duration"`
	TotalRequests  int64          `json:"total_requests"`
	RPS            float64        `json:"rps"`
	Latency        *stats.Summary `json:"latency,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func (r BenchmarkResult) Failed() bool { return r.Error != "" }

var rankMarkers = []string{"🥇", "🥈", "🥉"}

// WriteFiles emits benchmark_report.md and benchmark_results.csv into dir.
// Called exactly once at the end of an orchestration pass.
func WriteFiles(results []BenchmarkResult, dir string) error {
	mdPath := filepath.Join(dir, "benchmark_report.md")
	if err := os.WriteFile(mdPath, []byte(RenderMarkdown(results)), 0o644); err != nil {
		return errors.Wrap(err, "writing markdown report")
	}

	csvPath := filepath.Join(dir, "benchmark_results.csv")
	if err := os.WriteFile(csvPath, []byte(renderCSV(results)), 0o644); err != nil {
		return errors.Wrap(err, "writing csv report")
	}

	log.Infof("Report written to %s and %s", mdPath, csvPath)
	return nil
}

// RenderMarkdown produces the ranked comparison tables, one per scenario,
// with failed runs listed separately.
func RenderMarkdown(results []BenchmarkResult) string {
	var b strings.Builder
	b.WriteString("# Benchmark Report\n\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().Format(time.RFC1123)))

	for _, g := range groupByScenario(results) {
		ok := ranked(g.ok)

		b.WriteString(fmt.Sprintf("\n## Scenario: %s\n\n", g.name))
		if len(ok) > 0 {
			b.WriteString("| Rank | Implementation | VUs | Duration | Requests | RPS |\n")
			b.WriteString("|------|----------------|-----|----------|----------|-----|\n")
			for i, r := range ok {
				b.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %d | %.2f |\n",
					marker(i), r.Implementation, r.VUs, r.Duration, r.TotalRequests, r.RPS))
			}
			if len(ok) > 1 {
				best, worst := ok[0], ok[len(ok)-1]
				b.WriteString(fmt.Sprintf("\n**%s** is %.1f%% faster than **%s**.\n",
					best.Implementation, Improvement(best.RPS, worst.RPS), worst.Implementation))
			}
		}
		if len(g.failed) > 0 {
			b.WriteString("\n### Failed runs\n\n")
			for _, r := range g.failed {
				b.WriteString(fmt.Sprintf("- %s: %s\n", r.Implementation, r.Error))
			}
		}
	}
	return b.String()
}

func renderCSV(results []BenchmarkResult) string {
	var b strings.Builder
	w := csv.NewWriter(&b)

	w.Write([]string{"implementation", "test", "vus", "duration", "rps", "status"})
	for _, r := range results {
		status := "success"
		if r.Failed() {
			status = r.Error
		}
		w.Write([]string{
			r.Implementation,
			r.Test,
			strconv.Itoa(r.VUs),
			r.Duration,
			fmt.Sprintf("%.2f", r.RPS),
			status,
		})
	}
	w.Flush()
	return b.String()
}

// Improvement is the percentage speedup of the fastest over the slowest
// successful run.
func Improvement(best, worst float64) float64 {
	if worst <= 0 {
		return 0
	}
	return (best - worst) / worst * 100
}

func marker(rank int) string {
	if rank < len(rankMarkers) {
		return rankMarkers[rank]
	}
	return strconv.Itoa(rank + 1)
}

type scenarioGroup struct {
	name   string
	ok     []BenchmarkResult
	failed []BenchmarkResult
}

// groupByScenario buckets results per scenario, preserving first-seen order.
func groupByScenario(results []BenchmarkResult) []scenarioGroup {
	index := make(map[string]int)
	var groups []scenarioGroup
	for _, r := range results {
		i, seen := index[r.Test]
		if !seen {
			i = len(groups)
			index[r.Test] = i
			groups = append(groups, scenarioGroup{name: r.Test})
		}
		if r.Failed() {
			groups[i].failed = append(groups[i].failed, r)
		} else {
			groups[i].ok = append(groups[i].ok, r)
		}
	}
	return groups
}

// ranked returns a copy sorted descending by RPS.
func ranked(results []BenchmarkResult) []BenchmarkResult {
	out := make([]BenchmarkResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RPS > out[j].RPS })
	return out
}
