package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtract_PrefersSummaryExport(t *testing.T) {
	summary := writeFile(t, "summary.json", `{
		"metrics": {
			"http_reqs": {"count": 1000, "rate": 50.0},
			"http_req_duration": {"avg": 12.1}
		}
	}`)

	s, ok := Extract(Inputs{
		SummaryPath: summary,
		Stdout:      "http_reqs......: 9999  1.0/s", // must not be consulted
	})

	require.True(t, ok)
	assert.EqualValues(t, 1000, s.TotalRequests)
	assert.Equal(t, 50.0, s.RPS)
}

func TestExtract_FallsBackToStdout(t *testing.T) {
	out := strings.Join([]string{
		"     execution: local",
		"     http_req_duration..........: avg=44ms",
		"     http_reqs..................: 1000  50.5/s",
		"     iteration_duration.........: avg=180ms",
	}, "\n")

	s, ok := Extract(Inputs{SummaryPath: filepath.Join(t.TempDir(), "missing.json"), Stdout: out})

	require.True(t, ok)
	assert.EqualValues(t, 1000, s.TotalRequests)
	assert.Equal(t, 50.5, s.RPS)
}

func rawLine(metric string, at time.Time, value float64, group string) string {
	tags := ""
	if group != "" {
		tags = fmt.Sprintf(`, "tags": {"group": %q}`, group)
	}
	return fmt.Sprintf(`{"type":"Point","metric":%q,"data":{"time":%q,"value":%v%s}}`,
		metric, at.Format(time.RFC3339Nano), value, tags)
}

func TestExtract_RawPointsExcludeSetupAndTeardown(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var lines []string
	// Setup/teardown traffic must not count towards throughput.
	lines = append(lines, rawLine("http_reqs", base.Add(-time.Minute), 400, "::setup"))
	lines = append(lines, rawLine("http_reqs", base.Add(time.Hour), 400, "::teardown"))
	// 500 requests over a 10 second span.
	lines = append(lines, rawLine("http_reqs", base, 200, ""))
	lines = append(lines, rawLine("http_reqs", base.Add(4*time.Second), 100, ""))
	lines = append(lines, rawLine("http_reqs", base.Add(10*time.Second), 200, ""))
	lines = append(lines, rawLine("http_req_duration", base.Add(time.Second), 12.5, ""))
	lines = append(lines, `{"type":"Metric","metric":"http_reqs"}`)
	lines = append(lines, "not json at all")

	raw := writeFile(t, "raw.ndjson", strings.Join(lines, "\n"))

	s, ok := Extract(Inputs{RawPath: raw, NominalDuration: 30 * time.Second})

	require.True(t, ok)
	assert.EqualValues(t, 500, s.TotalRequests)
	assert.InDelta(t, 50.0, s.RPS, 0.001)
	require.NotNil(t, s.Latency)
	assert.InDelta(t, 12.5, s.Latency.P50Ms, 0.1)
}

func TestExtract_RawDegenerateSpanUsesNominalDuration(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := writeFile(t, "raw.ndjson", rawLine("http_reqs", base, 100, ""))

	s, ok := Extract(Inputs{RawPath: raw, NominalDuration: 10 * time.Second})

	require.True(t, ok)
	assert.InDelta(t, 10.0, s.RPS, 0.001)
}

func TestExtract_AllPathsExhausted(t *testing.T) {
	_, ok := Extract(Inputs{
		SummaryPath: filepath.Join(t.TempDir(), "nope.json"),
		Stdout:      "no metrics here",
		RawPath:     filepath.Join(t.TempDir(), "nope.ndjson"),
	})
	assert.False(t, ok)
}

func TestFromSummary_MalformedJSONFallsThrough(t *testing.T) {
	summary := writeFile(t, "summary.json", `{"metrics": [`)
	_, ok := fromSummary(summary)
	assert.False(t, ok)
}
