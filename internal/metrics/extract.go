package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"restbench/internal/stats"
)

// Sample is the extracted throughput of one load run. Latency is only
// available from the raw event stream path.
type Sample struct {
	TotalRequests int64
	RPS           float64
	Latency       *stats.Summary
}

// Inputs collects everything one run left behind. Empty paths or stdout are
// simply skipped by their extraction path.
type Inputs struct {
	SummaryPath     string
	Stdout          string
	RawPath         string
	NominalDuration time.Duration
}

// Extract tries the structured summary, then stdout text, then the raw
// event stream, in that order. Each path that fails logs a warning and
// falls through; false means every path came up empty.
func Extract(in Inputs) (Sample, bool) {
	if s, ok := fromSummary(in.SummaryPath); ok {
		return s, true
	}
	if s, ok := fromStdout(in.Stdout); ok {
		return s, true
	}
	if s, ok := fromRaw(in.RawPath, in.NominalDuration); ok {
		return s, true
	}
	return Sample{}, false
}

type summaryFile struct {
	Metrics map[string]struct {
		Count float64 `json:"count"`
		Rate  float64 `json:"rate"`
	} `json:"metrics"`
}

func fromSummary(path string) (Sample, bool) {
	if path == "" {
		return Sample{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warnf("No summary export at %s", path)
		return Sample{}, false
	}

	var f summaryFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.WithError(err).Warnf("Could not parse summary export %s", path)
		return Sample{}, false
	}

	m, ok := f.Metrics["http_reqs"]
	if !ok || m.Count == 0 {
		log.Warnf("Summary export %s has no http_reqs metric", path)
		return Sample{}, false
	}
	return Sample{TotalRequests: int64(m.Count), RPS: m.Rate}, true
}

// e.g. "http_reqs......................: 33991  1132.889318/s"
var httpReqsLine = regexp.MustCompile(`http_reqs[.\s]*:\s*(\d+)\s+([0-9.]+)/s`)

func fromStdout(out string) (Sample, bool) {
	if out == "" {
		return Sample{}, false
	}
	m := httpReqsLine.FindStringSubmatch(out)
	if m == nil {
		log.Warn("No http_reqs line found in load tool output")
		return Sample{}, false
	}
	count, err1 := strconv.ParseInt(m[1], 10, 64)
	rate, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		log.Warnf("Unparseable http_reqs line: %q", m[0])
		return Sample{}, false
	}
	return Sample{TotalRequests: count, RPS: rate}, true
}

type rawPoint struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   struct {
		Time  time.Time         `json:"time"`
		Value float64           `json:"value"`
		Tags  map[string]string `json:"tags"`
	} `json:"data"`
}

// fromRaw aggregates the NDJSON event stream directly. Setup and teardown
// traffic is excluded so seeding does not inflate throughput. Min/max
// timestamps are tracked iteratively since point counts can reach millions.
func fromRaw(path string, nominal time.Duration) (Sample, bool) {
	if path == "" {
		return Sample{}, false
	}
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Warnf("No raw output at %s", path)
		return Sample{}, false
	}
	defer f.Close()

	var (
		total    float64
		first    time.Time
		last     time.Time
		hist     = stats.NewSafeHistogram()
		sc       = bufio.NewScanner(f)
		badLines int
	)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		var p rawPoint
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			badLines++
			continue
		}
		if p.Type != "Point" || inLifecyclePhase(p.Data.Tags) {
			continue
		}

		switch p.Metric {
		case "http_reqs":
			total += p.Data.Value
			if first.IsZero() || p.Data.Time.Before(first) {
				first = p.Data.Time
			}
			if p.Data.Time.After(last) {
				last = p.Data.Time
			}
		case "http_req_duration":
			hist.RecordMillis(p.Data.Value)
		}
	}
	if badLines > 0 {
		log.Warnf("Skipped %d unparseable lines in %s", badLines, path)
	}
	if total == 0 {
		log.Warnf("Raw output %s contained no request points", path)
		return Sample{}, false
	}

	elapsed := last.Sub(first).Seconds()
	if elapsed <= 0 {
		// Degenerate span (single tick or clock skew), fall back to the
		// scenario's nominal duration.
		elapsed = nominal.Seconds()
	}
	if elapsed <= 0 {
		log.Warnf("No usable time span in %s", path)
		return Sample{}, false
	}

	return Sample{
		TotalRequests: int64(total),
		RPS:           total / elapsed,
		Latency:       stats.Summarize(hist),
	}, true
}

func inLifecyclePhase(tags map[string]string) bool {
	g := tags["group"]
	return strings.Contains(g, "::setup") || strings.Contains(g, "::teardown")
}
