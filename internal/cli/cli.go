package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"restbench/internal/config"
	"restbench/internal/orchestrator"
	"restbench/internal/report"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	rankStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	subtle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// PrintHeader announces the selected matrix before the run starts.
func PrintHeader(impls []config.ImplementationSpec, scens []config.ScenarioSpec, outDir string) {
	names := make([]string, len(impls))
	for i, s := range impls {
		names[i] = s.Name
	}
	scenNames := make([]string, len(scens))
	for i, s := range scens {
		scenNames[i] = s.String()
	}

	fmt.Printf("\n🚀 STARTING BENCHMARK RUN\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Implementations : %s\n", strings.Join(names, ", "))
	fmt.Printf("Scenarios       : %s\n", strings.Join(scenNames, ", "))
	fmt.Printf("Output          : %s\n", outDir)
	fmt.Printf("======================================================================\n\n")
}

// Follow consumes orchestrator events and prints one line per transition.
// Returns when the batch completes.
func Follow(events <-chan orchestrator.Event) {
	for e := range events {
		switch e.Type {
		case orchestrator.EventImplStarting:
			fmt.Printf("\n▶ %s\n", titleStyle.Render(e.Impl))
		case orchestrator.EventPhase:
			fmt.Printf("  %s\n", subtle.Render(e.Message))
		case orchestrator.EventScenarioStart:
			fmt.Printf("  %s: running...\n", e.Scenario)
		case orchestrator.EventScenarioDone:
			if e.Result != nil && e.Result.Failed() {
				fmt.Printf("  %s: %s\n", e.Scenario, errStyle.Render(e.Result.Error))
			} else if e.Result != nil {
				fmt.Printf("  %s: %d requests, %.2f req/s\n", e.Scenario, e.Result.TotalRequests, e.Result.RPS)
			}
		case orchestrator.EventImplDone:
			if e.Message != "" {
				fmt.Printf("  %s\n", errStyle.Render(e.Message))
			}
		case orchestrator.EventBatchDone:
			return
		}
	}
}

// PrintSummary renders the ranked comparison to the terminal once all
// results are in.
func PrintSummary(results []report.BenchmarkResult) {
	fmt.Printf("\n\n📊 BENCHMARK RESULTS\n")
	fmt.Printf("======================================================================\n")

	lines := strings.Split(report.RenderMarkdown(results), "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "## "):
			fmt.Println(titleStyle.Render(strings.TrimPrefix(line, "## ")))
		case strings.HasPrefix(line, "| 🥇"):
			fmt.Println(rankStyle.Render(line))
		case strings.HasPrefix(line, "# "), strings.HasPrefix(line, "Generated:"):
			// headline noise in a terminal
		default:
			fmt.Println(line)
		}
	}
	fmt.Printf("======================================================================\n")
}
