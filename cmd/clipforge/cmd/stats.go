package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/metrics"
)

var scrapeURL string

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Pipeline analytics",
	Long:  `Aggregate success rates, durations and failure reasons over the persisted step-metric history.`,
	RunE:  runStats,
}

// statsCostsCmd represents the stats costs command
var statsCostsCmd = &cobra.Command{
	Use:   "costs <job-id>",
	Short: "Show a job's cost breakdown",
	Long:  `Print every cost entry recorded for a job and the total in USD.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStatsCosts,
}

// statsScrapeCmd represents the stats scrape command
var statsScrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape a live worker's /metrics endpoint",
	Long:  `Fetch and decode the Prometheus text exposition of a running worker and render the clipforge metric families.`,
	RunE:  runStatsScrape,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsCostsCmd)
	statsCmd.AddCommand(statsScrapeCmd)

	statsScrapeCmd.Flags().StringVar(&scrapeURL, "url", "http://localhost:9090/metrics", "worker metrics endpoint")
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	report, err := metrics.BuildReport(st)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Step", "Attempts", "Success Rate", "Avg", "Median", "P95")
	for _, step := range report.Steps {
		table.Append(step.Step,
			fmt.Sprintf("%d", step.Attempts),
			fmt.Sprintf("%.1f%%", step.SuccessRate*100),
			fmt.Sprintf("%.0fms", step.AvgMs),
			fmt.Sprintf("%dms", step.MedianMs),
			fmt.Sprintf("%dms", step.P95Ms))
	}
	table.Render()

	if len(report.FailureReasons) > 0 {
		fmt.Println()
		failures := tablewriter.NewWriter(os.Stdout)
		failures.Header("Error Code", "Category", "Count")
		for _, reason := range report.FailureReasons {
			failures.Append(reason.ErrorCode, string(reason.Category), fmt.Sprintf("%d", reason.Count))
		}
		failures.Render()
	}
	return nil
}

func runStatsCosts(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	entries, err := st.GetCostEntries(args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch cost entries: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Service", "Operation", "Cost (USD)")
	var total float64
	for _, entry := range entries {
		total += entry.CostUsd
		table.Append(entry.CreatedAt.Format(time.RFC3339), string(entry.Service),
			entry.Operation, fmt.Sprintf("%.6f", entry.CostUsd))
	}
	table.Render()
	fmt.Printf("\nTotal: $%.6f across %d entries\n", total, len(entries))
	return nil
}

func runStatsScrape(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(scrapeURL)
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", scrapeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse metrics exposition: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, "clipforge_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")
	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
			}
			var value string
			switch {
			case m.GetCounter() != nil:
				value = fmt.Sprintf("%.0f", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				value = fmt.Sprintf("%.0f", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				value = fmt.Sprintf("count=%d sum=%.2fs", h.GetSampleCount(), h.GetSampleSum())
			default:
				continue
			}
			table.Append(name, strings.Join(labels, ","), value)
		}
	}
	table.Render()
	return nil
}
