package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"reportgen/internal/config"
	"reportgen/internal/datasource"
)

var checkParallel int

var checkCmd = &cobra.Command{
	Use:   "check <report-file>",
	Short: "Validate a report file and test every source connection",
	Long: `Loads and validates the report file, then runs the lightest connection
test each source supports, concurrently. Exits non-zero when any test fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkParallel, "parallel", 4, "Maximum concurrent connection tests")
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	headStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

func runCheck(cmd *cobra.Command, args []string) error {
	reportPath := args[0]
	rc, err := config.LoadReport(reportPath)
	if err != nil {
		return err
	}

	opts := datasource.OptionsFromConfig(cfg)
	opts.BaseDir = filepath.Dir(reportPath)
	sources, err := datasource.FromConfigs(rc.Sources, opts)
	if err != nil {
		return err
	}
	defer datasource.CloseAll(sources)

	results := datasource.ProbeAll(context.Background(), sources, checkParallel)
	fmt.Fprintln(cmd.OutOrStdout(), probeTable(results))

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed the connection test", failed, len(results))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources ok\n", rc.Name, len(results))
	return nil
}

func probeTable(results []datasource.ProbeResult) string {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("source_%d", i)
		}
		status := okStyle.Render("ok")
		if !r.OK {
			status = failStyle.Render("FAIL")
		}
		rows = append(rows, []string{name, string(r.Kind), r.Target, status, r.Duration.Round(time.Millisecond).String(), r.Error})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SOURCE", "KIND", "TARGET", "STATUS", "TIME", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		}).
		String()
}
