package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportgen/internal/config"
	"reportgen/internal/logging"
	"reportgen/internal/render"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reportgen",
	Short: "reportgen - data-driven report generation",
	Long: `reportgen pulls tabular data from databases, HTTP APIs and local files,
merges it, and renders it through a template into html, markdown or pdf,
or exports it directly as json, excel, csv or parquet.

A report is described by a YAML or JSON file:

  name: Weekly sales
  template: templates/sales.html
  output_format: pdf
  sources:
    - type: database
      name: sales
      connection: postgres://reports@db/warehouse
      query: SELECT region, SUM(units) AS units FROM sales GROUP BY region
    - type: file
      name: targets
      path: data/targets.xlsx`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration %s: %w", configPath, err)
		}
		if err := logging.Initialize(cfg.Logging.LoggerConfig(verbose)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.InitAudit(cfg.Logging.AuditFile); err != nil {
			return err
		}
		logger = logging.Get(logging.CategoryBoot)
		logger.Debug("configuration loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "reportgen.yaml", "Application config file (missing file means defaults)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newPrinter builds the PDF printer from the browser settings.
func newPrinter() *render.Printer {
	return render.NewPrinter(render.PrinterConfig{
		Bin:       cfg.Browser.Bin,
		Timeout:   cfg.GetBrowserTimeout(),
		Flags:     cfg.Browser.Flags,
		NoSandbox: cfg.Browser.NoSandbox,
	})
}
