package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportgen/internal/config"
	"reportgen/internal/datasource"
	"reportgen/internal/engine"
	"reportgen/internal/helpers"
	"reportgen/internal/logging"
	"reportgen/internal/render"
)

var (
	generateOutput  string
	generateFormat  string
	generateSummary bool
	generateParams  map[string]string
)

var generateCmd = &cobra.Command{
	Use:   "generate <report-file>",
	Short: "Generate a report from a report file",
	Long: `Loads the report file, fetches every source in order, and writes the
rendered or exported report.

Relative template and file-source paths are resolved against the report
file's directory. Without --output the report is written to the current
directory as <report-id><extension>.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Output path")
	generateCmd.Flags().StringVarP(&generateFormat, "format", "f", "", "Output format, overriding the report file (html, pdf, json, excel, csv, parquet, markdown)")
	generateCmd.Flags().BoolVar(&generateSummary, "summary", false, "Print a formatted summary of the generated report")
	generateCmd.Flags().StringToStringVarP(&generateParams, "param", "p", nil, "Template parameter key=value (repeatable)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.Get(logging.CategoryBoot)
	reportPath := args[0]
	rc, err := config.LoadReport(reportPath)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(reportPath)

	format := rc.OutputFormat
	if generateFormat != "" {
		format = strings.ToLower(generateFormat)
	}
	params := make(map[string]any, len(rc.Parameters)+len(generateParams))
	for k, v := range rc.Parameters {
		params[k] = v
	}
	for k, v := range generateParams {
		params[k] = v
	}

	ref, err := templateRef(rc, baseDir)
	if err != nil {
		return err
	}

	opts := datasource.OptionsFromConfig(cfg)
	opts.BaseDir = baseDir
	sources, err := datasource.FromConfigs(rc.Sources, opts)
	if err != nil {
		return err
	}
	defer datasource.CloseAll(sources)

	var engineOpts []engine.Option
	if format == engine.FormatPDF {
		printer := newPrinter()
		defer func() {
			if err := printer.Shutdown(); err != nil {
				log.Warn("browser shutdown failed", zap.Error(err))
			}
		}()
		engineOpts = append(engineOpts, engine.WithPrinter(printer))
	}

	report, err := engine.New(engineOpts...).Generate(ctx, ref, sources, format, params)
	if err != nil {
		return err
	}

	out := generateOutput
	if out == "" {
		out = report.Filename()
	}
	err = report.Save(out)
	logging.Audit(report.ID()).ReportSaved(out, report.Size(), err)
	if err != nil {
		return err
	}
	deliver(report, rc.Delivery)

	if generateSummary {
		return printSummary(cmd, rc, report, out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s written to %s (%d bytes)\n", report.ID(), out, report.Size())
	return nil
}

// templateRef resolves the report's template: inline text, or a path
// relative to the report file.
func templateRef(rc *config.ReportConfig, baseDir string) (engine.TemplateRef, error) {
	switch {
	case rc.InlineTemplate != "":
		t, err := render.New(render.Options{Text: rc.InlineTemplate})
		if err != nil {
			return engine.TemplateRef{}, err
		}
		return engine.Compiled(t), nil
	case rc.Template != "":
		path := rc.Template
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return engine.TemplatePath(path), nil
	}
	return engine.TemplateRef{}, nil
}

// deliver attempts the configured delivery targets. Failures are logged;
// the report is already saved.
func deliver(report *engine.Report, d *config.DeliveryConfig) {
	if d == nil {
		return
	}
	log := logging.Get(logging.CategoryReport)
	audit := logging.Audit(report.ID())
	for _, to := range d.Email {
		if err := report.Email(to, report.Filename(), ""); err != nil {
			log.Warn("delivery skipped", zap.String("to", to), zap.Error(err))
			audit.DeliverySkipped("email", to, err)
		}
	}
	if d.Storage != "" {
		bucket, key, _ := strings.Cut(strings.TrimPrefix(d.Storage, "s3://"), "/")
		if key == "" {
			key = report.Filename()
		}
		if err := report.UploadToS3(bucket, key); err != nil {
			log.Warn("delivery skipped", zap.String("storage", d.Storage), zap.Error(err))
			audit.DeliverySkipped("s3", d.Storage, err)
		}
	}
	if d.Schedule != "" {
		log.Info("schedule is recorded but not run by generate", zap.String("schedule", d.Schedule))
	}
}

func summaryMarkdown(rc *config.ReportConfig, md engine.Metadata, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rc.Name)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Report ID | `%s` |\n", md.ReportID)
	fmt.Fprintf(&b, "| Format | %s |\n", md.OutputFormat)
	fmt.Fprintf(&b, "| Sources | %s |\n", strings.Join(md.Sources, ", "))
	fmt.Fprintf(&b, "| Size | %d bytes |\n", md.SizeBytes)
	fmt.Fprintf(&b, "| Time | %s |\n", helpers.FormatDuration(md.GenerationTimeMS))
	fmt.Fprintf(&b, "| Created | %s |\n", helpers.FormatTimestamp(md.CreatedAt))
	fmt.Fprintf(&b, "| Checksum | `%s` |\n", md.Checksum)
	fmt.Fprintf(&b, "| Output | `%s` |\n", path)
	return b.String()
}

func printSummary(cmd *cobra.Command, rc *config.ReportConfig, report *engine.Report, path string) error {
	md := summaryMarkdown(rc, report.Metadata(), path)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
