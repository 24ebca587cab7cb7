package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportgen/internal/datasource"
	"reportgen/internal/engine"
	"reportgen/internal/logging"
	"reportgen/internal/render"
	"reportgen/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report API over HTTP",
	Long: `Starts the HTTP API:

  GET  /healthz               liveness
  POST /api/v1/reports        report configuration (JSON) in, report bytes out
  POST /api/v1/sources/test   connection probes

Template paths in posted reports are resolved under server.template_dir and
cached until the file changes. File sources and SQLite databases must lie
under server.data_dir. When server.api_key is set, /api routes
require "Authorization: Bearer <key>".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.Get(logging.CategoryServer)
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	printer := newPrinter()
	defer func() {
		if err := printer.Shutdown(); err != nil {
			log.Warn("browser shutdown failed", zap.Error(err))
		}
	}()
	if bin, ok := printer.LookupBrowser(); ok {
		log.Info("pdf output enabled", zap.String("browser", bin))
	} else {
		log.Warn("no headless chrome found, pdf output is unavailable")
	}

	cache, err := render.NewCache(printer)
	if err != nil {
		return fmt.Errorf("failed to create template cache: %w", err)
	}
	cache.Start(ctx)
	defer cache.Stop()

	eng := engine.New(engine.WithPrinter(printer), engine.WithTemplateCache(cache))
	srv := server.New(server.Config{
		Addr:        cfg.Addr(),
		APIKey:      cfg.Server.APIKey,
		TemplateDir: cfg.Server.TemplateDir,
		DataDir:     cfg.Server.DataDir,
		Sources:     datasource.OptionsFromConfig(cfg),
		ReadTimeout: cfg.GetServerReadTimeout(),
	}, eng)

	fmt.Fprintf(cmd.OutOrStdout(), "reportgen listening on http://%s\n", cfg.Addr())
	return srv.ListenAndServe(ctx)
}
