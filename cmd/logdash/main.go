// Command logdash serves the log analysis dashboard and offers one-shot
// upload and fetch commands against the analysis backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logdash/internal/analysis"
	"logdash/internal/config"
	"logdash/internal/dashboard"
	"logdash/internal/export"
	httpapi "logdash/internal/http"
)

var version = "dev"

var (
	listenAddr string
	backendURL string
	logLevel   string
	xlsxPath   string
	analyze    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "logdash",
		Short:         "Log analysis dashboard",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Analysis backend base URL (overrides APP_BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides APP_LOG_LEVEL)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides APP_LISTEN_ADDR)")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run the analysis batch once and print the layout as JSON",
		Args:  cobra.NoArgs,
		RunE:  runFetch,
	}
	fetchCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the batch to this XLSX file")

	uploadCmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a log file to the analysis backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	uploadCmd.Flags().BoolVar(&analyze, "analyze", false, "Run the analysis batch after the upload")
	uploadCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "With --analyze, also write the batch to this XLSX file")

	rootCmd.AddCommand(serveCmd, fetchCmd, uploadCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "logdash:", err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg := config.FromEnv()
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(loadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	sinks, store, err := a.eventSinks()
	if err != nil {
		return fmt.Errorf("open event sinks: %w", err)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			a.logger.Warn("close event sinks", zap.Error(err))
		}
	}()

	recorder := dashboard.NewEventRecorder(sinks, dashboard.RecorderOptions{OnDrop: httpapi.RecordEventDropped}, a.logger)
	defer recorder.Close()
	fetcher := a.fetcher(analysis.Observers{httpapi.FetchMetrics(), recorder})
	hooks := recorder.Hooks()
	published := hooks.BatchPublished
	hooks.BatchPublished = func(b analysis.Batch) {
		httpapi.RecordBatch("published", b)
		published(b)
	}
	hooks.BatchDiscarded = func(b analysis.Batch) { httpapi.RecordBatch("discarded", b) }

	svc := dashboard.NewService(a.client, fetcher, a.endpoints, hooks, a.logger)
	defer svc.Close()

	deps := httpapi.Deps{Dashboard: svc, Logger: a.logger}
	if store != nil {
		deps.Events = store
	}
	srv := httpapi.NewServer(a.cfg, deps)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	a.logger.Info("starting logdash",
		zap.String("version", version),
		zap.String("addr", a.cfg.ListenAddr),
		zap.String("backend", a.client.BaseURL()),
		zap.Int("endpoints", len(a.endpoints)),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(loadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	return a.fetchAndPrint(cmd.Context(), cmd.OutOrStdout())
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := newApp(loadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s: %w", path, dashboard.ErrEmptyUpload)
	}
	if a.cfg.UploadMaxBytes > 0 && info.Size() > a.cfg.UploadMaxBytes {
		return fmt.Errorf("%s exceeds %d MB", path, a.cfg.UploadMaxBytes>>20)
	}

	if err := a.client.Upload(cmd.Context(), filepath.Base(path), f); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	a.logger.Info("upload accepted", zap.String("file", filepath.Base(path)), zap.Int64("bytes", info.Size()))

	if !analyze {
		return nil
	}
	return a.fetchAndPrint(cmd.Context(), cmd.OutOrStdout())
}

func (a *app) fetchAndPrint(ctx context.Context, w io.Writer) error {
	batch := a.fetcher(nil).FetchAll(ctx, a.endpoints)

	if xlsxPath != "" {
		out, err := os.Create(xlsxPath)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(out, batch); err != nil {
			_ = out.Close()
			return fmt.Errorf("write %s: %w", xlsxPath, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"batch_id": batch.ID,
		"failed":   batch.FailedCount(),
		"plan":     analysis.AssignSlots(batch),
	})
}
