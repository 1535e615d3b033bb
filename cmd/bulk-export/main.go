package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/bulk-export/internal/config"
	"github.com/ehr/bulk-export/internal/export"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bulk-export",
		Short: "FHIR Bulk Data Access export client",
	}

	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run a bulk export against a FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runExport(cmd)
		},
	}

	cmd.Flags().String("endpoint", "", "FHIR server base URL (overrides FHIR_ENDPOINT_URL)")
	cmd.Flags().String("level", "", "Export level: system, patient or group")
	cmd.Flags().String("group-id", "", "Group ID for a group-level export")
	cmd.Flags().String("output-dir", "", "Destination directory; must not exist yet")
	cmd.Flags().String("since", "", "Only resources changed at or after this RFC3339 instant")
	cmd.Flags().StringSlice("type", nil, "Resource types to export")
	cmd.Flags().StringSlice("patient", nil, "Patient references for a patient or group level export")
	cmd.Flags().Duration("timeout", 0, "Bound for the whole operation; 0 means unbounded")
	cmd.Flags().Int("max-concurrent-downloads", 0, "Download fan-out")

	return cmd
}

func runExport(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	logger := newLogger(cfg)

	builder, err := cfg.Builder()
	if err != nil {
		return err
	}
	client, err := builder.WithLogger(logger).Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := client.Export(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("export failed")
		return err
	}

	renderResult(result)
	return nil
}

// applyFlags overrides the environment configuration with any flags that
// were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.FhirEndpointURL, _ = flags.GetString("endpoint")
	}
	if flags.Changed("level") {
		cfg.Level, _ = flags.GetString("level")
	}
	if flags.Changed("group-id") {
		cfg.GroupID, _ = flags.GetString("group-id")
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("since") {
		cfg.Since, _ = flags.GetString("since")
	}
	if flags.Changed("type") {
		cfg.Types, _ = flags.GetStringSlice("type")
	}
	if flags.Changed("patient") {
		cfg.Patients, _ = flags.GetStringSlice("patient")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-concurrent-downloads") {
		cfg.MaxConcurrentDownloads, _ = flags.GetInt("max-concurrent-downloads")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func renderResult(result *export.Result) {
	fmt.Printf("Transaction time: %s\n", result.TransactionTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("%-12s %s\n", "SIZE", "DESTINATION")
	var total int64
	for _, f := range result.Files {
		fmt.Printf("%-12d %s\n", f.Size, f.Destination)
		total += f.Size
	}
	fmt.Printf("Downloaded %d file(s), %d byte(s).\n", len(result.Files), total)
}
