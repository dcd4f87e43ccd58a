package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trendigest",
		Short: "Build daily digests of GitHub trending and Hacker News with history and cached summaries",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(datesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(scheduleCmd())

	return root
}

func runCmd() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion run (fetch, store, metrics, summaries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(day)
		},
	}

	cmd.Flags().StringVar(&day, "date", "", "run date YYYY-MM-DD (default: today)")
	return cmd
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Import previously published daily pages (one-time, gated)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill()
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		day      string
		generate bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the render view model for a stored day as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(day, generate)
		},
	}

	cmd.Flags().StringVar(&day, "date", "", "day YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&generate, "generate", false, "allow summary generation while exporting")
	return cmd
}

func datesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List stored daily run dates for both sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDates()
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored digest history as a read-only JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: from config)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the digest daily at the configured UTC time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule()
		},
	}
}
