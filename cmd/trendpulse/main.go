package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "trendpulse",
		Short:        "Score trending topics from search and social signals",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(cycleCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(trendsCmd())
	root.AddCommand(snapshotsCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(mergesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func cycleCmd() *cobra.Command {
	var (
		sources    []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Collect from sources and score once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), sources, jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to collect (e.g. google_trends,youtube)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the cycle report as JSON")
	return cmd
}

func ingestCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Score observations from JSON or YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the cycle report as JSON")
	return cmd
}

func trendsCmd() *cobra.Command {
	var (
		jsonOutput bool
		opts       listFlags
	)

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show scored trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(cmd.Context(), opts, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&opts.minScore, "min-score", 0, "minimum score")
	cmd.Flags().StringVar(&opts.region, "region", "", "only this region")
	cmd.Flags().StringVar(&opts.category, "category", "", "only this category")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "max trends to show")
	cmd.Flags().BoolVar(&opts.archived, "archived", false, "include archived trends")
	return cmd
}

func snapshotsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "snapshots TREND_ID",
		Short: "Show a trend's daily score history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(cmd.Context(), args[0], limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 30, "max snapshots to show")
	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage alert rules and list fired events",
	}

	var a alertFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an alert rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlertAdd(cmd.Context(), a)
		},
	}
	add.Flags().StringVar(&a.user, "user", "default", "owner of the alert")
	add.Flags().StringVar(&a.kind, "type", "threshold", "keyword, niche, threshold or explosion")
	add.Flags().StringVar(&a.keyword, "keyword", "", "keyword to watch (keyword and explosion alerts)")
	add.Flags().StringVar(&a.niche, "niche", "", "category to watch (niche alerts)")
	add.Flags().IntVar(&a.threshold, "threshold", 80, "score that triggers the alert")
	add.Flags().Float64Var(&a.explosionPct, "explosion-pct", 0, "24h volume growth that triggers an explosion alert (default 200)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List alert rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlertList(cmd.Context())
		},
	}

	var since time.Duration
	events := &cobra.Command{
		Use:   "events",
		Short: "List fired alert events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlertEvents(cmd.Context(), since)
		},
	}
	events.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back to look")

	cmd.AddCommand(add, list, events)
	return cmd
}

func mergesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "merges",
		Short: "List near-duplicate keys awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerges(cmd.Context(), all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved candidates")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
