package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aigate-dev/aigate/internal/bootstrap"
	"github.com/aigate-dev/aigate/internal/usage"
)

var usageFlags struct {
	dsn  string
	days int
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage statistics",
	Long: `Summarize recorded requests and token counts: overall totals, a
per-provider and per-model breakdown, and a daily series. Reads the usage
database configured under usage.dsn (or --dsn).`,
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	dsn := cfg.Usage.DSN
	if usageFlags.dsn != "" {
		dsn = usageFlags.dsn
	}
	if dsn == "" {
		return errors.New("usage accounting is not configured; set usage.dsn or pass --dsn")
	}

	backend, err := usage.Open(usage.Config{DSN: dsn})
	if err != nil {
		return err
	}
	if err := backend.Start(); err != nil {
		return err
	}
	defer backend.Stop()

	ctx := cmd.Context()
	var since time.Time
	window := "all time"
	if usageFlags.days > 0 {
		since = time.Now().AddDate(0, 0, -usageFlags.days)
		window = fmt.Sprintf("last %d day(s)", usageFlags.days)
	}

	totals, err := backend.Totals(ctx, since)
	if err != nil {
		return err
	}
	color.Cyan("Usage (%s)", window)
	fmt.Printf("  requests: %d  succeeded: %d  failed: %d  tokens: %d\n\n",
		totals.Requests, totals.Succeeded, totals.Failed, totals.TotalTokens)

	providers, err := backend.Providers(ctx, since)
	if err != nil {
		return err
	}
	if len(providers) > 0 {
		color.Cyan("By provider")
		fmt.Printf("  %-16s %10s %8s %12s %12s\n", "provider", "requests", "failed", "in tokens", "out tokens")
		for _, p := range providers {
			fmt.Printf("  %-16s %10d %8d %12d %12d\n",
				p.Provider, p.Requests, p.Failed, p.InputTokens, p.OutputTokens)
		}
		fmt.Println()
	}

	models, err := backend.Models(ctx, since)
	if err != nil {
		return err
	}
	if len(models) > 0 {
		color.Cyan("By model")
		fmt.Printf("  %-32s %-16s %10s %12s\n", "model", "provider", "requests", "tokens")
		for _, m := range models {
			fmt.Printf("  %-32s %-16s %10d %12d\n", m.Model, m.Provider, m.Requests, m.TotalTokens)
		}
		fmt.Println()
	}

	daily, err := backend.Daily(ctx, since)
	if err != nil {
		return err
	}
	if len(daily) > 0 {
		color.Cyan("By day")
		for _, d := range daily {
			fmt.Printf("  %s  %6d requests  %10d tokens\n", d.Day, d.Requests, d.Tokens)
		}
	}
	return nil
}

func init() {
	usageCmd.Flags().StringVar(&usageFlags.dsn, "dsn", "", "usage database to read")
	usageCmd.Flags().IntVar(&usageFlags.days, "days", 30, "window in days (0 for all time)")
	rootCmd.AddCommand(usageCmd)
}
