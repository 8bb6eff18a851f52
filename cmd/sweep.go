package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/orchestrator"
)

const dateLayout = "2006-01-02"

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over the lookback window and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := app.Sweeps().CrawlAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			app.Logger().Info("sweep finished", zap.Int("academies", result.TotalAcademies))
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

type backfillFlags struct {
	from       string
	to         string
	types      []string
	maxResults int
}

func newBackfillCmd() *cobra.Command {
	var flags backfillFlags
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Crawl an explicit date window for selected source types",
		Example: `  academy-crawler backfill --from 2026-01-01 --to 2026-01-31 --type dcinside
  academy-crawler backfill --from 2026-01-01 --type naver_cafe --type naver_cafe_api`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options(app.Location())
			if err != nil {
				return err
			}
			result, err := app.Sweeps().Backfill(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&flags.from, "from", "", "first day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "last day to include (YYYY-MM-DD, default today)")
	cmd.Flags().StringSliceVar(&flags.types, "type", nil, "source type to crawl (repeatable, default all)")
	cmd.Flags().IntVar(&flags.maxResults, "max-results", 0, "per-job result cap (default crawl.max_results)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func (f backfillFlags) options(loc *time.Location) (orchestrator.BackfillOptions, error) {
	opts := orchestrator.BackfillOptions{MaxResults: f.maxResults}
	start, err := time.ParseInLocation(dateLayout, f.from, loc)
	if err != nil {
		return opts, fmt.Errorf("invalid --from %q: %w", f.from, err)
	}
	opts.StartDate = &start
	if f.to != "" {
		end, err := time.ParseInLocation(dateLayout, f.to, loc)
		if err != nil {
			return opts, fmt.Errorf("invalid --to %q: %w", f.to, err)
		}
		opts.EndDate = &end
	}
	for _, raw := range f.types {
		t := crawler.SourceType(strings.TrimSpace(raw))
		if !t.Valid() {
			return opts, fmt.Errorf("invalid --type %q", raw)
		}
		opts.Types = append(opts.Types, t)
	}
	return opts, nil
}

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect-galleries",
		Short: "Check gallery sources and fix stale board paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dets, err := app.Sweeps().DetectGalleries(cmd.Context())
			if err != nil {
				return fmt.Errorf("detect galleries: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), dets)
		},
	}
}
