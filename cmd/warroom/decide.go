package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/decision"
	"github.com/rallypoint-io/warroom/internal/model"
)

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run and inspect GO/NO-GO decisions",
	}
	cmd.AddCommand(decideRunCmd())
	cmd.AddCommand(decideShowCmd())
	cmd.AddCommand(decideOutcomeCmd())
	cmd.AddCommand(decideSpendCmd())
	return cmd
}

func decideRunCmd() *cobra.Command {
	var workers, batchSize int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate all unprocessed events against active candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			configs := newConfigStore()
			engine, _, err := newDecisionEngine(ctx, store, configs)
			if err != nil {
				return err
			}

			pipeline := decision.NewPipeline(engine, store, decision.PipelineConfig{
				Workers:   workers,
				BatchSize: batchSize,
			})
			stats, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Events processed: %d\n", stats.Events)
			fmt.Printf("  %s %d  %s %d  %s %d  failed %d\n",
				cli.SuccessStyle.Render("GO"), stats.Go,
				cli.ErrorStyle.Render("NO-GO"), stats.NoGo,
				cli.WarningStyle.Render("pending"), stats.Pending,
				stats.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent evaluations per event")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "events per run")
	return cmd
}

func decideShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id> <candidate-id>",
		Short: "Show the decision for an event/candidate pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			decision, err := store.GetDecision(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Print(cli.RenderDecision(decision))

			audits, err := store.GetRuleAudits(cmd.Context(), decision.ID)
			if err != nil {
				return err
			}
			if len(audits) > 0 {
				fmt.Println("  Rules tested:")
				for _, audit := range audits {
					marker := "-"
					if audit.Applied {
						marker = "*"
					}
					fmt.Printf("    %s %s (%s) matched=%t\n",
						marker, audit.RuleName, audit.Action, audit.Matched)
				}
			}
			return nil
		},
	}
}

func decideOutcomeCmd() *cobra.Command {
	var sent int
	var revenue, roi float64
	cmd := &cobra.Command{
		Use:   "outcome <decision-id>",
		Short: "Backfill actual results onto a GO decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			configs := newConfigStore()
			engine, _, err := newDecisionEngine(ctx, store, configs)
			if err != nil {
				return err
			}

			outcome := model.DecisionOutcome{
				SentCount:   sent,
				Revenue:     revenue,
				RealizedROI: roi,
			}
			if err := engine.RecordOutcome(ctx, args[0], outcome); err != nil {
				return err
			}
			fmt.Println("Outcome recorded; reservation committed.")
			return nil
		},
	}
	cmd.Flags().IntVar(&sent, "sent", 0, "messages actually sent")
	cmd.Flags().Float64Var(&revenue, "revenue", 0, "revenue attributed to the send")
	cmd.Flags().Float64Var(&roi, "roi", 0, "realized ROI ratio")
	return cmd
}

func decideSpendCmd() *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "spend <candidate-id>",
		Short: "Show a candidate's committed daily spend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			when, err := parseDay(day)
			if err != nil {
				return err
			}
			spend, err := store.GetDailySpend(cmd.Context(), args[0], when)
			if err != nil {
				return err
			}
			fmt.Printf("%s spend for %s: $%.2f\n",
				when.Format("2006-01-02"), args[0], spend)
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "UTC day (YYYY-MM-DD, default today)")
	return cmd
}
