package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/model"
)

func correctionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Run and inspect the self-correction loop",
	}
	cmd.AddCommand(correctionsIngestCmd())
	cmd.AddCommand(correctionsHistoryCmd())
	cmd.AddCommand(correctionsShowCmd())
	cmd.AddCommand(correctionsRollbacksCmd())
	cmd.AddCommand(correctionsExpireCmd())
	return cmd
}

func correctionsIngestCmd() *cobra.Command {
	var (
		ecosystem     string
		quality       float64
		effectiveness float64
		latency       float64
		cost          float64
		errorRate     float64
		samples       int
	)
	cmd := &cobra.Command{
		Use:   "ingest <function>",
		Short: "Record a measurement and evaluate correction rules against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := newCorrectionEngine(store, newConfigStore())
			events, err := engine.Ingest(ctx, model.Measurement{
				MeasuredAt:    time.Now().UTC(),
				Function:      args[0],
				Ecosystem:     ecosystem,
				Quality:       quality,
				Effectiveness: effectiveness,
				LatencyMs:     latency,
				Cost:          cost,
				ErrorRate:     errorRate,
				SampleSize:    samples,
			})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println(cli.SubtleStyle.Render("Measurement recorded, no corrections triggered."))
				return nil
			}
			for i := range events {
				fmt.Println(cli.RenderCorrectionEvent(&events[i]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ecosystem, "ecosystem", "", "ecosystem the function belongs to")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score in [0,1]")
	cmd.Flags().Float64Var(&effectiveness, "effectiveness", 0, "effectiveness score in [0,1]")
	cmd.Flags().Float64Var(&latency, "latency-ms", 0, "observed latency in milliseconds")
	cmd.Flags().Float64Var(&cost, "cost", 0, "cost per unit of work")
	cmd.Flags().Float64Var(&errorRate, "error-rate", 0, "error rate in [0,1]")
	cmd.Flags().IntVar(&samples, "samples", 1, "number of observations behind this measurement")
	return cmd
}

func correctionsHistoryCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently applied and rolled-back corrections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.GetActiveCorrectionRules(ctx)
			if err != nil {
				return err
			}
			cutoff := time.Now().UTC().Add(-since)
			total := 0
			for i := range rules {
				events, err := store.GetAppliedCorrections(ctx, rules[i].ID, cutoff)
				if err != nil {
					return err
				}
				for j := range events {
					fmt.Println(cli.RenderCorrectionEvent(&events[j]))
					total++
				}
			}
			if total == 0 {
				fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("No corrections applied in the last %s.", since)))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back to look")
	return cmd
}

func correctionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <correction-id>",
		Short: "Show one correction event in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			event, err := store.GetCorrectionEventByID(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderCorrectionEvent(event))
			return nil
		},
	}
}

func correctionsRollbacksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-rollbacks",
		Short: "Roll back corrections whose observation window has lapsed without recovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := newCorrectionEngine(store, newConfigStore())
			rolledBack, err := engine.CheckRollbacks(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rolled back %d correction(s)\n", rolledBack)
			return nil
		},
	}
}

func correctionsExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire pending approvals past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			configs := newConfigStore()

			corrEngine := newCorrectionEngine(store, configs)
			corrections, err := corrEngine.ExpirePending(ctx)
			if err != nil {
				return err
			}

			decEngine, _, err := newDecisionEngine(ctx, store, configs)
			if err != nil {
				return err
			}
			decisions, err := decEngine.ExpirePending(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Expired %d pending correction(s) and %d pending decision(s)\n", corrections, decisions)
			return nil
		},
	}
}
