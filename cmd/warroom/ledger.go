package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rallypoint-io/warroom/internal/cli"
	"github.com/rallypoint-io/warroom/internal/ledger"
	"github.com/rallypoint-io/warroom/internal/model"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and manage the budget ledger",
	}
	cmd.AddCommand(ledgerStatusCmd())
	cmd.AddCommand(ledgerAllocateCmd())
	cmd.AddCommand(ledgerSweepCmd())
	return cmd
}

func ledgerStatusCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show budgets, actuals, and headroom for every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			budget := ledger.New(store, ledger.Config{})
			if err := budget.Load(ctx); err != nil {
				return err
			}

			nodes := budget.Nodes()
			if path != "" {
				p, err := parseLedgerPath(path)
				if err != nil {
					return err
				}
				nodes = budget.PathNodes(p)
			}
			if len(nodes) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No ledger nodes. Allocate budgets first."))
				return nil
			}
			fmt.Println(cli.RenderLedgerTable(nodes))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "limit to one path (candidate/campaign/channel/tier)")
	return cmd
}

func ledgerAllocateCmd() *cobra.Command {
	budgets := make(map[model.LedgerLevel]*float64, len(model.LedgerLevels))
	cmd := &cobra.Command{
		Use:   "allocate <candidate/campaign/channel/tier>",
		Short: "Set budgets along one path",
		Long: `Sets the budget at any of the five levels covering the given path.
Only the levels passed as flags change; actual spend is never touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := parseLedgerPath(args[0])
			if err != nil {
				return err
			}

			amounts := make(map[model.LedgerLevel]float64)
			for level, amount := range budgets {
				if cmd.Flags().Changed(string(level)) {
					amounts[level] = *amount
				}
			}
			if len(amounts) == 0 {
				return fmt.Errorf("no budget flags set, nothing to allocate")
			}

			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			budget := ledger.New(store, ledger.Config{})
			if err := budget.Load(ctx); err != nil {
				return err
			}
			if err := budget.AllocatePath(ctx, path, amounts); err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("Allocated %d level(s) on %s", len(amounts), args[0])))
			fmt.Println(cli.RenderLedgerTable(budget.PathNodes(path)))
			return nil
		},
	}
	for _, level := range model.LedgerLevels {
		var amount float64
		budgets[level] = &amount
		cmd.Flags().Float64Var(budgets[level], string(level), 0, fmt.Sprintf("budget at the %s level", level))
	}
	return cmd
}

func ledgerSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			budget := ledger.New(store, ledger.Config{
				ReservationTTL: loadThresholds().ReservationTTL,
			})
			if err := budget.Load(ctx); err != nil {
				return err
			}
			released, err := budget.ReleaseExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Released %d expired reservation(s)\n", released)
			return nil
		},
	}
}

// parseLedgerPath splits a candidate/campaign/channel/tier path string.
func parseLedgerPath(value string) (model.LedgerPath, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 4 {
		return model.LedgerPath{}, fmt.Errorf("invalid path %q, want candidate/campaign/channel/tier", value)
	}
	path := model.LedgerPath{
		Candidate: parts[0],
		Campaign:  parts[1],
		Channel:   parts[2],
		Tier:      parts[3],
	}
	if err := path.Validate(); err != nil {
		return model.LedgerPath{}, err
	}
	return path, nil
}
