package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/render"
)

const dealStateConcurrency = 4

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "List and inspect deals",
}

var dealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals with their effective gate state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		rows := env.dealRows(ctx)
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No deals found.")
			return nil
		}
		render.Deals(cmd.OutOrStdout(), rows)
		return nil
	},
}

var dealsShowCmd = &cobra.Command{
	Use:   "show <deal-id>",
	Short: "Show a deal with its runs and gate history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.showDeal(ctx, cmd.OutOrStdout(), args[0])
	},
}

// dealRows resolves the effective gate state of every catalogued deal. A
// deal whose runs cannot be loaded is listed with state UNKNOWN.
func (e *appEnv) dealRows(ctx context.Context) []render.DealRow {
	deals := e.Local.Deals()
	rows := make([]render.DealRow, len(deals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dealStateConcurrency)
	for i := range deals {
		rows[i].Deal = deals[i]
		g.Go(func() error {
			v, err := e.evaluateGate(gctx, deals[i].ID, "")
			if err != nil {
				zap.L().Warn("resolve gate state", zap.String("deal_id", deals[i].ID), zap.Error(err))
				rows[i].State = "UNKNOWN"
				return nil
			}
			rows[i].State = v.State.String()
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func (e *appEnv) showDeal(ctx context.Context, out io.Writer, dealID string) error {
	deal, err := e.Local.Deal(dealID)
	if err != nil {
		// Deals created through the API are not catalogued locally.
		deal = model.Deal{ID: dealID}
	}

	runs, err := e.Source.ListRuns(ctx, dealID)
	if err != nil {
		return err
	}
	model.SortRunsNewestFirst(runs)
	deal.Runs = runs

	v, err := e.evaluateGate(ctx, dealID, "")
	if err != nil {
		return err
	}
	transitions, err := e.Store.ListTransitions(ctx, dealID)
	if err != nil {
		return err
	}

	if flagJSON {
		return writeJSON(out, struct {
			Deal        model.Deal             `json:"deal"`
			Gate        *gateView              `json:"gate"`
			Transitions []model.GateTransition `json:"transitions"`
		}{deal, v, transitions})
	}

	if deal.Name != "" {
		fmt.Fprintf(out, "%s (%s)\n", deal.Name, deal.ID)
		fmt.Fprintf(out, "Address:     %s\n", deal.Address)
		fmt.Fprintf(out, "Stage:       %s\n", deal.Stage)
		fmt.Fprintf(out, "Ask:         %s\n", render.Money(deal.Ask))
	} else {
		fmt.Fprintf(out, "Deal %s\n", deal.ID)
	}
	fmt.Fprintf(out, "Gate:        %s\n", v.State)
	for _, n := range deal.Notes {
		fmt.Fprintf(out, "  - %s\n", n)
	}

	fmt.Fprintln(out)
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs yet.")
	} else {
		render.Runs(out, runs)
	}
	if len(transitions) > 0 {
		fmt.Fprintln(out)
		render.Transitions(out, transitions)
	}
	return nil
}

func init() {
	dealsCmd.AddCommand(dealsListCmd, dealsShowCmd)
	rootCmd.AddCommand(dealsCmd)
}
