package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/underwrite-cli/internal/compare"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/render"
	"github.com/sells-group/underwrite-cli/internal/sheet"
	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

var (
	boeFrom      string
	boeSheet     string
	boeSet       []string
	boeDryRun    bool
	boeXLSXOut   string
	boeShowRunID string
)

var boeCmd = &cobra.Command{
	Use:   "boe",
	Short: "Back of Envelope runs",
}

var boeRunsCmd = &cobra.Command{
	Use:   "runs <deal-id>",
	Short: "List a deal's BOE runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Source.ListRuns(ctx, args[0])
		if err != nil {
			return err
		}
		model.SortRunsNewestFirst(runs)

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}
		render.Runs(cmd.OutOrStdout(), runs)
		return nil
	},
}

var boeShowCmd = &cobra.Command{
	Use:   "show <deal-id>",
	Short: "Show a run with its gate decision, metrics and tests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.evaluateGate(ctx, args[0], boeShowRunID)
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), v)
	},
}

var boeCreateCmd = &cobra.Command{
	Use:   "create <deal-id>",
	Short: "Submit inputs for a new BOE run",
	Long: "Builds the input set from the default draft, then an optional CSV or XLSX " +
		"draft file (--from), then --set key=value pairs, and submits it to the engine.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := buildDraft(boeFrom, sheet.XLSXOptions{SheetName: boeSheet}, boeSet)
		if err != nil {
			return err
		}
		inputs := underwriting.DraftToInputs(draft)

		if boeDryRun {
			return writeJSON(cmd.OutOrStdout(), inputs)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.createRun(ctx, args[0], inputs)
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), v)
	},
}

var boeCompareCmd = &cobra.Command{
	Use:   "compare <deal-id> <run-a> <run-b>",
	Short: "Compare two runs of a deal",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		diff, err := env.compareRuns(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}

		if boeXLSXOut != "" {
			if err := sheet.SaveComparison(boeXLSXOut, diff); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Comparison written to %s\n", boeXLSXOut)
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), diff)
		}
		render.Diff(cmd.OutOrStdout(), diff)
		return nil
	},
}

// buildDraft layers an optional draft file and key=value overrides on top
// of the default draft.
func buildDraft(path string, opts sheet.XLSXOptions, sets []string) (underwriting.Draft, error) {
	draft := underwriting.DefaultDraft()
	if path != "" {
		fromFile, err := sheet.ReadDraft(path, opts)
		if err != nil {
			return nil, err
		}
		draft = sheet.Merge(draft, fromFile)
	}

	known := make(map[string]bool, len(underwriting.InputKeys))
	for _, k := range underwriting.InputKeys {
		known[k] = true
	}
	overrides := underwriting.Draft{}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Errorf("boe: invalid --set %q, want key=value", kv)
		}
		if !known[k] {
			return nil, eris.Errorf("boe: unknown input %q", k)
		}
		overrides[k] = strings.TrimSpace(v)
	}
	return sheet.Merge(draft, overrides), nil
}

// createRun submits inputs and re-fetches the created run so the returned
// view carries the full test battery.
func (e *appEnv) createRun(ctx context.Context, dealID string, inputs map[string]float64) (*gateView, error) {
	if err := e.requireClient("boe create"); err != nil {
		return nil, err
	}
	created, err := e.Client.CreateRun(ctx, dealID, inputs)
	if err != nil {
		return nil, err
	}
	zap.L().Info("run created",
		zap.String("deal_id", dealID),
		zap.String("run_id", created.ID),
		zap.Int("version", created.Version),
	)
	return e.evaluateGate(ctx, dealID, created.ID)
}

// compareRuns fetches both runs concurrently and diffs them.
func (e *appEnv) compareRuns(ctx context.Context, dealID, runA, runB string) (compare.Diff, error) {
	var a, b *model.Run
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = e.Source.GetRun(gctx, dealID, runA)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = e.Source.GetRun(gctx, dealID, runB)
		return err
	})
	if err := g.Wait(); err != nil {
		return compare.Diff{}, err
	}
	return compare.Runs(a, b), nil
}

func printRun(out io.Writer, v *gateView) error {
	if flagJSON {
		return writeJSON(out, struct {
			Run  *model.Run `json:"run"`
			Gate *gateView  `json:"gate"`
		}{v.Run, v})
	}
	if v.Run == nil {
		fmt.Fprintf(out, "No runs for %s. Gate: %s\n", v.DealID, v.State)
		return nil
	}
	render.Run(out, v.Run, v.Decision, v.State)
	if v.Run.DecisionSummary == nil && v.Summary != nil && v.Summary.ICScore != nil {
		fmt.Fprintf(out, "\nIC score:    %d (computed locally)\n", *v.Summary.ICScore)
	}
	if v.ServerAgrees != nil && !*v.ServerAgrees {
		fmt.Fprintln(out, "\nWarning: the server's decision summary disagrees with the local evaluation.")
	}
	return nil
}

func init() {
	boeShowCmd.Flags().StringVar(&boeShowRunID, "run", "", "run ID (default latest)")

	boeCreateCmd.Flags().StringVar(&boeFrom, "from", "", "CSV or XLSX draft file with key,value rows")
	boeCreateCmd.Flags().StringVar(&boeSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	boeCreateCmd.Flags().StringArrayVar(&boeSet, "set", nil, "input override as key=value (repeatable)")
	boeCreateCmd.Flags().BoolVar(&boeDryRun, "dry-run", false, "print the request inputs without submitting")

	boeCompareCmd.Flags().StringVar(&boeXLSXOut, "xlsx", "", "also write the comparison to an XLSX workbook")

	boeCmd.AddCommand(boeRunsCmd, boeShowCmd, boeCreateCmd, boeCompareCmd)
	rootCmd.AddCommand(boeCmd)
}
