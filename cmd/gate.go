package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/monitoring"
	"github.com/sells-group/underwrite-cli/internal/render"
)

var (
	gateRunID           string
	gateOverrideStatus  string
	gateOverrideComment string
	gateOverrideBy      string
	gateWatchOnce       bool
)

// errLocked makes `gate unlock` exit non-zero while Full Underwriting is
// locked. The criteria have already been printed.
var errLocked = eris.New("full underwriting is locked")

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "BOE gate decisions and overrides",
}

var gateEvaluateCmd = &cobra.Command{
	Use:   "evaluate <deal-id>",
	Short: "Recompute the gate decision for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.evaluateGate(ctx, args[0], gateRunID)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), v)
		}

		out := cmd.OutOrStdout()
		if v.Run == nil {
			fmt.Fprintf(out, "No runs for %s. Gate: %s\n", v.DealID, v.State)
			return nil
		}
		fmt.Fprintf(out, "Run %s (v%d)\n\n", v.RunID, v.Version)
		render.Decision(out, v.Decision, v.State)
		if v.ICScore != nil && v.Summary != nil && v.Summary.ICScore != nil {
			b := v.ICScore
			fmt.Fprintf(out, "IC score:    %d (hard fails %d, soft fails %d, warns %d)\n",
				*v.Summary.ICScore, b.HardFailCount, b.SoftFailCount, b.WarnCount)
		}
		if v.ServerAgrees != nil && !*v.ServerAgrees {
			fmt.Fprintln(out, "Warning: the server's decision summary disagrees with the local evaluation.")
		}
		return nil
	},
}

var gateOverrideCmd = &cobra.Command{
	Use:   "override <deal-id>",
	Short: "Apply an admin override to the gate",
	Long:  "Sets the effective gate state to ADVANCE, REVIEW or KILL, or removes the override with CLEAR. A comment is required unless clearing.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := model.Override{
			Status:  model.OverrideStatus(gateOverrideStatus),
			Comment: gateOverrideComment,
			By:      gateOverrideBy,
		}
		if st, ok := model.ParseOverrideStatus(gateOverrideStatus); ok {
			o.Status = st
		}
		// Reject before touching config-dependent resources.
		if err := gate.ValidateOverride(o); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.applyOverride(ctx, args[0], o); err != nil {
			return err
		}
		v, err := env.evaluateGate(ctx, args[0], "")
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), v)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Gate for %s is now %s\n", args[0], v.State)
		return nil
	},
}

var gateUnlockCmd = &cobra.Command{
	Use:   "unlock <deal-id>",
	Short: "Check whether Full Underwriting is unlocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.evaluateGate(ctx, args[0], "")
		if err != nil {
			return err
		}
		if flagJSON {
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
		} else if v.Unlocked {
			fmt.Fprintf(cmd.OutOrStdout(), "Full underwriting is unlocked for %s (%s).\n", args[0], v.State)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Full underwriting is locked for %s (%s).\n%s\n", args[0], v.State, gate.UnlockCriteria)
		}
		if !v.Unlocked {
			cmd.SilenceErrors = true
			return errLocked
		}
		return nil
	},
}

var gateHistoryCmd = &cobra.Command{
	Use:   "history <deal-id>",
	Short: "Show recorded gate state transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Store.ListTransitions(ctx, args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No gate transitions recorded.")
			return nil
		}
		render.Transitions(cmd.OutOrStdout(), list)
		return nil
	},
}

var gateWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll deals and alert on gate state changes",
	Long: "Refreshes every catalogued deal on monitoring.check_interval_secs, records gate " +
		"transitions and posts alerts to monitoring.webhook_url when one is configured.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := env.newChecker(cfg.Monitoring)
		out := cmd.OutOrStdout()
		checker.OnAlerts = func(alerts []monitoring.Alert) {
			for _, a := range alerts {
				fmt.Fprintf(out, "%s\t%s\t%s\n", a.Timestamp.Local().Format("2006-01-02 15:04"), a.Severity, a.Message)
			}
		}

		if gateWatchOnce {
			checker.Check(ctx)
			return nil
		}
		checker.Run(ctx)
		return nil
	},
}

func init() {
	gateEvaluateCmd.Flags().StringVar(&gateRunID, "run", "", "run ID (default latest)")

	gateOverrideCmd.Flags().StringVar(&gateOverrideStatus, "status", "", "ADVANCE, REVIEW, KILL or CLEAR")
	gateOverrideCmd.Flags().StringVar(&gateOverrideComment, "comment", "", "reason for the override")
	gateOverrideCmd.Flags().StringVar(&gateOverrideBy, "by", os.Getenv("USER"), "who applied the override")
	_ = gateOverrideCmd.MarkFlagRequired("status")

	gateWatchCmd.Flags().BoolVar(&gateWatchOnce, "once", false, "check once and exit")

	gateCmd.AddCommand(gateEvaluateCmd, gateOverrideCmd, gateUnlockCmd, gateHistoryCmd, gateWatchCmd)
	rootCmd.AddCommand(gateCmd)
}
