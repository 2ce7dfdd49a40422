package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/render"
)

var workspaceID string

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Workspace editions, deal summaries and activity",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces and their features",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.requireClient("workspace list"); err != nil {
			return err
		}

		list, err := env.Client.ListWorkspaces(ctx)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No workspaces found.")
			return nil
		}
		render.Workspaces(cmd.OutOrStdout(), list)
		return nil
	},
}

var workspaceEditionCmd = &cobra.Command{
	Use:   "edition <SYNDICATOR|FUND>",
	Short: "Change the workspace edition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		edition, err := parseEdition(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.requireClient("workspace edition"); err != nil {
			return err
		}
		wsID, err := resolveWorkspace()
		if err != nil {
			return err
		}

		ws, err := env.Client.UpdateWorkspaceEdition(ctx, wsID, edition)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), ws)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Workspace %s is now %s (features: %s)\n",
			ws.Name, ws.Edition, strings.Join(render.FeatureNames(ws.Capabilities.Features), ", "))
		return nil
	},
}

var workspaceSummaryCmd = &cobra.Command{
	Use:   "summary <deal-id>",
	Short: "Show the workspace summary and recent activity of a deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.requireClient("workspace summary"); err != nil {
			return err
		}
		wsID, err := resolveWorkspace()
		if err != nil {
			return err
		}

		summary, events, err := env.dealSummary(ctx, wsID, args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), struct {
				Summary  *model.DealWorkspaceSummary `json:"summary"`
				Activity []model.ActivityEvent       `json:"activity"`
			}{summary, events})
		}
		out := cmd.OutOrStdout()
		render.Summary(out, summary)
		if len(events) > 0 {
			fmt.Fprintln(out)
			render.Activity(out, events)
		}
		return nil
	},
}

var workspaceActivityCmd = &cobra.Command{
	Use:   "activity <deal-id>",
	Short: "Show a deal's activity feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.requireClient("workspace activity"); err != nil {
			return err
		}

		events, err := env.Client.GetActivity(ctx, args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), events)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No activity yet.")
			return nil
		}
		render.Activity(cmd.OutOrStdout(), events)
		return nil
	},
}

var workspaceCommentCmd = &cobra.Command{
	Use:   "comment <deal-id> <text...>",
	Short: "Post a comment to a deal's activity feed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.TrimSpace(strings.Join(args[1:], " "))
		if body == "" {
			return eris.New("workspace: comment required")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.requireClient("workspace comment"); err != nil {
			return err
		}

		if err := env.Client.PostComment(ctx, args[0], body); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Comment posted.")
		return nil
	},
}

// dealSummary fetches the workspace summary and activity feed concurrently.
func (e *appEnv) dealSummary(ctx context.Context, wsID, dealID string) (*model.DealWorkspaceSummary, []model.ActivityEvent, error) {
	var (
		summary *model.DealWorkspaceSummary
		events  []model.ActivityEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = e.Client.GetDealSummary(gctx, wsID, dealID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = e.Client.GetActivity(gctx, dealID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return summary, events, nil
}

func resolveWorkspace() (string, error) {
	if workspaceID != "" {
		return workspaceID, nil
	}
	if cfg != nil && cfg.API.WorkspaceID != "" {
		return cfg.API.WorkspaceID, nil
	}
	return "", eris.New("workspace: no workspace selected (set --workspace or api.workspace_id)")
}

func parseEdition(s string) (model.Edition, error) {
	e := model.Edition(strings.ToUpper(strings.TrimSpace(s)))
	switch e {
	case model.EditionSyndicator, model.EditionFund:
		return e, nil
	}
	return "", eris.Errorf("workspace: unknown edition %q, want SYNDICATOR or FUND", s)
}

func init() {
	workspaceCmd.PersistentFlags().StringVar(&workspaceID, "workspace", "", "workspace ID (default api.workspace_id)")

	workspaceCmd.AddCommand(workspaceListCmd, workspaceEditionCmd, workspaceSummaryCmd, workspaceActivityCmd, workspaceCommentCmd)
	rootCmd.AddCommand(workspaceCmd)
}
