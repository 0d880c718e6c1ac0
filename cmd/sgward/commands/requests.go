package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/engine"
)

func newRequestsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect the request store",
	}
	cmd.AddCommand(newRequestsListCommand())
	cmd.AddCommand(newRequestsCountsCommand())
	return cmd
}

func newRequestsListCommand() *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests by status",
		Example: `  # Everything awaiting the applier
  sgward requests list --status APPROVE_CREATE --status APPROVE_MODIFY

  # Drifted rules needing attention
  sgward requests list --status DETECT_MODIFIED`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			want := make([]engine.Status, 0, len(statuses))
			for _, s := range statuses {
				st := engine.Status(s)
				if err := st.Validate(); err != nil {
					return err
				}
				want = append(want, st)
			}
			if len(want) == 0 {
				want = []engine.Status{engine.StatusApproveCreate, engine.StatusApproveModify, engine.StatusApproveDelete}
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			reqs, err := store.ListByStatus(ctx, want...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tACCOUNT\tGROUP\tPROTOCOL\tPORT\tSOURCE\tRULE ID\tREQUESTER")
			for _, r := range reqs {
				ruleID := "-"
				if r.RuleID != nil {
					ruleID = *r.RuleID
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID, r.Status, r.AccountID, r.GroupID, r.Protocol, r.Port, r.Source, ruleID, r.RequesterID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringArrayVar(&statuses, "status", nil, "status to list (repeatable, default: APPROVE_*)")
	return cmd
}

func newRequestsCountsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show request counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.CountByStatus(ctx)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(counts))
			for s := range counts {
				keys = append(keys, string(s))
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%d\n", k, counts[engine.Status(k)])
			}
			return w.Flush()
		},
	}
	return cmd
}
