package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kin/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show and compare recorded extraction runs",
		Long: `Runs recorded with kin extract --history are kept in a SQLite database.
Runs are named by id, any unique id prefix, "latest" or "previous".`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database (default from config or KIN_HISTORY)")

	open := func(cmd *cobra.Command) (*history.Store, error) {
		path := dbPath
		if path == "" {
			path = cfg.History.DatabasePath
		}
		if path == "" {
			return nil, fmt.Errorf("no history database: pass --db or set history.database_path")
		}
		return history.Open(path)
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tTAGS\tSECTIONS\tLINES\tSOURCE")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					history.ShortID(r.ID), r.CreatedAt.Local().Format(time.DateTime), r.Tags, r.Sections, r.Lines, r.Source)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs listed (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show the per-tag digests of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\nsource %s\ncreated %s\n\n", run.ID, run.Source, run.CreatedAt.Local().Format(time.RFC3339))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tDIGEST\tLINES\tTAG")
			for _, t := range run.Tags {
				fmt.Fprintf(w, "%s\t%5d\t%d\t%s\n", t.Key, t.Digest, len(t.Content), t.Tag)
			}
			return w.Flush()
		},
	}

	var contentDiff bool
	diffCmd := &cobra.Command{
		Use:   "diff [OLD [NEW]]",
		Short: "Compare two runs by tag digest",
		Long: `Compares two runs key by key. OLD defaults to "previous" and NEW to
"latest". With --content, changed keys show a unified diff of their full
content.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldRef, newRef := "previous", "latest"
			if len(args) > 0 {
				oldRef = args[0]
			}
			if len(args) > 1 {
				newRef = args[1]
			}

			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			cmp, err := store.Compare(cmd.Context(), oldRef, newRef)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s -> %s\n", history.ShortID(cmp.Old.ID), history.ShortID(cmp.New.ID))
			for _, ch := range cmp.Changes {
				switch ch.Kind {
				case history.Added:
					fmt.Fprintf(out, "+ %s (%d)\n", ch.Key, ch.NewDigest)
				case history.Removed:
					fmt.Fprintf(out, "- %s (%d)\n", ch.Key, ch.OldDigest)
				case history.Changed:
					fmt.Fprintf(out, "~ %s (%d -> %d)\n", ch.Key, ch.OldDigest, ch.NewDigest)
					if contentDiff && ch.Diff != nil {
						var sb strings.Builder
						if err := ch.Diff.WriteUnified(&sb); err != nil {
							return err
						}
						fmt.Fprint(out, indent(sb.String(), "    "))
					}
				}
			}
			fmt.Fprintf(out, "%d added, %d removed, %d changed, %d unchanged\n",
				cmp.Count(history.Added), cmp.Count(history.Removed), cmp.Count(history.Changed), cmp.Count(history.Unchanged))
			return nil
		},
	}
	diffCmd.Flags().BoolVar(&contentDiff, "content", false, "Show content diffs for changed keys")

	rmCmd := &cobra.Command{
		Use:   "rm RUN...",
		Short: "Delete recorded runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, ref := range args {
				id, err := store.Resolve(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", history.ShortID(id))
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, diffCmd, rmCmd)
	return cmd
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var sb strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		sb.WriteString(prefix)
		sb.WriteString(l)
	}
	return sb.String()
}
