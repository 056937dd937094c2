package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cveteval/internal/core"
	"cveteval/internal/match"
	"cveteval/internal/migration"
	"cveteval/pkg/domain"
)

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "cveteval",
		Short: "Reconcile curriculum histories and migrate their user data",
		Long: `cveteval keeps every import of the curriculum dataset as a history. It matches
the entities of two histories by their natural keys and carries appraisals and
final evaluations from the old history onto the new one.

Storage, report archive, logging and metrics are configured through CVETEVAL_*
environment variables or the YAML file named by CVETEVAL_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newImportCmd(),
		newHistoriesCmd(),
		newMatchCmd(),
		newMigrateCmd(),
		newReportsCmd(),
	)
	return root
}

// withApp builds the collaborators, runs fn and releases them. The metrics
// job is named after the command.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx, "cveteval_"+cmd.Name()); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func newImportCmd() *cobra.Command {
	var (
		active   bool
		comments string
	)
	cmd := &cobra.Command{
		Use:   "import <idnumber> <file.json>",
		Short: "Import a history bundle (dataset, user data and users)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := readBundle(args[1])
			if err != nil {
				return err
			}
			bundle.History.IDNumber = args[0]
			if cmd.Flags().Changed("active") {
				bundle.History.IsActive = active
			}
			if comments != "" {
				bundle.History.Comments = comments
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				created, err := a.svc.ImportHistory(ctx, bundle)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "imported history %d (%s): %d curriculum records, %d appraisals, %d final evaluations\n",
					created.ID, created.IDNumber, bundle.Dataset.Len(), len(bundle.UserData.Appraisals), len(bundle.UserData.FinalEvaluations))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "mark the history as the active one")
	cmd.Flags().StringVar(&comments, "comments", "", "free text stored with the history")
	return cmd
}

func readBundle(path string) (core.HistoryBundle, error) {
	var bundle core.HistoryBundle
	raw, err := os.ReadFile(path)
	if err != nil {
		return bundle, fmt.Errorf("read bundle: %w", err)
	}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return bundle, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	return bundle, nil
}

func newHistoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "histories",
		Short: "List imported histories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				histories, err := a.svc.Histories(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tIDNUMBER\tACTIVE\tCREATED\tCOMMENTS")
				for _, h := range histories {
					fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", h.ID, h.IDNumber, h.IsActive, h.CreatedAt.Format("2006-01-02T15:04:05Z"), h.Comments)
				}
				return tw.Flush()
			})
		},
	}
}

func newMatchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "match <old-history> <new-history>",
		Short: "Reconcile two histories and print the classification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, newID, err := historyIDs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				matcher, err := a.svc.Match(ctx, oldID, newID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.out, struct {
						Summary   []match.Summary   `json:"summary"`
						Matched   []match.Pair      `json:"matched"`
						Unmatched []match.Unmatched `json:"unmatched"`
						Orphaned  []match.Orphan    `json:"orphaned"`
					}{matcher.Summary(), matcher.MatchedEntities(), matcher.UnmatchedEntities(), matcher.OrphanedEntities()})
				}
				if err := writeSummary(a.out, matcher.Summary()); err != nil {
					return err
				}
				return writeOrphans(a.out, matcher.OrphanedEntities())
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reconciliation as JSON")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var (
		contexts []string
		assigns  []string
		apply    bool
		export   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "migrate <old-history> <new-history>",
		Short: "Plan, and optionally apply, the migration of user data",
		Long: `migrate converts the appraisals and final evaluations of the old history to
the ids of the new history. Without --apply nothing is written.

--assign binds an old entity that found no counterpart to a new one, for
example --assign planning:3=42.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, newID, err := historyIDs(args)
			if err != nil {
				return err
			}
			selected, err := migration.ParseContexts(contexts)
			if err != nil {
				return err
			}
			assignments, err := parseAssignments(assigns)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				plan, err := a.svc.Plan(ctx, oldID, newID, selected, assignments...)
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(a.out, plan); err != nil {
						return err
					}
				} else if err := writePlan(a.out, plan); err != nil {
					return err
				}
				if export {
					info, err := a.svc.ExportReport(ctx, plan)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "report: %s %s\n", info.Key, info.URL)
				}
				if !apply {
					return nil
				}
				written, err := a.svc.Apply(ctx, plan)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "applied run %s: history %d now holds %d appraisals, %d final evaluations\n",
					plan.RunID, plan.NewHistoryID, len(written.Appraisals), len(written.FinalEvaluations))
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&contexts, "context", nil, "classification lists to migrate from: matched, unmatched, orphaned or all (default all)")
	cmd.Flags().StringArrayVar(&assigns, "assign", nil, "operator assignment kind:old=new, repeatable")
	cmd.Flags().BoolVar(&apply, "apply", false, "write the converted user data to the new history")
	cmd.Flags().BoolVar(&export, "export", false, "archive the plan as a JSON report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func newReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reports <old-history> <new-history>",
		Short: "List archived migration reports of a history pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, newID, err := historyIDs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				reports, err := a.svc.Reports(ctx, oldID, newID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSIZE\tRUN\tMODIFIED")
				for _, r := range reports {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Key, r.Size, r.Metadata["run-id"], r.LastModified.Format("2006-01-02T15:04:05Z"))
				}
				return tw.Flush()
			})
		},
	}
}

func historyIDs(args []string) (int64, int64, error) {
	oldID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("old history id %q: %w", args[0], err)
	}
	newID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("new history id %q: %w", args[1], err)
	}
	return oldID, newID, nil
}

// parseAssignments reads kind:old=new triples.
func parseAssignments(raw []string) ([]match.Assignment, error) {
	out := make([]match.Assignment, 0, len(raw))
	for _, r := range raw {
		kind, ids, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("assignment %q: want kind:old=new", r)
		}
		k := domain.EntityKind(strings.TrimSpace(kind))
		if !slices.Contains(domain.CurriculumKinds, k) {
			return nil, fmt.Errorf("assignment %q: unknown kind %q", r, kind)
		}
		oldRaw, newRaw, ok := strings.Cut(ids, "=")
		if !ok {
			return nil, fmt.Errorf("assignment %q: want kind:old=new", r)
		}
		oldID, err := strconv.ParseInt(strings.TrimSpace(oldRaw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("assignment %q: old id: %w", r, err)
		}
		newID, err := strconv.ParseInt(strings.TrimSpace(newRaw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("assignment %q: new id: %w", r, err)
		}
		out = append(out, match.Assignment{Kind: k, OldID: oldID, NewID: newID})
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummary(w io.Writer, summary []match.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tMATCHED\tUNMATCHED OLD\tUNMATCHED NEW\tORPHANED OLD\tORPHANED NEW")
	for _, s := range summary {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Kind, s.Matched, s.UnmatchedOld, s.UnmatchedNew, s.OrphanedOld, s.OrphanedNew)
	}
	return tw.Flush()
}

func writeOrphans(w io.Writer, orphans []match.Orphan) error {
	if len(orphans) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nORPHAN\tSIDE\tID\tREFERENCE\tREASON")
	for _, o := range orphans {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s %d\t%s\n", o.Kind, o.Side, o.ID(), o.Reference, o.ReferenceID, o.Reason)
	}
	return tw.Flush()
}

func writePlan(w io.Writer, plan *core.MigrationPlan) error {
	fmt.Fprintf(w, "run %s: history %d -> %d\n", plan.RunID, plan.OldHistoryID, plan.NewHistoryID)
	if err := writeSummary(w, plan.Summary); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nappraisals: %d migrated, %d excluded, %d grades dropped\n",
		len(plan.Appraisals.Appraisals), plan.Appraisals.Excluded(), len(plan.Appraisals.GradeGaps))
	fmt.Fprintf(w, "final evaluations: %d migrated, %d excluded\n",
		len(plan.FinalEvaluations.Evaluations), plan.FinalEvaluations.Excluded())
	gaps := plan.Gaps()
	if len(gaps) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nGAP\tORIGIN\tREASON")
	for _, g := range gaps {
		fmt.Fprintf(tw, "%s\t%d\t%s %d %s\n", g.Kind, g.OriginID, g.Reference, g.ReferenceID, g.Status)
	}
	return tw.Flush()
}
