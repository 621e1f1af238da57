package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/repo"
)

func cycleCmd() *cobra.Command {
	cyc := &cobra.Command{
		Use:   "cycle",
		Short: "Manage decision cycles",
		Long:  "A cycle is one bet: a locked hypothesis, the evidence gathered while executing, a review of its key results and the decision taken.",
	}
	cyc.AddCommand(cycleCreateCmd())
	cyc.AddCommand(cycleListCmd())
	cyc.AddCommand(cycleShowCmd())
	cyc.AddCommand(cycleEditCmd())
	cyc.AddCommand(cycleLockCmd())
	cyc.AddCommand(cycleAdvanceCmd())
	cyc.AddCommand(evidenceCmd())
	cyc.AddCommand(krCmd())
	cyc.AddCommand(cycleReviewCmd())
	cyc.AddCommand(cycleOutcomeCmd())
	return cyc
}

// readText returns the inline value or, when file is set, the file contents ("-" reads stdin).
func readText(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	if file == "-" {
		data, err := readAllStdin()
		return string(data), err
	}
	data, err := os.ReadFile(file)
	return string(data), err
}

func cycleCreateCmd() *cobra.Command {
	var opts engine.CycleCreateOptions
	var criteriaFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a cycle in DRAFTING",
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := readText(opts.SuccessCriteria, criteriaFile)
			if err != nil {
				return err
			}
			opts.SuccessCriteria = criteria
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts.ProjectID = projectID
				opts.ActorID = actorID()
				c, err := e.CreateCycle(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Created cycle %s (%s) in %s\n", c.ID, c.Title, c.ProjectName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "cycle id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Template, "template", "", "prefill from a template (see 'dos templates')")
	cmd.Flags().StringVar(&opts.Hypothesis, "hypothesis", "", "hypothesis statement")
	cmd.Flags().StringVar(&opts.SuccessCriteria, "criteria", "", "success criteria, one '- ' line per key result")
	cmd.Flags().StringVar(&criteriaFile, "criteria-file", "", "read success criteria from a file ('-' for stdin)")
	cmd.Flags().StringVar(&opts.OutOfScope, "out-of-scope", "", "what the bet does not cover")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner actor id (defaults to the acting actor)")
	cmd.Flags().StringVar(&opts.OwnerName, "owner-name", "", "owner display name")
	return cmd
}

func cycleListCmd() *cobra.Command {
	var status string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cycles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.CycleFilters{Status: strings.ToUpper(status), Limit: limit}
			run := func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCycles(ctx, f)
				if err != nil {
					return err
				}
				return printCycles(items)
			}
			if all {
				return withEngine(cmd.Context(), run)
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				f.ProjectID = projectID
				return run(ctx, e)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (DRAFTING, EXECUTING, REVIEW, OUTCOME, CLOSED)")
	cmd.Flags().BoolVar(&all, "all", false, "list cycles of every project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of cycles")
	return cmd
}

func cycleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show a cycle with its phases and key results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCycle(ctx, args[0])
				if err != nil {
					return notFound("cycle", err)
				}
				a, err := e.KeyResults(ctx, c.ID)
				if err != nil {
					return err
				}
				return printCycle(c, a)
			})
		},
	}
	return cmd
}

func cycleEditCmd() *cobra.Command {
	var title, hypothesis, criteria, criteriaFile, outOfScope string
	cmd := &cobra.Command{
		Use:   "edit <cycle-id>",
		Short: "Edit the title or hypothesis of an unlocked cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.HypothesisUpdate{CycleID: args[0], ActorID: actorID()}
			flags := cmd.Flags()
			if flags.Changed("title") {
				upd.Title = &title
			}
			if flags.Changed("hypothesis") {
				upd.Hypothesis = &hypothesis
			}
			if flags.Changed("criteria") || flags.Changed("criteria-file") {
				text, err := readText(criteria, criteriaFile)
				if err != nil {
					return err
				}
				upd.SuccessCriteria = &text
			}
			if flags.Changed("out-of-scope") {
				upd.OutOfScope = &outOfScope
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateHypothesis(ctx, upd)
				if err != nil {
					return notFound("cycle", err)
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&hypothesis, "hypothesis", "", "hypothesis statement")
	cmd.Flags().StringVar(&criteria, "criteria", "", "success criteria")
	cmd.Flags().StringVar(&criteriaFile, "criteria-file", "", "read success criteria from a file ('-' for stdin)")
	cmd.Flags().StringVar(&outOfScope, "out-of-scope", "", "out of scope")
	return cmd
}

func cycleLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock <cycle-id>",
		Short: "Lock the hypothesis; it can no longer be edited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.LockHypothesis(ctx, args[0], actorID())
				if err != nil {
					return notFound("cycle", err)
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Locked hypothesis of %s at %s\n", c.ID, *c.Hypothesis.LockedAt)
				return nil
			})
		},
	}
	return cmd
}

func cycleAdvanceCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "advance <cycle-id>",
		Short: "Move a cycle to its next status (--force skips the phase checks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				before, err := e.Repo.GetCycle(ctx, args[0])
				if err != nil {
					return notFound("cycle", err)
				}
				c, err := e.AdvanceCycle(ctx, before.ID, domain.Status(strings.ToUpper(to)), actorID(), viper.GetBool("force"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s: %s → %s\n", c.ID, statusCell(before.Status), statusCell(c.Status))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status (default: the next one)")
	return cmd
}

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{Use: "evidence", Short: "Evidence attached to a cycle"}
	ev.AddCommand(evidenceAddCmd())
	ev.AddCommand(evidenceListCmd())
	return ev
}

func evidenceAddCmd() *cobra.Command {
	var opts engine.EvidenceOptions
	cmd := &cobra.Command{
		Use:   "add <cycle-id>",
		Short: "Attach evidence while the cycle is executing or under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CycleID = args[0]
			opts.ActorID = actorID()
			opts.Force = viper.GetBool("force")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.AttachEvidence(ctx, opts)
				if err != nil {
					return notFound("cycle", err)
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "evidence type (CI_RUN, PREVIEW_URL, ...)")
	cmd.Flags().StringVar(&opts.ReferenceURL, "url", "", "reference URL")
	cmd.Flags().StringVar(&opts.Status, "status", "", "artifact status, e.g. completed")
	cmd.Flags().StringVar(&opts.Conclusion, "conclusion", "", "artifact conclusion, e.g. success")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func evidenceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <cycle-id>",
		Short: "List evidence of a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCycle(ctx, args[0])
				if err != nil {
					return notFound("cycle", err)
				}
				if viper.GetBool("json") {
					return printJSON(c.Evidence)
				}
				printEvidence(c.Evidence)
				return nil
			})
		},
	}
	return cmd
}

func krCmd() *cobra.Command {
	kr := &cobra.Command{Use: "kr", Short: "Key results parsed from the success criteria"}
	kr.AddCommand(krListCmd())
	kr.AddCommand(krMarkCmd())
	return kr
}

func krListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <cycle-id>",
		Short: "List key results with their achievement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.KeyResults(ctx, args[0])
				if err != nil {
					return notFound("cycle", err)
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				printAssessment(a)
				return nil
			})
		},
	}
	return cmd
}

func krMarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark <cycle-id> <index> <achieved%>",
		Short: "Record how much of a key result was achieved (0-100)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			achieved, err := strconv.Atoi(strings.TrimSuffix(args[2], "%"))
			if err != nil {
				return fmt.Errorf("invalid achieved value %q", args[2])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.MarkKeyResult(ctx, args[0], index, achieved, actorID())
				if err != nil {
					return notFound("cycle", err)
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				printAssessment(a)
				return nil
			})
		},
	}
	return cmd
}

func cycleReviewCmd() *cobra.Command {
	var verdict, comment string
	cmd := &cobra.Command{
		Use:   "review <cycle-id>",
		Short: "Submit the review (the verdict defaults to the suggested one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rv, err := e.SubmitReview(ctx, engine.ReviewOptions{
					CycleID: args[0],
					Verdict: domain.Verdict(strings.ToUpper(verdict)),
					Comment: comment,
					ActorID: actorID(),
				})
				if err != nil {
					return notFound("cycle", err)
				}
				if viper.GetBool("json") {
					return printJSON(rv)
				}
				fmt.Printf("Review recorded: %s (%d%% of key results achieved)\n", verdictCell(rv.Verdict), rv.AchievementRate)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "VALIDATED or NOT_VALIDATED")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func cycleOutcomeCmd() *cobra.Command {
	var decision, notes, issueURL string
	cmd := &cobra.Command{
		Use:   "outcome <cycle-id>",
		Short: "Record the decision taken after the review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.RecordOutcome(ctx, engine.OutcomeOptions{
					CycleID:  args[0],
					Decision: domain.Decision(strings.ToUpper(decision)),
					Notes:    notes,
					IssueURL: issueURL,
					ActorID:  actorID(),
				})
				if err != nil {
					return notFound("cycle", err)
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "PROCEED, ITERATE or STOP")
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	cmd.Flags().StringVar(&issueURL, "issue-url", "", "follow-up issue URL")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}
