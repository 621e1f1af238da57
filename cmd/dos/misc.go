package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"decisionos/internal/config"
	"decisionos/internal/engine"
	"decisionos/internal/okr"
	"decisionos/internal/repo"
	"decisionos/internal/seed"
	"decisionos/internal/templates"
)

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}

// parseMarks reads "index=achieved" pairs.
func parseMarks(raw []string) (map[int]int, error) {
	marks := map[int]int{}
	for _, m := range raw {
		idx, val, ok := strings.Cut(m, "=")
		if !ok {
			return nil, fmt.Errorf("invalid mark %q, want index=achieved", m)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("invalid mark index %q", idx)
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(val), "%"))
		if err != nil || v < 0 || v > 100 {
			return nil, fmt.Errorf("invalid mark value %q, want 0-100", val)
		}
		marks[i] = v
	}
	return marks, nil
}

func parseCmd() *cobra.Command {
	var file string
	var rawMarks []string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse success criteria into key results (reads stdin without --file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText("", file)
			if err != nil {
				return err
			}
			if file == "" {
				data, err := readAllStdin()
				if err != nil {
					return err
				}
				text = string(data)
			}
			marks, err := parseMarks(rawMarks)
			if err != nil {
				return err
			}
			a := okr.Assess(text, marks)
			if viper.GetBool("json") {
				return printJSON(a)
			}
			printAssessment(a)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read criteria from a file")
	cmd.Flags().StringArrayVar(&rawMarks, "mark", nil, "mark a key result, e.g. --mark 0=100")
	return cmd
}

func northStarCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "north-star",
		Short: "Show the validated decision rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					ns, err := e.NorthStar(ctx, "")
					if err != nil {
						return err
					}
					return printNorthStar(ns)
				})
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				ns, err := e.NorthStar(ctx, projectID)
				if err != nil {
					return err
				}
				return printNorthStar(ns)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "across every project")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo projects and cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := seed.Load(ctx, e, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seeded %d projects and %d cycles\n", res.Projects, res.Cycles)
				return nil
			})
		},
	}
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List cycle templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := templates.All()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(ts)
			}
			tw := newTable(table.Row{"Name", "Label", "Description"})
			for _, t := range ts {
				tw.AppendRow(table.Row{t.Name, t.Icon + " " + t.Label, t.Description})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				return printEvents(items)
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
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type, e.g. review.submitted")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "project, cycle, actor or api_key")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVar(&all, "all", false, "events of every project")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP API"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyRevokeCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var target, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key; the raw key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, key, err := e.CreateAPIKey(ctx, target, name, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": raw, "api_key": key})
				}
				fmt.Printf("API key %s for %s:\n\n  %s\n\n", key.ID, key.ActorID, raw)
				fmt.Println(secondaryStyle.Render("Store it now; only its hash is kept. Send it as X-Api-Key."))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor the key authenticates as (default: --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return notFound("api key", err)
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func rbacCmd() *cobra.Command {
	rb := &cobra.Command{Use: "rbac", Short: "Project roles"}
	rb.AddCommand(rbacGrantCmd())
	rb.AddCommand(rbacRevokeCmd())
	rb.AddCommand(rbacListCmd())
	rb.AddCommand(rbacBootstrapCmd())
	return rb
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role on the current project (requires project.write)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if err := e.Auth.Require(ctx, nil, projectID, actorID(), config.PermProjectWrite); err != nil {
					return err
				}
				if err := e.GrantRole(ctx, projectID, target, role, actorID()); err != nil {
					return err
				}
				fmt.Printf("Granted %s to %s on %s\n", role, target, projectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke a role on the current project (requires project.write)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if err := e.Auth.Require(ctx, nil, projectID, actorID(), config.PermProjectWrite); err != nil {
					return err
				}
				return inTx(ctx, e.Repo.DB, func(tx *sql.Tx) error {
					return e.Repo.RevokeRole(ctx, tx, projectID, target, role)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role grants on the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				grants, err := e.Repo.ListRoleGrants(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grants)
				}
				tw := newTable(table.Row{"Actor", "Role"})
				for _, g := range grants {
					tw.AppendRow(table.Row{g.ActorID, g.RoleID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Assign a role without RBAC checks (local recovery only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			projectID := projectOverride()
			if projectID == "" {
				return fmt.Errorf("project not specified; use --project or set %s (dos project use <id>)", defaultProjectKey)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := e.Repo
				if _, err := r.GetProject(ctx, projectID); err != nil {
					return notFound("project", err)
				}
				cfg, cfgErr := r.GetProjectConfig(ctx, projectID)
				return inTx(ctx, r.DB, func(tx *sql.Tx) error {
					var def config.RBACRole
					if cfgErr == nil && cfg != nil {
						def = cfg.RBAC.Roles[role]
					}
					if err := r.InsertRole(ctx, tx, role, def.Description); err != nil {
						return err
					}
					for _, perm := range def.Permissions {
						if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
							return err
						}
						if err := r.AddRolePermission(ctx, tx, role, perm); err != nil {
							return err
						}
					}
					if err := r.EnsureActor(ctx, tx, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
						return err
					}
					return r.AssignRole(ctx, tx, projectID, target, role)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func inTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
