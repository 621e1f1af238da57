package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"decisionos/internal/app"
	"decisionos/internal/db"
	"decisionos/internal/engine"
	"decisionos/internal/logging"
	"decisionos/internal/migrate"
	"decisionos/internal/repo"
)

const defaultProjectKey = "DECISIONOS_DEFAULT_PROJECT"

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "dos",
	Short: "Decision OS CLI",
	Long: `Decision OS runs product bets as decision cycles.
- Project: a product area, optionally linked to a GitHub repository.
- Cycle: one bet that moves DRAFTING -> EXECUTING -> REVIEW -> OUTCOME -> CLOSED.
- Hypothesis: the statement plus success criteria, one key result per "- " line. Locking it freezes the bet before execution.
- Evidence: CI runs, previews, reports attached while executing or under review.
- Review: key results are marked achieved; 70% or more fully achieved suggests VALIDATED.
- Outcome: PROCEED, ITERATE or STOP.
- North star: the share of closed cycles that validated their hypothesis.
- Event log: every change, view with 'dos log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose := viper.GetBool("verbose")
		build := logging.New
		if cmd.Name() == "serve" {
			build = logging.ServerLogger
		}
		l, err := build(verbose)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = l
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		logger.Debug("workspace ready", zap.String("workspace", workspace), zap.String("db", db.Path(workspace)))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initConfig runs after flag parsing. The workspace .env never overrides the real environment.
func initConfig() {
	viper.SetEnvPrefix("DECISIONOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	envPath := db.EnvPath(viper.GetString("workspace"))
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: cannot read %s: %v\n", envPath, err)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "skip lifecycle gating")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides the workspace default)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "force", "project", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	_ = viper.BindEnv("default-project", defaultProjectKey)
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(northStarCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string {
	return viper.GetString("actor-id")
}

// projectOverride is --project, else DECISIONOS_PROJECT, else the workspace default.
func projectOverride() string {
	if p := strings.TrimSpace(viper.GetString("project")); p != "" {
		return p
	}
	return strings.TrimSpace(viper.GetString("default-project"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, nil))
}

// withProject resolves the active project and loads its config into the engine.
func withProject(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, cfg, err := app.ResolveProjectAndConfig(ctx, projectOverride(), e.Repo)
		if err != nil {
			return err
		}
		e.Config = cfg
		logger.Debug("project resolved", zap.String("project_id", projectID))
		return fn(ctx, e, projectID)
	})
}

// notFound rewrites repo.ErrNotFound into a message naming what was missing.
func notFound(kind string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s not found", kind)
	}
	return err
}
