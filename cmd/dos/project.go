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
	"gopkg.in/yaml.v3"

	"decisionos/internal/config"
	"decisionos/internal/db"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConnectGitHubCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, workspaceID, owner, repoName, cfgFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project; the acting actor becomes its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" && strings.TrimSpace(id) == "" {
				return fmt.Errorf("--name or --id required")
			}
			if (owner == "") != (repoName == "") {
				return fmt.Errorf("--github-owner and --github-repo go together")
			}
			opts := engine.ProjectCreateOptions{
				ID:          id,
				Name:        name,
				WorkspaceID: workspaceID,
				ActorID:     actorID(),
			}
			if owner != "" {
				opts.GitHub = &domain.GitHubConnection{Owner: owner, Repo: repoName, Connected: true}
			}
			if cfgFile != "" {
				cfg, err := config.FromFile(cfgFile)
				if err != nil {
					return err
				}
				opts.Config = cfg
				if opts.ID == "" {
					opts.ID = cfg.Project.ID
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (derived from the name when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace grouping (default \"default\")")
	cmd.Flags().StringVar(&owner, "github-owner", "", "GitHub owner")
	cmd.Flags().StringVar(&repoName, "github-repo", "", "GitHub repository")
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML project config to start from")
	return cmd
}

func projectListCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, workspaceID)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				viper.Set("project", args[0])
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return notFound("project", err)
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rename the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("name") {
				return fmt.Errorf("--name required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.UpdateProject(ctx, projectID, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the current project and all of its cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if err := e.DeleteProject(ctx, projectID, actorID()); err != nil {
					return notFound("project", err)
				}
				fmt.Printf("Deleted project %s\n", projectID)
				return nil
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, err := e.Repo.GetProject(ctx, projectID)
				return notFound("project", err)
			})
			if err != nil {
				return err
			}
			path := db.EnvPath(viper.GetString("workspace"))
			if err := setEnvValue(path, defaultProjectKey, projectID); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s\n", defaultProjectKey, projectID, path)
			return nil
		},
	}
	return cmd
}

func projectConnectGitHubCmd() *cobra.Command {
	var owner, repoName string
	cmd := &cobra.Command{
		Use:   "connect-github",
		Short: "Link the current project to a GitHub repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.ConnectGitHub(ctx, projectID, owner, repoName, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "GitHub owner")
	cmd.Flags().StringVar(&repoName, "repo", "", "GitHub repository")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigDefaultCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current project's config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if p := projectOverride(); p == "" {
				viper.Set("project", cfg.Project.ID)
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if cfg.Project.ID != projectID {
					return fmt.Errorf("config is for project %s, not %s", cfg.Project.ID, projectID)
				}
				if err := e.ImportConfig(ctx, projectID, cfg, actorID()); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigDefaultCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default config YAML, a starting point for 'config import'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = projectOverride()
			}
			if id == "" {
				return fmt.Errorf("--id or --project required")
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	return cmd
}

// setEnvValue sets key in the dotenv file at path, keeping the other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}
