// Package main is the entry point for the engramd CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/cron"
	"github.com/engramd/engramd/internal/mcpserver"
	"github.com/engramd/engramd/internal/security"

	// Compiled-in modules register themselves with the core registry.
	_ "github.com/engramd/engramd/internal/gateway"
	_ "github.com/engramd/engramd/modules/memory/chromem"
	_ "github.com/engramd/engramd/modules/memory/engine"
	_ "github.com/engramd/engramd/modules/memory/sqlite"
	_ "github.com/engramd/engramd/modules/provider/anthropic"
	_ "github.com/engramd/engramd/modules/provider/openai"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engramd",
		Short:         "A self-hosted long-term memory engine for AI assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), mcpCmd(), sweepCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("engramd %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start engramd with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := buildApp(cmd)
			if err != nil {
				return err
			}
			return app.Run()
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// mcpCmd runs the full module stack but serves MCP tools on stdio in the
// foreground instead of waiting for signals. Logs go to stderr; stdout is
// the MCP transport.
func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, appCtx, err := buildApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Start(); err != nil {
				return err
			}
			defer app.Stop()

			svc, ok := appCtx.Service("memory.engine")
			if !ok {
				return fmt.Errorf("memory.engine module is not configured")
			}
			eng, ok := svc.(mcpserver.Engine)
			if !ok {
				return fmt.Errorf("service memory.engine has unexpected type %T", svc)
			}

			return mcpserver.New(eng, appCtx.Logger, version).ServeStdio()
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// sweepCmd runs one consolidation + cleanup pass and exits. The same sweep
// runs nightly under maintenance.cron; this is the on-demand variant.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one consolidation and cleanup pass, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")

			app, appCtx, err := buildApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Start(); err != nil {
				return err
			}
			defer app.Stop()

			svc, ok := appCtx.Service("memory.engine")
			if !ok {
				return fmt.Errorf("memory.engine module is not configured")
			}
			eng, ok := svc.(cron.Maintainer)
			if !ok {
				return fmt.Errorf("service memory.engine has unexpected type %T", svc)
			}

			owners := []string{user}
			if user == "" {
				storeSvc, ok := appCtx.Service("memory.store")
				if !ok {
					return fmt.Errorf("memory store is not configured")
				}
				source, ok := storeSvc.(cron.OwnerSource)
				if !ok {
					return fmt.Errorf("configured store cannot enumerate owners")
				}
				owners, err = source.Owners(cmd.Context())
				if err != nil {
					return err
				}
			}

			var merges, evicted int
			for _, owner := range owners {
				results, err := eng.Consolidate(cmd.Context(), owner, "")
				if err != nil {
					return fmt.Errorf("consolidating %s: %w", owner, err)
				}
				merges += len(results)

				cleaned, err := eng.Cleanup(cmd.Context(), owner)
				if err != nil {
					return fmt.Errorf("cleaning up %s: %w", owner, err)
				}
				evicted += cleaned.Deleted()
			}

			fmt.Printf("Swept %d user(s): %d merge(s), %d eviction(s)\n", len(owners), merges, evicted)
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().StringP("user", "u", "", "Sweep a single user (default: all)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			appCtx := core.NewAppContext(newLogger(), defaultDataDir())
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			app := core.NewApp(appCtx)
			ids := config.Resolve(cfg)
			if err := app.LoadModules(ids); err != nil {
				return err
			}
			defer app.Stop()

			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

// buildApp loads the config referenced by the command's --config flag (or
// the standard search path) and provisions all configured modules.
func buildApp(cmd *cobra.Command) (*core.App, *core.AppContext, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}

	appCtx := core.NewAppContext(newLogger(), defaultDataDir())
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	app := core.NewApp(appCtx)
	if err := app.LoadModules(config.Resolve(cfg)); err != nil {
		return nil, nil, err
	}
	return app, appCtx, nil
}

// newLogger writes to stderr with API-key redaction at the handler level.
func newLogger() *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(security.NewRedactingHandler(inner, security.NewRedactor()))
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/engramd/engramd.yaml → ./engramd.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "engramd", "engramd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "engramd", "engramd.yaml"))
	}

	candidates = append(candidates, "engramd.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func defaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "engramd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "engramd")
}
