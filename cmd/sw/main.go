package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"skywatch/internal/alerts"
	"skywatch/internal/app"
	"skywatch/internal/config"
	"skywatch/internal/db"
	"skywatch/internal/domain"
	"skywatch/internal/feeds"
	"skywatch/internal/identity"
	"skywatch/internal/missions"
	"skywatch/internal/refresh"
	"skywatch/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Skywatch CLI",
	Long: `Skywatch turns live space data into prioritized alerts and training missions.
- Workspace: your .skywatch directory holding the device store and database.
- Alerts: upcoming launches, sky events, and solar activity, sorted by start time,
  severity-weighted priority, then id.
- Missions: small timed exercises derived from alerts; answers are graded locally.
- Identity: anonymous by default with a persisted device id; a bearer token switches
  you to a signed-in user whose progress lives in the database.
- Feeds: cached with TTLs and refreshed on a schedule while 'sw serve' runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SKYWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "act as this signed-in user id")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(attemptCmd())
	rootCmd.AddCommand(savedCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// withApp opens the workspace, installs the --user session if given, and
// tears everything down when fn returns.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	return withAppOptions(ctx, app.Options{}, fn)
}

func withAppOptions(ctx context.Context, opts app.Options, fn func(context.Context, *app.App) error) error {
	opts.Workspace = viper.GetString("workspace")
	opts.Log = newLogger()
	a, err := app.Open(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if user := viper.GetString("user"); user != "" {
		a.Identity.SetSession(&identity.Session{UserID: user})
	}
	return fn(ctx, a)
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alerts", Short: "Work with alerts"}
	cmd.AddCommand(alertsListCmd())
	cmd.AddCommand(alertsRefreshCmd())
	return cmd
}

func alertsListCmd() *cobra.Command {
	var minSeverity, muted string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prioritized alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Alerts.Generate(ctx, alerts.Sources{})
				if err != nil {
					return err
				}
				mutedTypes := make([]domain.AlertType, 0, len(a.Config.Alerts.MutedTypes))
				for _, t := range a.Config.Alerts.MutedTypes {
					mutedTypes = append(mutedTypes, domain.AlertType(t))
				}
				if muted != "" {
					mutedTypes = mutedTypes[:0]
					for _, t := range strings.Split(muted, ",") {
						if t = strings.TrimSpace(t); t != "" {
							mutedTypes = append(mutedTypes, domain.AlertType(t))
						}
					}
				}
				min := domain.Severity(a.Config.Alerts.MinSeverity)
				if minSeverity != "" {
					min = domain.Severity(minSeverity)
				}
				list = alerts.FilterByPreference(list, mutedTypes, min)
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Severity", "Priority", "Start", "Mission", "Title"})
				for _, al := range list {
					start := ""
					if al.StartTime != nil {
						start = *al.StartTime
					}
					mission := ""
					if al.MissionAvailable {
						mission = "yes"
					}
					tw.AppendRow(table.Row{al.ID, al.Type, al.Severity, al.Priority, start, mission, al.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "drop alerts below this severity (info|medium|high)")
	cmd.Flags().StringVar(&muted, "muted", "", "comma-separated alert types to drop")
	return cmd
}

func alertsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Invalidate feed caches and refetch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Feeds.Refresh(ctx); err != nil {
					return err
				}
				fmt.Println("feeds refreshed")
				return nil
			})
		},
	}
}

func missionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mission", Short: "Derive and play missions"}
	cmd.AddCommand(missionBriefCmd())
	cmd.AddCommand(missionGradeCmd())
	cmd.AddCommand(missionSubmitCmd())
	cmd.AddCommand(missionCompletedCmd())
	return cmd
}

// findAlert generates the current alert list and picks one by id.
func findAlert(ctx context.Context, a *app.App, alertID string) (domain.Alert, error) {
	list, err := a.Alerts.Generate(ctx, alerts.Sources{})
	if err != nil {
		return domain.Alert{}, err
	}
	for _, al := range list {
		if al.ID == alertID {
			return al, nil
		}
	}
	return domain.Alert{}, fmt.Errorf("alert %q not found", alertID)
}

func missionBriefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brief <alert-id>",
		Short: "Show the mission derived from an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				al, err := findAlert(ctx, a, args[0])
				if err != nil {
					return err
				}
				m := a.Missions.Convert(al)
				if m == nil {
					return fmt.Errorf("no mission for alert type %q", al.Type)
				}
				return printJSON(m)
			})
		},
	}
	return cmd
}

func missionGradeCmd() *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "grade <alert-id>",
		Short: "Grade answers for an alert's mission without recording an attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				al, err := findAlert(ctx, a, args[0])
				if err != nil {
					return err
				}
				m := a.Missions.Convert(al)
				if m == nil {
					return fmt.Errorf("no mission for alert type %q", al.Type)
				}
				verdict := missions.Grade(*m, parsed)
				if viper.GetBool("json") {
					return printJSON(verdict)
				}
				result := "fail"
				if verdict.Pass {
					result = "pass"
				}
				fmt.Printf("%s: %s\n", result, verdict.Feedback)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer as key=value, repeatable")
	return cmd
}

func missionSubmitCmd() *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "submit <alert-id>",
		Short: "Grade answers for an alert's mission and record the attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				al, err := findAlert(ctx, a, args[0])
				if err != nil {
					return err
				}
				m := a.Missions.Convert(al)
				if m == nil {
					return fmt.Errorf("no mission for alert type %q", al.Type)
				}
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				verdict := missions.Grade(*m, parsed)
				result := "fail"
				if verdict.Pass {
					result = "pass"
				}
				attempt := domain.MissionAttempt{
					ID:          fmt.Sprintf("attempt-%d", time.Now().UnixMilli()),
					MissionID:   m.ID,
					ActorID:     set.Actor.ActorID,
					Answers:     parsed,
					SubmittedAt: time.Now().UTC().Format(time.RFC3339),
					Result:      result,
					Feedback:    verdict.Feedback,
				}
				if err := set.Missions.SaveAttempt(ctx, attempt); err != nil {
					return err
				}
				if verdict.Pass {
					if err := set.Missions.MarkCompleted(ctx, m.ID); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"attempt": attempt, "verdict": verdict})
				}
				fmt.Printf("%s: %s\n", result, verdict.Feedback)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer as key=value, repeatable")
	return cmd
}

func missionCompletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completed",
		Short: "List completed mission ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				ids, err := set.Missions.ListCompleted(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	}
}

func attemptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "attempt", Short: "Inspect recorded attempts"}
	cmd.AddCommand(attemptListCmd())
	return cmd
}

func attemptListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				items, err := set.Missions.ListAttempts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Mission", "Result", "Submitted", "Feedback"})
				for _, at := range items {
					tw.AppendRow(table.Row{at.ID, at.MissionID, at.Result, at.SubmittedAt, at.Feedback})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum attempts to show, 0 for all")
	return cmd
}

func savedCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "saved", Short: "Manage saved items"}
	cmd.AddCommand(savedListCmd())
	cmd.AddCommand(savedAddCmd())
	cmd.AddCommand(savedRemoveCmd())
	return cmd
}

func savedListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <category>",
		Short: "List saved items in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				items, err := set.SavedItems.List(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "URL", "Saved"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.URL, it.SavedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func savedAddCmd() *cobra.Command {
	var title, url string
	cmd := &cobra.Command{
		Use:   "add <category> <item-id>",
		Short: "Save an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				item := domain.SavedItem{
					ID:      args[1],
					Title:   title,
					URL:     url,
					SavedAt: time.Now().UTC().Format(time.RFC3339),
				}
				return set.SavedItems.Save(ctx, args[0], item)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&url, "url", "", "item link")
	return cmd
}

func savedRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <category> <item-id>",
		Short: "Remove a saved item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				return set.SavedItems.Remove(ctx, args[0], args[1])
			})
		},
	}
}

func prefsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "prefs", Short: "Manage preferences"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				prefs, err := set.Preferences.All(ctx)
				if err != nil {
					return err
				}
				return printJSON(prefs)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get one preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				v, err := set.Preferences.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				set, err := a.Repos(ctx)
				if err != nil {
					return err
				}
				return set.Preferences.Set(ctx, args[0], args[1])
			})
		},
	})
	return cmd
}

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "device", Short: "Manage the anonymous device identity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "id",
		Short: "Print the device actor id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd.Context(), app.Options{SkipDB: true}, func(ctx context.Context, a *app.App) error {
				actor, err := a.Identity.Resolve(ctx)
				if err != nil {
					return err
				}
				fmt.Println(actor.ActorID)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Discard the device id; the next call mints a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd.Context(), app.Options{SkipDB: true}, func(ctx context.Context, a *app.App) error {
				return a.Identity.ResetAnonymous(ctx)
			})
		},
	})
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Manage the feed cache"}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached feed data without refetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd.Context(), app.Options{SkipDB: true}, func(ctx context.Context, a *app.App) error {
				a.Cache.ClearPrefix(ctx, feeds.CachePrefix)
				fmt.Println("feed cache cleared")
				return nil
			})
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default skywatch.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = os.Getenv("SKYWATCH_JWT_SECRET")
				}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				if a.Config.Refresh.Enabled {
					runner := refresh.New(a.Feeds, a.Config.Refresh.Schedule, a.Log)
					if err := runner.Start(ctx); err != nil {
						return err
					}
					defer runner.Stop()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Skywatch API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func parseAnswers(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid answer %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
