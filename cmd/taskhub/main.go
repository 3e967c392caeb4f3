package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/config"
	"github.com/stellarlinkco/taskhub/internal/cron"
	"github.com/stellarlinkco/taskhub/internal/gateway"
	"github.com/stellarlinkco/taskhub/internal/seed"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "taskhub",
	Short:         "taskhub - task tracking server with dependency progress",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server with notifications and scheduled maintenance",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskhub status",
	RunE:  runStatus,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an API account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var seedCmd = &cobra.Command{
	Use:   "seed <file-or-dir>",
	Short: "Load YAML fixtures into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute dependency progress of every task",
	RunE:  runRecompute,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List scheduled maintenance jobs",
	RunE:  runJobs,
}

var (
	passwordFlag string
	adminFlag    bool
	forceFlag    bool
)

func init() {
	userAddCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "Password of the new account")
	userAddCmd.Flags().BoolVar(&adminFlag, "admin", false, "Grant access to every space")
	seedCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Load fixtures even when the database already has users")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd, userCmd, seedCmd, recomputeCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

func cronStorePath() string {
	return filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
}

func openStore() (*config.Config, *store.Engine, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.NewEngine(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Auth.Secret == "" {
		return errors.New("JWT secret not set. Run 'taskhub onboard' or set TASKHUB_JWT_SECRET")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.Auth.Secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "%s %s\n", green("Created config:"), cfgPath)
	} else {
		fmt.Fprintf(out, "%s %s\n", yellow("Config already exists:"), cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Fprintf(out, "Data directory ready: %s\n", dataDir)
	fmt.Fprintln(out, bold("\nNext steps:"))
	fmt.Fprintln(out, "  1. Run 'taskhub user add <name> --password <pw> --admin'")
	fmt.Fprintln(out, "  2. Optionally load fixtures with 'taskhub seed <file>'")
	fmt.Fprintln(out, "  3. Run 'taskhub serve'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: %s (%v)\n", red("error"), err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Listen: %s\n", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	if cfg.Auth.Secret != "" {
		fmt.Fprintf(out, "JWT secret: %s\n", green("set"))
	} else {
		fmt.Fprintf(out, "JWT secret: %s\n", red("not set"))
	}
	access, refresh := cfg.Auth.Durations()
	fmt.Fprintf(out, "Token lifetimes: access=%s refresh=%s\n", access, refresh)
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Notify.Telegram.Enabled)
	fmt.Fprintf(out, "Scheduler: enabled=%v retention=%dd\n", cfg.Scheduler.Enabled, cfg.Scheduler.RetentionDays)

	if _, err := os.Stat(cfg.Database.Path); err != nil {
		fmt.Fprintf(out, "Database: %s %s\n", cfg.Database.Path, dim("(not created yet)"))
		return nil
	}
	st, err := store.NewEngine(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(out, "Database: %s (%v)\n", red("error"), err)
		return nil
	}
	defer st.Close()
	empty, err := st.IsEmpty(cmd.Context())
	switch {
	case err != nil:
		fmt.Fprintf(out, "Database: %s (%v)\n", red("error"), err)
	case empty:
		fmt.Fprintf(out, "Database: %s %s\n", cfg.Database.Path, yellow("(no users)"))
	default:
		fmt.Fprintf(out, "Database: %s\n", cfg.Database.Path)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])
	if username == "" {
		return errors.New("username is required")
	}
	if passwordFlag == "" {
		return errors.New("--password is required")
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	hash, err := auth.HashPassword(passwordFlag)
	if err != nil {
		return err
	}
	user, err := st.CreateUser(cmd.Context(), username, hash, adminFlag)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (id %d, admin=%v)\n", green("Created user"), bold(user.Username), user.ID, user.IsAdmin)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	fx, err := seed.Load(args[0])
	if err != nil {
		return err
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if !forceFlag {
		empty, err := st.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			fmt.Fprintln(cmd.OutOrStdout(), yellow("Database already has users; skipping (use --force to load anyway)"))
			return nil
		}
	}

	res, err := seed.Apply(ctx, st, tracker.NewService(st, nil), fx)
	if err != nil {
		return fmt.Errorf("apply fixtures: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("Loaded"), res)
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := tracker.NewService(st, nil).Propagator().Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d tasks\n", green("Recomputed"), n)
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	jobs := cron.NewService(cronStorePath()).ListJobs()
	if len(jobs) == 0 {
		fmt.Fprintln(out, dim("No jobs yet; they are registered when 'taskhub serve' starts."))
		return nil
	}
	for _, job := range jobs {
		when := job.Schedule.Expr
		if job.Schedule.Kind == cron.KindEvery {
			when = fmt.Sprintf("every %ds", job.Schedule.EveryMs/1000)
		}
		state := job.State.LastStatus
		switch state {
		case "":
			state = dim("never run")
		case "ok":
			state = green(state)
		default:
			state = red(state) + " " + job.State.LastError
		}
		enabled := green("on")
		if !job.Enabled {
			enabled = dim("off")
		}
		fmt.Fprintf(out, "%-24s %-4s %-16s runs=%d %s\n", bold(job.Payload.Action), enabled, when, job.State.Runs, state)
	}
	return nil
}
