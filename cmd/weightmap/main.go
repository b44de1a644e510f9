package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/storage/postgres"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/storage/sqlite"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/config"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/platform"
)

// version is stamped at build time.
var version = "dev"

// program is the runnable surface of a bubbletea program.
type program interface {
	Run() (tea.Model, error)
}

// programFactory builds the board program; tests replace it.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// rootOptions holds persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// storage is the repository surface the CLI opens for either driver.
type storage interface {
	app.Repository
	Ping(context.Context) error
	Close() error
}

// cliRuntime is the resolved config, logger, and service for one command run.
type cliRuntime struct {
	paths  platform.Paths
	cfg    config.Config
	logger *runtimeLogger
	repo   storage
	svc    *app.Service
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// run executes the command tree without fang styling; tests drive the CLI through it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}

// newRootCommand builds the full command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{appName: platform.DefaultAppName, devMode: version == "dev"}
	if envDev, ok := parseBoolEnv("WEIGHTMAP_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("WEIGHTMAP_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:     "weightmap",
		Short:   "Weighted progress roll-up and dependency tracking for project plans",
		Version: version,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newPathsCommand(opts, stdout),
		newServeCommand(opts, stderr),
		newProjectCommand(opts, stdout, stderr),
		newItemCommand(opts, stdout, stderr),
		newReportCommand(opts, stdout, stderr),
		newPlanCommand(opts, stdout, stderr),
		newExportCommand(opts, stdout, stderr),
		newImportCommand(opts, stderr),
		newSnapshotsCommand(opts, stdout, stderr),
		newBoardCommand(opts, stderr),
	)
	return root
}

// newPathsCommand prints resolved config and data locations.
func newPathsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(stdout, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(stdout, "env: %s\n", paths.EnvPath)
			_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(stdout, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(stdout, "snapshots: %s\n", paths.SnapshotDir)
			return nil
		},
	}
}

// resolvePaths resolves per-user paths for the current app and dev mode.
func resolvePaths(opts *rootOptions) (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
}

// openRuntime resolves config, opens storage, and builds the service for one command.
func openRuntime(ctx context.Context, opts *rootOptions, stderr io.Writer, command string) (*cliRuntime, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(paths.EnvPath); statErr == nil {
		if err := godotenv.Load(paths.EnvPath); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", paths.EnvPath, err)
		}
	}

	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("WEIGHTMAP_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(opts.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("WEIGHTMAP_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}
	if dsn := strings.TrimSpace(os.Getenv("WEIGHTMAP_PG_DSN")); dsn != "" && !dbOverridden {
		cfg.Database.Driver = config.DriverPostgres
		cfg.Database.DSN = dsn
	}

	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", dbPath)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}

	repo, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		DefaultDeleteMode:  app.DeleteMode(cfg.Delete.DefaultMode),
		DefaultWeight:      cfg.Progress.DefaultWeight,
		WorkspaceCacheSize: cfg.Cache.Workspaces,
		Logger:             logger.Component("service"),
	})
	logger.Debug("application service initialized", "default_delete_mode", cfg.Delete.DefaultMode, "default_weight", cfg.Progress.DefaultWeight)

	return &cliRuntime{
		paths:  paths,
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		svc:    svc,
	}, nil
}

// openStorage opens the configured repository driver.
func openStorage(ctx context.Context, db config.DatabaseConfig, logger *runtimeLogger) (storage, error) {
	switch db.Driver {
	case config.DriverPostgres:
		logger.Debug("opening postgres repository")
		repo, err := postgres.Open(ctx, db.DSN)
		if err != nil {
			logger.Error("postgres open failed", "err", err)
			return nil, fmt.Errorf("open postgres repository: %w", err)
		}
		return repo, nil
	default:
		logger.Debug("opening sqlite repository", "db_path", db.Path)
		repo, err := sqlite.Open(db.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", db.Path, "err", err)
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return repo, nil
	}
}

// Close releases storage and log sinks.
func (r *cliRuntime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.repo != nil {
		if err := r.repo.Close(); err != nil {
			r.logger.Warn("repository close failed", "err", err)
			errs = append(errs, err)
		}
	}
	if err := r.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withRuntime opens a runtime, runs fn, and always closes the runtime.
func withRuntime(cmd *cobra.Command, opts *rootOptions, stderr io.Writer, fn func(context.Context, *cliRuntime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, opts, stderr, cmd.CommandPath())
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	rt.logger.Debug("command flow start", "command", cmd.CommandPath())
	if err := fn(ctx, rt); err != nil {
		rt.logger.Error("command flow failed", "command", cmd.CommandPath(), "err", err)
		return err
	}
	rt.logger.Debug("command flow complete", "command", cmd.CommandPath())
	return nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
