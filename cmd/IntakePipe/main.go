package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/config"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/safety"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/script"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// logLevel is shared by the handler so the configured level applies after startup.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	cfg, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Parse command line flags
	flags, err := parseCommandLineFlags(cfg, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if err := applyLogLevel(*flags.logLevel); err != nil {
		slog.Error("Invalid log level", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe")
	if err := run(ctx, flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	moderationModel *string
	apiAddr         *string
	scriptFile      *string
	sweepSchedule   *string
	logLevel        *string
	sessionTimeout  *time.Duration
	maxSessionAge   *time.Duration
	safetyTimeout   *time.Duration
}

// initializeLogger sets up structured logging; the level is adjusted once
// configuration is loaded.
func initializeLogger() {
	logLevel.Set(slog.LevelInfo)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func applyLogLevel(name string) error {
	level, err := config.ParseLevel(name)
	if err != nil {
		return err
	}
	logLevel.Set(level)
	slog.Debug("log level set", "level", level)
	return nil
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg config.Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("intakepipe", flag.ContinueOnError)
	flags := Flags{
		stateDir:        fs.String("state-dir", cfg.StateDir, "state directory for IntakePipe data (overrides $INTAKEPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", cfg.DBDSN, "session store DSN: empty for memory, \"sqlite\" for the state directory, a file path, or a postgres URL (overrides $INTAKEPIPE_DB_DSN or $DATABASE_URL)"),
		openaiKey:       fs.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key enabling the moderation validator (overrides $OPENAI_API_KEY)"),
		moderationModel: fs.String("moderation-model", cfg.ModerationModel, "OpenAI moderation model (overrides $INTAKEPIPE_MODERATION_MODEL)"),
		apiAddr:         fs.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		scriptFile:      fs.String("script", cfg.ScriptFile, "YAML intake script replacing the built-in one (overrides $INTAKEPIPE_SCRIPT_FILE)"),
		sweepSchedule:   fs.String("sweep-schedule", cfg.SweepSchedule, "cron schedule for purging expired sessions (overrides $INTAKEPIPE_SWEEP_SCHEDULE)"),
		logLevel:        fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $INTAKEPIPE_LOG_LEVEL)"),
		sessionTimeout:  fs.Duration("session-timeout", cfg.SessionTimeout, "inactivity timeout (overrides $INTAKEPIPE_SESSION_TIMEOUT)"),
		maxSessionAge:   fs.Duration("max-session-age", cfg.MaxSessionAge, "maximum session age for time-bounded stages (overrides $INTAKEPIPE_MAX_SESSION_AGE)"),
		safetyTimeout:   fs.Duration("safety-timeout", cfg.SafetyTimeout, "per-call safety validator timeout (overrides $INTAKEPIPE_SAFETY_TIMEOUT)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	for name, d := range map[string]time.Duration{
		"session-timeout": *flags.sessionTimeout,
		"max-session-age": *flags.maxSessionAge,
		"safety-timeout":  *flags.safetyTimeout,
	} {
		if d <= 0 {
			return Flags{}, fmt.Errorf("-%s must be positive, got %s", name, d)
		}
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"scriptFile", *flags.scriptFile,
		"sweepSchedule", *flags.sweepSchedule)
	return flags, nil
}

// resolveDSN expands the sqlite shorthand into a file in the state directory.
func resolveDSN(flags Flags) string {
	dsn := *flags.dbDSN
	if dsn == config.SQLiteShorthand {
		dsn = filepath.Join(*flags.stateDir, config.DefaultDBFileName)
		slog.Debug("Using SQLite in the state directory", "sqlite_path", dsn)
	}
	return dsn
}

// isFileDSN reports whether dsn addresses a SQLite file.
func isFileDSN(dsn string) bool {
	return dsn != "" && store.DetectDSNType(dsn) == store.DSNTypeSQLite
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(dsn string) error {
	if !isFileDSN(dsn) {
		return nil
	}
	dir := filepath.Dir(dsn)
	slog.Debug("Creating directory for file-based database", "dir", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(dsn string) []store.Option {
	var storeOpts []store.Option
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// openStore opens the session store selected by dsn.
func openStore(dsn string) (store.Store, error) {
	opts := buildStoreOptions(dsn)
	switch {
	case dsn == "":
		return store.NewInMemoryStore(opts...), nil
	case store.DetectDSNType(dsn) == store.DSNTypePostgres:
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// buildValidator chains the keyword validator with OpenAI moderation when a key is set.
func buildValidator(flags Flags) (safety.Validator, error) {
	keyword := safety.NewKeywordValidator()
	if *flags.openaiKey == "" {
		slog.Info("No OpenAI API key set, using keyword safety validator only")
		return keyword, nil
	}
	moderation, err := safety.NewOpenAIValidator(*flags.openaiKey, safety.WithModerationModel(*flags.moderationModel))
	if err != nil {
		return nil, err
	}
	slog.Info("Safety validator chain configured", "moderation_model", *flags.moderationModel)
	return safety.Chain{keyword, moderation}, nil
}

// loadScript returns the configured script, or the built-in one.
func loadScript(flags Flags) (*script.Repository, error) {
	if *flags.scriptFile == "" {
		return script.Default()
	}
	slog.Info("Loading intake script", "path", *flags.scriptFile)
	return script.LoadFile(*flags.scriptFile)
}

// buildFlowOptions constructs orchestrator configuration options
func buildFlowOptions(flags Flags) []flow.Option {
	return []flow.Option{
		flow.WithSessionTimeout(*flags.sessionTimeout),
		flow.WithMaxSessionAge(*flags.maxSessionAge),
		flow.WithSafetyTimeout(*flags.safetyTimeout),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// run wires the modules together and serves until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	repo, err := loadScript(flags)
	if err != nil {
		return fmt.Errorf("failed to load intake script: %w", err)
	}

	dsn := resolveDSN(flags)
	if err := ensureDirectoriesExist(dsn); err != nil {
		return err
	}
	if isFileDSN(dsn) {
		lock, err := lockfile.AcquireLock(filepath.Dir(dsn), dsn)
		if err != nil {
			var lockErr *lockfile.LockError
			if errors.As(err, &lockErr) {
				return fmt.Errorf("refusing to start: %w", lockErr)
			}
			return err
		}
		defer lock.Release()
	}

	st, err := openStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close session store", "error", err)
		}
	}()

	validator, err := buildValidator(flags)
	if err != nil {
		return fmt.Errorf("failed to configure safety validator: %w", err)
	}

	if purger, ok := st.(store.Purger); ok {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := scheduler.NewSweeper(purger).Schedule(sched, *flags.sweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule: %w", err)
		}
	}

	orch := flow.NewOrchestrator(repo, st, validator, nil, buildFlowOptions(flags)...)
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", dsn != "", "api_addr", *flags.apiAddr)
	return api.Run(ctx, orch, buildAPIOptions(flags)...)
}
