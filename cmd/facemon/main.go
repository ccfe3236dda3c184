// Package main is the CLI entry point for facemon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/face_mon/internal/config"
	"github.com/eliteGoblin/focusd/face_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "facemon",
	Short: "Face presence monitor - locks the screen when you walk away",
	Long: `facemon watches the webcam and compares the face in front of it with
a stored reference of the authorized user. After three consecutive checks
without a match it locks the session. While the user is recognized it keeps
the screen from idling.

The reference is captured automatically on first run and refreshed at startup.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start monitoring",
	Long: `Runs monitoring sessions until interrupted. Each session loads (or captures)
the reference, monitors until the session is locked, applies the cooldown
after repeated locks, then starts over. Use --once for a single session.`,
	RunE: runMonitor,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture a new reference now",
	Long:  `Captures three images of the user in front of the camera and replaces the stored reference.`,
	RunE:  runEnroll,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitor status",
	Long:  `Shows whether a monitor is running, the stored reference and recent locks.`,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	envFile    string
	once       bool
	dryRun     bool
	jsonOutput bool
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (.toml, .yaml); defaults to <data_dir>/config.toml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with FACEMON_* settings")
	runCmd.Flags().BoolVar(&once, "once", false, "Run a single monitoring session and exit")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log lock and idle actions instead of performing them")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads the dotenv file so FACEMON_* overrides can live there.
// Variables already set in the environment win.
func initConfig() {
	if envFile == "" {
		return
	}
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", envFile, err)
	}
}

func runMonitor(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()
	defer recoverPanic(logger, &err)

	ctx, stop := signalContext(logger)
	defer stop()

	release, err := acquireInstance(infra.NewInstanceGuard(cfg.DataDir), dryRun, logger)
	if err != nil {
		return err
	}
	defer release()

	a := buildApp(cfg, logger, dryRun)
	defer a.Close()

	if err := a.store.Prepare(); err != nil {
		logger.Error("reference directory unusable", zap.Error(err))
		return err
	}

	go a.poller.Run(ctx)
	if cfg.Reference.Watch {
		go func() {
			if err := a.store.Watch(ctx); err != nil {
				logger.Warn("reference watch stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("facemon started",
		zap.String("version", Version),
		zap.Int("pid", os.Getpid()),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("once", once))

	sup := daemon.NewSupervisor(daemon.SupervisorConfig{
		RestartDelay: cfg.Session.RestartDelay,
		Once:         once,
	}, a.monitor, nil, logger)
	if err := sup.Run(ctx); err != nil {
		return err
	}
	logger.Info("facemon stopped", zap.Int("sessions", sup.Sessions()), zap.Int("locks", sup.Locks()))
	return nil
}

func runEnroll(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()
	defer recoverPanic(logger, &err)

	ctx, stop := signalContext(logger)
	defer stop()

	// The camera and the reference directory belong to a running monitor.
	release, err := acquireInstance(infra.NewInstanceGuard(cfg.DataDir), true, logger)
	if err != nil {
		return err
	}
	defer release()

	a := buildApp(cfg, logger, true)
	defer a.Close()

	fmt.Printf("Look at the camera. Capturing %d images %s apart...\n", 3, cfg.Reference.CaptureInterval)
	id, err := a.monitor.Enroll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Reference stored in %s (generation %d)\n", a.store.Dir(), id.Generation)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("\n=== facemon Status ===")

	guard := infra.NewInstanceGuard(cfg.DataDir)
	if info, alive := guard.Running(); alive {
		mode := ""
		if info.DryRun {
			mode = " [dry-run]"
		}
		fmt.Printf("Status: RUNNING (pid %d, since %s, version %s)%s\n",
			info.PID, info.StartedAt.Format(time.RFC3339), info.Version, mode)
	} else {
		fmt.Println("Status: NOT RUNNING")
	}
	fmt.Printf("Data dir: %s\n", cfg.DataDir)

	store := infra.NewFileReferenceStore(cfg.ReferenceDir(), nil, nil, 0, zap.NewNop())
	fmt.Printf("\nReference: %s\n", store.Dir())
	manifest, err := store.Manifest()
	switch {
	case err == nil:
		fmt.Printf("  Generation: %d\n", manifest.Generation)
		fmt.Printf("  Captured:   %s (%s ago)\n",
			manifest.CreatedAt.Format(time.RFC3339), time.Since(manifest.CreatedAt).Round(time.Second))
	case errors.Is(err, os.ErrNotExist):
		fmt.Println("  Not enrolled (captured automatically on next run)")
	default:
		fmt.Printf("  Unreadable manifest: %v\n", err)
	}

	fmt.Println("\nRecent locks:")
	if _, err := os.Stat(filepath.Join(cfg.DataDir, infra.HistoryDBName)); err != nil {
		fmt.Println("  none")
	} else if h, err := infra.OpenLockHistory(cfg.DataDir); err != nil {
		fmt.Printf("  unavailable: %v\n", err)
	} else {
		defer h.Close()
		events, err := h.Recent(cfg.Cooldown.MaxLocks * 2)
		if err != nil {
			fmt.Printf("  unavailable: %v\n", err)
		}
		if len(events) == 0 && err == nil {
			fmt.Println("  none")
		}
		for _, e := range events {
			fmt.Printf("  - %s  %s (%d mismatches)\n", e.LockedAt.Local().Format(time.RFC3339), e.Reason, e.Mismatches)
		}
	}

	fmt.Println("======================")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("facemon %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}

// acquireInstance claims the data directory for this process and returns
// the function that gives it back.
func acquireInstance(guard *infra.InstanceGuard, dryRun bool, logger *zap.Logger) (func(), error) {
	pid := os.Getpid()
	if err := guard.Acquire(infra.InstanceInfo{
		PID:       pid,
		StartedAt: time.Now(),
		Version:   Version,
		DryRun:    dryRun,
	}); err != nil {
		return nil, err
	}
	return func() {
		if err := guard.Release(pid); err != nil {
			logger.Warn("failed to remove instance file", zap.Error(err))
		}
	}, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// recoverPanic turns a panic into a logged error so the process exits 1.
func recoverPanic(logger *zap.Logger, err *error) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		*err = fmt.Errorf("panic: %v", r)
	}
}

func createLogger(cfg *config.Config) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level, err := zap.ParseAtomicLevel(cfg.Log.Level); err == nil {
		zcfg.Level = level
	}

	if file := cfg.LogFile(); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0700); err == nil {
			zcfg.OutputPaths = []string{file}
			zcfg.ErrorOutputPaths = []string{file}
		}
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
