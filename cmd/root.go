// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/naka-gawa/repo-metrics/internal/config"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

var (
	dbPath  string
	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "repo-metrics",
	Short: "A CLI tool to collect GitHub repository health metrics.",
	Long: `repo-metrics ingests issues, pull requests, reviews, comments, commits,
CI runs and stars of a set of GitHub repositories into a local SQLite database,
and computes daily health metrics from that history.
Run "sync" regularly; each run only fetches what changed since the last one.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "metrics.db", "Path of the SQLite database")
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
}

// env is what every command needs: settings, a logger and the database.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Store
	closer []io.Closer
}

// newEnv loads configuration, builds the run logger and opens the database.
// The caller must call close.
func newEnv(cmd *cobra.Command) (*env, error) {
	e := &env{}

	level := new(slog.LevelVar)
	if verbose {
		level.Set(slog.LevelDebug)
	}
	var w io.Writer = cmd.ErrOrStderr()
	if logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		}
		e.closer = append(e.closer, rotated)
		w = io.MultiWriter(w, rotated)
	}
	e.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).
		With("run_id", xid.New().String(), "command", cmd.Name())

	cfg, err := config.Load(".")
	if err != nil {
		e.close()
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	e.cfg = cfg

	store, err := storage.Open(cmd.Context(), dbPath, e.logger)
	if err != nil {
		e.close()
		return nil, err
	}
	e.store = store
	e.closer = append([]io.Closer{store}, e.closer...)
	return e, nil
}

func (e *env) close() {
	for _, c := range e.closer {
		if err := c.Close(); err != nil && e.logger != nil {
			e.logger.Warn("close failed", "error", err)
		}
	}
}
