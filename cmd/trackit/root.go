package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/23026475/trackit/internal/api"
	"github.com/23026475/trackit/internal/store"
)

type globalFlags struct {
	envFile string
	dbPath  string
}

func newRootCmd(version string) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:          "trackit",
		Short:        "Personal project management server",
		Long:         "trackit serves the TrackIt REST API: projects, tasks, sprints, notes and attachments for a single user or a small team.",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading TRACKIT_* variables (ignored if missing)")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "path to the SQLite database (default: TRACKIT_DB_PATH or ./data/trackit.db)")

	root.AddCommand(
		newServeCmd(g, version),
		newUserCmd(g),
		newAdminCmd(g),
		newVersionCmd(version),
	)
	return root
}

// loadConfig reads the dotenv file, then TRACKIT_CONFIG and the environment.
func (g *globalFlags) loadConfig() (api.Config, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return api.Config{}, fmt.Errorf("load %s: %w", g.envFile, err)
		}
	}
	cfg, err := api.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	return cfg, nil
}

func (g *globalFlags) openStore() (*store.Store, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

func setupLogging(cfg api.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trackit %s\n", version)
		},
	}
}
