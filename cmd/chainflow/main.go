package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"chainflow/internal/config"
)

func main() {
	cfg := config.Load(".env")
	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "chainflow",
		Short:         "Dependency-aware HTTP task scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(*cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite DB path")
	f.StringVar(&cfg.TasksFile, "tasks", cfg.TasksFile, "YAML task file used to seed an empty store")
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of task endpoints (overrides the task file)")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout of each task HTTP call")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this file, rotated")
	f.IntVar(&cfg.LogMaxSizeMB, "log-max-size", cfg.LogMaxSizeMB, "rotate the log file after this many megabytes")

	root.AddCommand(newServeCmd(cfg), newRunCmd(cfg), newTasksCmd(cfg))
	root.Flags().AddFlagSet(serveFlags(cfg))
	return root
}

func setupLogging(cfg config.Config) error {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	log.Logger = log.Output(out)
	return nil
}
