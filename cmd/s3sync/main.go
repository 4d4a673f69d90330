package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/s3sync/internal/config"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/openmined/s3sync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "S3SYNC"

func newRootCmd() *cobra.Command {
	v := viper.New()
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:          "s3sync",
		Short:        "Keep a local directory and an S3 bucket in sync",
		Version:      version.Detailed(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			closeLog, err := setupLogging(cmd.ErrOrStderr(), cfg.Verbosity, cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringP("source", "s", "", "Source endpoint, an absolute path or profile:bucket[/path]")
	flags.StringP("destination", "d", "", "Destination endpoint, an absolute path or profile:bucket[/path]")
	flags.StringSlice("include", defaults.Includes, "Paths to include, everything by default")
	flags.StringSlice("exclude", nil, "Paths to exclude, prefixes or glob patterns")
	flags.String("cache-dir", defaults.CacheDir, "Cache directory")
	flags.String("cache-backend", defaults.CacheBackend, "Cache backend: json or sqlite")
	flags.IntP("verbosity", "v", defaults.Verbosity, "Verbosity level: 0 warnings, 1 info, 2 debug")
	flags.Bool("fake", false, "Log operations without executing them")
	flags.Bool("watch", false, "Keep running and apply changes as they happen")
	flags.Duration("rescan-interval", 0, "Time between full rescans in watch mode, 0 disables")
	flags.Duration("watch-interval", defaults.WatchInterval, "Time between event batches in watch mode")
	flags.Duration("retry-delay", defaults.RetryDelay, "Delay before retrying a failed operation")
	flags.Bool("restore", false, "Sync from destination to source")
	flags.Int("metrics-port", 0, "Serve metrics on this port, 0 disables")
	flags.Int64("chunk-size", defaults.ChunkSize, "Fingerprint and multipart upload chunk size")
	flags.Uint64("hashed-bytes-threshold", defaults.HashedBytesThreshold, "Flush the cache every time this many bytes were hashed")
	flags.String("env-file", "", "Load environment variables from this file")
	flags.String("log-file", "", "Also write logs to this file")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (json, yaml or toml)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and flags, in increasing
// order of precedence.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if envFile := cmd.Flag("env-file").Value.String(); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("env file %q: %w", envFile, err)
		}
	}

	if path := cmd.Flag("config").Value.String(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"source":                 "source",
		"destination":            "destination",
		"includes":               "include",
		"excludes":               "exclude",
		"cache_dir":              "cache-dir",
		"cache_backend":          "cache-backend",
		"verbosity":              "verbosity",
		"fake":                   "fake",
		"watch":                  "watch",
		"rescan_interval":        "rescan-interval",
		"watch_interval":         "watch-interval",
		"retry_delay":            "retry-delay",
		"restore":                "restore",
		"metrics_port":           "metrics-port",
		"chunk_size":             "chunk-size",
		"hashed_bytes_threshold": "hashed-bytes-threshold",
		"env_file":               "env-file",
		"log_file":               "log-file",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", flag, err)
		}
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logLevel maps verbosity to a level. Errors and warnings always print.
func logLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func setupLogging(w io.Writer, verbosity int, logFile string) (func(), error) {
	level := logLevel(verbosity)

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	stdoutHandler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})

	if logFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return func() {}, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: level,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	return func() {
		err := errors.Join(logInterceptor.Close(), file.Close())
		if err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}, nil
}
