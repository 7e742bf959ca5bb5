// Command liveblog serves liveblog feeds and follows live pages.
//
// Usage:
//
//	liveblog serve --config liveblog.yaml        # feed API, editor API, MCP
//	liveblog follow https://news.example/match   # print entries as they land
//	liveblog append --db liveblog.db --post 1 "Kick-off"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/liveblog/feedserver"
	"github.com/hazyhaar/liveblog/liveview"
)

var version = "dev"

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

// fileConfig is the on-disk config: one section per side.
type fileConfig struct {
	Server feedserver.Config `yaml:"server"`
	Reader liveview.Config   `yaml:"reader"`
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "liveblog:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "liveblog",
		Short:         "Liveblog feed server and live reader",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to liveblog.yaml")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newFollowCommand(opts))
	cmd.AddCommand(newAppendCommand(opts))
	return cmd
}

func (o *rootOptions) logger() *slog.Logger {
	var level slog.Level
	switch o.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads --config, or returns an empty config when unset.
func (o *rootOptions) loadConfig() (*fileConfig, error) {
	cfg := &fileConfig{}
	if o.ConfigPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", o.ConfigPath, err)
	}
	return cfg, nil
}
