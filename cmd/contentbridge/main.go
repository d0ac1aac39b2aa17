// Package main is the entry point for the GitHub Content Bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CageChen/contentbridge/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configPath string
	port       int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "contentbridge",
	Short: "View, edit and delete files of a GitHub repository from a web form",
	Long: `contentbridge serves a small web form and proxies it to the GitHub
contents API, so a single file can be loaded, edited and deleted without a
local clone.

Run without a subcommand to start the server. The token is read from the
environment (GITHUB_TOKEN by default) or a token file on every write.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.config/contentbridge/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "Server port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	addServeFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Lookup("open") != nil && flags.Changed("open") {
		cfg.Open = openBrowserFlag
	}
	if flags.Lookup("api-url") != nil && flags.Changed("api-url") {
		cfg.APIURL = apiURL
	}
	if flags.Lookup("no-metrics") != nil && flags.Changed("no-metrics") {
		cfg.Metrics = !noMetrics
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
