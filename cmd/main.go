package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgPkg "github.com/xhad/docrag/pkg/config"
)

type rootFlags struct {
	configPath string
	docsPath   string
	indexPath  string
	verbose    bool
}

func main() {
	// A .env file is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "docrag",
		Short: "Incremental document indexing and retrieval over Ollama embeddings",
		Long: `docrag indexes the text, Markdown, PDF and URL-list files of a docs
folder into a local vector index and answers questions from it.

Only documents not indexed before are embedded on each run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&flags.docsPath, "docs", "", "Docs folder (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.indexPath, "index", "", "Index folder (overrides config)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newQueryCmd(flags))
	cmd.AddCommand(newAskCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newStatsCmd(flags))

	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(flags *rootFlags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	// Override config with command line flags if provided
	if flags.docsPath != "" {
		cfg.Index.DocsPath = flags.docsPath
	}
	if flags.indexPath != "" {
		cfg.Index.Path = flags.indexPath
	}

	if verrs := cfg.Validate(); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = v.Error()
		}
		return nil, fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

var errNoArgs = errors.New("a query text is required")
