package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/engine"
	"github.com/xhad/docrag/server"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// withApp loads the config, builds the components and closes them when fn
// returns. The context is cancelled on SIGINT and SIGTERM.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	config, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func newIndexCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Embed documents in the docs folder that are not indexed yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, runIndex)
		},
	}
}

func runIndex(ctx context.Context, a *app) error {
	color.Blue("\nIndexing %s into %s\n", a.config.Index.DocsPath, a.config.Index.Path)

	var bar *progressbar.ProgressBar
	onProgress := func(ev engine.Event) {
		switch ev.Stage {
		case engine.StageScanning:
			bar = getProgressBar(ev.Total, "📄 Indexing documents...")
		case engine.StageLoading, engine.StageEmbedding:
			if bar != nil {
				bar.Describe(color.BlueString("📄 %s %s", ev.Stage, ev.Doc))
			}
		case engine.StageDone, engine.StageSkipped:
			if bar != nil {
				bar.Set(ev.Current)
			}
		case engine.StagePersisting:
			if bar != nil {
				bar.Finish()
			}
		}
	}

	indexer, err := a.indexer(onProgress)
	if err != nil {
		return err
	}

	res, err := indexer.Index(ctx)
	if bar != nil {
		bar.Exit()
	}
	if err != nil {
		return fmt.Errorf("indexing failed, index left at the last saved state: %w", err)
	}

	fmt.Println()
	color.Green("✓ Indexed %d new documents into %d chunks", res.Indexed, res.Chunks)
	if res.Skipped > 0 {
		color.Yellow("! Skipped %d documents (see log)", res.Skipped)
	}
	color.Cyan("%d documents in the index", len(res.Processed))
	return nil
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Print the passages nearest to a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errNoArgs
			}
			text := strings.Join(args, " ")
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				q, err := a.queryEngine()
				if err != nil {
					return err
				}

				spinner := getSpinner("🔍 Searching documentation...")
				entries, err := q.Query(ctx, text, k)
				spinner.Finish()
				fmt.Print("\r")
				if err != nil {
					return err
				}

				if len(entries) == 0 {
					color.Yellow("No matching passages.")
					return nil
				}
				printEntries(entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", engine.DefaultK, "Number of passages to return")
	return cmd
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed passages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errNoArgs
			}
			text := strings.Join(args, " ")
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				q, err := a.queryEngine()
				if err != nil {
					return err
				}

				spinner := getSpinner("🤖 Generating response...")
				answer, err := q.Ask(ctx, text, k)
				spinner.Finish()
				fmt.Print("\r")
				if err != nil {
					return err
				}

				assistantPrompt := color.New(color.FgCyan).PrintfFunc()
				assistantPrompt("\nAssistant: %s\n", answer.Text)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", engine.DefaultK, "Number of passages to answer from")
	return cmd
}

func printEntries(entries []models.MetadataEntry) {
	header := color.New(color.FgGreen, color.Bold).PrintfFunc()
	for i, e := range entries {
		if e.ID != nil {
			header("\n%d. %s (chunk %d)\n", i+1, e.Doc, *e.ID)
		} else {
			header("\n%d. %s\n", i+1, e.Doc)
		}
		fmt.Println(e.Content)
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve query and ask over a WebSocket at /ws",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				q, err := a.queryEngine()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.config.Server.Addr
				}

				srv, err := server.NewWSServer(server.Config{Addr: addr}, q, a.logger)
				if err != nil {
					return err
				}
				color.Cyan("Listening on %s (ws://%s/ws)", addr, strings.TrimPrefix(addr, ":"))
				return srv.ListenAndServe(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the index holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *app) error {
				stats := a.store.Stats()
				label := color.New(color.FgCyan).SprintFunc()
				fmt.Printf("%s %s\n", label("Index:     "), a.config.Index.Path)
				fmt.Printf("%s %s\n", label("Backend:   "), stats.Kind)
				fmt.Printf("%s %d\n", label("Dimension: "), stats.Dimension)
				fmt.Printf("%s %d\n", label("Documents: "), stats.Documents)
				fmt.Printf("%s %d\n", label("Entries:   "), stats.Entries)
				fmt.Printf("%s %d\n", label("Vectors:   "), stats.Vectors)
				for _, doc := range a.store.ProcessedDocs() {
					fmt.Printf("  - %s\n", doc)
				}
				return nil
			})
		},
	}
}
