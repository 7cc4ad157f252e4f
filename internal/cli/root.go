// Package cli implements the docrag command line: synchronous ingestion and
// one-shot retrieval, answering and routing against the configured store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docrag/internal/app"
	"github.com/dgallion1/docrag/internal/config"
	"github.com/dgallion1/docrag/internal/router"
)

var (
	verbose bool
	backend string
	cfg     config.Config
	logger  *slog.Logger

	// newApp is replaced in tests.
	newApp = app.New
)

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Ingest governance documents and answer questions from them",
	Long: `docrag chunks and embeds documents into a vector store and retrieves
cited passages for questions.

Configuration comes from the environment (and .env), as for the server.
The memory backend does not persist between invocations.

Example usage:
  docrag ingest --category Resolutions r-2024-*.pdf
  docrag retrieve "who approves the budget"
  docrag ask "how are bylaws amended"
  docrag route "press release on federal legislation"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "vector backend override (postgres|supabase|memory)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(categoriesCmd)
}

func initConfig() error {
	cfg = config.Load()
	if backend != "" {
		cfg.VectorBackend = strings.ToLower(backend)
	}
	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func openApp(ctx context.Context) (*app.App, error) {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

// resolveFolders canonicalizes --folder values, or routes the query when
// none were given.
func resolveFolders(ctx context.Context, a *app.App, query string, raw []string) ([]string, *router.Decision, error) {
	if len(raw) == 0 {
		d := a.Router.Route(ctx, query)
		return d.Folders, &d, nil
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		name, err := router.NormalizeCategory(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q", err, f)
		}
		out = append(out, name)
	}
	return out, nil, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
