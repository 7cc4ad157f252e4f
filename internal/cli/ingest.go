package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docrag/internal/parser"
	"github.com/dgallion1/docrag/internal/pipeline"
	"github.com/dgallion1/docrag/internal/router"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --category <category> <files...>",
	Short: "Parse, chunk, embed and store documents",
	Long: `Run the ingestion pipeline synchronously for each file.

Examples:
  docrag ingest --category Bylaws bylaws.pdf
  docrag ingest --category "Board and Committee Proceedings" minutes/*.docx
  docrag ingest --category Resolutions --doc-id r12 r12-revised.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("category", "", "target category (required)")
	ingestCmd.Flags().String("title", "", "document title (single file only)")
	ingestCmd.Flags().String("doc-id", "", "replace the chunks of this document id (single file only)")
	_ = ingestCmd.MarkFlagRequired("category")
}

func runIngest(cmd *cobra.Command, args []string) error {
	rawCategory, _ := cmd.Flags().GetString("category")
	title, _ := cmd.Flags().GetString("title")
	docID, _ := cmd.Flags().GetString("doc-id")

	category, err := router.NormalizeCategory(rawCategory)
	if err != nil {
		return fmt.Errorf("%w: %q (one of: %v)", err, rawCategory, router.Names())
	}
	if len(args) > 1 && (title != "" || docID != "") {
		return fmt.Errorf("--title and --doc-id apply to a single file")
	}
	for _, path := range args {
		if !parser.IsSupportedExtension(path) {
			return fmt.Errorf("unsupported file type: %s", path)
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	worker := a.NewWorker(logger)

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		job := pipeline.NewJob(filepath.Base(path), category, title, docID, data)
		worker.Process(ctx, job)

		snap := job.Snapshot()
		fmt.Fprintf(out, "%s: %s (%d/%d chunks stored) doc_id=%s\n",
			path, snap.Status, snap.Progress.ChunksStored, snap.Progress.TotalChunks, snap.DocID)
		for _, e := range snap.Progress.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
		if snap.Status == pipeline.StatusFailed {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
