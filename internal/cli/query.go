package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docrag/internal/answer"
	"github.com/dgallion1/docrag/internal/app"
	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/router"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Show the ranked passages for a query",
	Long: `Fetch, score and rerank passages for a query. Without --folder the
query is routed to the most similar categories first.

Examples:
  docrag retrieve "quorum for board meetings"
  docrag retrieve --folder Resolutions --top 3 --no-rerank "budget approval"`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with citations",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Show which categories a query is routed to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoute,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the document categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, c := range router.Categories() {
			fmt.Fprintf(out, "%s\n  %s\n", c.Name, c.Summary)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{retrieveCmd, askCmd} {
		c.Flags().StringSlice("folder", nil, "search only these categories (repeatable)")
		c.Flags().Int("candidates", 0, "candidates kept after fetch (default from K_CANDIDATES)")
		c.Flags().Int("top", 0, "passages returned (default from TOP_PASSAGES)")
		c.Flags().Bool("no-hybrid", false, "rank by vector similarity only")
		c.Flags().Bool("no-rerank", false, "skip the cross-encoder")
		c.Flags().Bool("json", false, "output as JSON")
	}
	routeCmd.Flags().Bool("json", false, "output as JSON")
}

func queryOptions(cmd *cobra.Command, base retrieval.Options) retrieval.Options {
	if n, _ := cmd.Flags().GetInt("candidates"); n > 0 {
		base.KCandidates = n
	}
	if n, _ := cmd.Flags().GetInt("top"); n > 0 {
		base.TopK = n
	}
	if off, _ := cmd.Flags().GetBool("no-hybrid"); off {
		base.UseHybrid = false
	}
	if off, _ := cmd.Flags().GetBool("no-rerank"); off {
		base.UseRerank = false
	}
	return base
}

// retrieve reports a failed vector search as no passages.
func retrieve(cmd *cobra.Command, a *app.App, query string, folders []string) ([]retrieval.Candidate, error) {
	passages, err := a.Retriever.Retrieve(cmd.Context(), query, folders, queryOptions(cmd, a.RetrieveOptions()))
	var stageErr *retrieval.StageError
	if errors.As(err, &stageErr) {
		logger.Warn("retrieval_failed_returning_no_passages", "stage", stageErr.Stage, "error", stageErr.Err)
		return nil, nil
	}
	return passages, err
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := args[0]
	rawFolders, _ := cmd.Flags().GetStringSlice("folder")
	folders, decision, err := resolveFolders(ctx, a, query, rawFolders)
	if err != nil {
		return err
	}

	passages, err := retrieve(cmd, a, query, folders)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, map[string]any{
			"query":    query,
			"folders":  folders,
			"routing":  decision,
			"passages": passages,
		})
	}
	if decision != nil {
		printDecision(out, *decision)
	}
	printPassages(out, passages)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Composer == nil {
		return fmt.Errorf("ANTHROPIC_API_KEY is required to answer questions")
	}

	question := args[0]
	rawFolders, _ := cmd.Flags().GetStringSlice("folder")
	folders, _, err := resolveFolders(ctx, a, question, rawFolders)
	if err != nil {
		return err
	}

	passages, err := retrieve(cmd, a, question, folders)
	if err != nil {
		return err
	}
	ans, err := a.Composer.Answer(ctx, question, passages)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, ans)
	}
	printAnswer(out, ans)
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d := a.Router.Route(ctx, args[0])
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, d)
	}
	printDecision(out, d)
	for _, s := range d.Similarities {
		fmt.Fprintf(out, "  %.3f  %s\n", s.Score, s.Category)
	}
	return nil
}

func printDecision(w io.Writer, d router.Decision) {
	fmt.Fprintf(w, "Routed to: %s (confidence %s, %s)\n", strings.Join(d.Folders, "; "), d.Confidence, d.Method)
}

func printPassages(w io.Writer, passages []retrieval.Candidate) {
	if len(passages) == 0 {
		fmt.Fprintln(w, "No passages found")
		return
	}
	for i, p := range passages {
		fmt.Fprintf(w, "%d. %s, page %s [%s]\n", i+1, p.DocTitle, p.PageRange(), p.Folder)
		fmt.Fprintf(w, "   vector=%.3f bm25=%.3f hybrid=%.3f rerank=%.3f\n",
			p.VectorScore, p.BM25Score, p.HybridScore, p.RerankScore)
		if len(p.HeadingPath) > 0 {
			fmt.Fprintf(w, "   %s\n", strings.Join(p.HeadingPath, " > "))
		}
		fmt.Fprintf(w, "   %s\n", preview(p.Text, 200))
	}
}

func printAnswer(w io.Writer, a *answer.Answer) {
	fmt.Fprintln(w, a.Answer)
	fmt.Fprintf(w, "\nConfidence: %s\n", a.Confidence)
	for _, c := range a.Citations {
		mark := "ok"
		if !c.Valid {
			mark = "unverified"
		}
		fmt.Fprintf(w, "  [%s] %s, page %s (%s)\n", mark, c.DocTitle, c.PageRange, c.ChunkID)
	}
	for _, n := range a.Notes {
		fmt.Fprintf(w, "  note: %s\n", n)
	}
}

// preview flattens text to one line of at most n runes.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
