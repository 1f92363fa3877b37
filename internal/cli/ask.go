package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/progress"
)

var (
	askNoAI       bool
	askMaxResults int
	askStrategy   string
	askSynthesize bool
	askJSON       string
	askTimeout    time.Duration
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a clinical question from PubMed evidence",
	Long: `Ask runs the full pipeline for a single question:
- Formulate a PubMed search strategy (LLM, unless --no-ai)
- Retrieve and rank the matching articles
- Critically appraise each abstract
- Optionally synthesize the appraisals into one referenced summary

Example:
  evidens ask "Is metformin effective for PCOS?"
  evidens ask "statins in primary prevention" --max 20 --synthesize
  evidens ask "diabetes treatment" --no-ai --json results.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolVar(&askNoAI, "no-ai", false, "skip LLM strategy and appraisal, search with free text")
	askCmd.Flags().IntVar(&askMaxResults, "max", model.DefaultMaxResults, "maximum articles to retrieve (1-50)")
	askCmd.Flags().StringVar(&askStrategy, "strategy", "", "use this PubMed query instead of generating one")
	askCmd.Flags().BoolVar(&askSynthesize, "synthesize", false, "synthesize the appraisals into a single summary")
	askCmd.Flags().StringVar(&askJSON, "json", "", "write full results as JSON to this path")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	question := model.NewQuestion(args[0], !askNoAI, askMaxResults)
	requestID := a.hub.NewRequestID()

	if verbose {
		watchProgress(a.hub, requestID)
	}

	result, err := a.coord.Run(ctx, requestID, question, askStrategy)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Strategy: %s\n", result.Strategy.Strategy)
	fmt.Fprintf(os.Stderr, "Articles: %d (%.1fs)\n\n", len(result.Articles), result.ProcessingTime.Seconds())

	for i, article := range result.Articles {
		printArticle(i+1, article)
	}

	var synthesis *model.SynthesisResult
	if askSynthesize && len(result.Articles) > 0 {
		synthesis, err = a.coord.Synthesize(ctx, requestID, question.Text, result.Articles)
		if err != nil {
			return fmt.Errorf("synthesis failed: %w", err)
		}
		fmt.Printf("Evidence rating: %d/5\n", synthesis.EvidenceRating)
		fmt.Printf("Referenced: %s\n\n", strings.Join(synthesis.Referenced, ", "))
		fmt.Println(synthesis.HTML)
	}

	if askJSON != "" {
		return writeResultJSON(askJSON, result, synthesis)
	}
	return nil
}

func printArticle(n int, article model.Article) {
	fmt.Printf("%d. [%s] %s\n", n, article.PMID, article.Title)
	if article.Source != "" || article.PublicationDate != "" {
		fmt.Printf("   %s, %s", article.Source, article.PublicationDate)
		if article.PriorityScore > 0 {
			fmt.Printf(" (priority %.0f)", article.PriorityScore)
		}
		fmt.Println()
	}
	if article.AnalysisError {
		fmt.Println("   appraisal failed")
	}
	fmt.Println()
}

// watchProgress mirrors the request's progress events to stderr.
func watchProgress(hub *progress.Hub, requestID string) {
	events, _ := hub.Subscribe(requestID)
	go func() {
		for e := range events {
			if e.Total > 0 {
				fmt.Fprintf(os.Stderr, "  %s %d/%d\n", e.Stage, e.Index, e.Total)
			} else {
				fmt.Fprintf(os.Stderr, "  %s %s\n", e.Stage, e.Detail)
			}
		}
	}()
}

func writeResultJSON(path string, result any, synthesis *model.SynthesisResult) error {
	out := map[string]any{"result": result}
	if synthesis != nil {
		out["synthesis"] = synthesis
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
