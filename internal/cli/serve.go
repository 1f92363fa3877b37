package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imedina/evidens/internal/server"
)

var servePort int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and progress event stream",
	Long: `Serve starts the Evidens HTTP API:

- POST /api/scientific-query       full question-to-articles pipeline
- POST /api/claude/strategy        search strategy generation only
- POST /api/claude/analyze         single article appraisal
- POST /api/claude/analyze-batch   batched appraisal
- POST /api/claude/synthesis       cross-article synthesis
- GET  /api/scientific-query/article/{pmid}
- GET  /events?requestId=...       server-sent progress events

Example:
  evidens serve
  evidens serve --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server, a.coord, a.gw, a.pubmed, a.hub)

	if verbose {
		fmt.Fprintf(os.Stderr, "LLM provider: %s\n", cfg.LLM.Provider)
		fmt.Fprintf(os.Stderr, "PubMed: %s\n", cfg.PubMed.BaseURL)
	}
	fmt.Fprintf(os.Stderr, "Listening on :%d\n", cfg.Server.Port)

	return srv.Start(ctx)
}
