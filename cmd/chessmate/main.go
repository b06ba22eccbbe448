package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chessmate/chessmate/internal/app"
	"github.com/chessmate/chessmate/internal/embedworker"
	"github.com/chessmate/chessmate/internal/hybrid"
	"github.com/chessmate/chessmate/internal/ingest"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/pgn"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

// userError marks a condition that exits 1 (bad input, queue saturation)
// rather than 2 (an infrastructure failure the operator needs to fix).
type userError struct{ error }

func userErr(err error) error {
	if err == nil {
		return nil
	}
	return userError{err}
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(userError); ok {
		return 1
	}
	if _, ok := err.(*ingest.QueueSaturated); ok {
		return 1
	}
	return 2
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chessmate",
		Short:         "Chessmate: PGN ingestion, embedding, and hybrid chess game search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCommand(),
		newQueryCommand(),
		newEmbeddingWorkerCommand(),
		newFenCommand(),
		newTwicPrecheckCommand(),
		newServeCommand(),
	)
	return root
}

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <pgn-path>",
		Short: "Parse a PGN file and load it into the metadata store and embedding queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0])
		},
	}
}

func runIngest(ctx context.Context, path string) error {
	cfg := app.LoadConfig()
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	app.InitMetrics(log)

	svc, err := app.NewDatabase(cfg, log)
	if err != nil {
		return err
	}
	meta, queue := app.NewRepos(svc, log)
	controller := app.NewIngestController(svc, log, meta, queue)

	f, err := os.Open(path)
	if err != nil {
		return userErr(fmt.Errorf("open pgn file: %w", err))
	}
	defer f.Close()

	report, err := pgn.Parse(f)
	if err != nil {
		return userErr(fmt.Errorf("parse pgn file: %w", err))
	}

	result, err := controller.Run(ctx, report)
	if err != nil {
		if qs, ok := err.(*ingest.QueueSaturated); ok {
			printIngestResult(result)
			return userErr(qs)
		}
		return err
	}
	printIngestResult(result)
	return nil
}

func printIngestResult(result *ingest.Result) {
	if result == nil {
		return
	}
	for _, c := range result.Committed {
		fmt.Printf("committed game=%s positions=%d\n", c.GameID, c.Positions)
	}
	for _, s := range result.Skipped {
		fmt.Printf("skipped game_index=%d reason=%s\n", s.GameIndex, s.Reason)
	}
	fmt.Printf("summary: games=%d positions=%d jobs_enqueued=%d skipped=%d\n",
		result.GamesCommitted, result.PositionsInserted, result.JobsEnqueued, len(result.Skipped))
}

func newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a natural-language question about the ingested games",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), args[0])
		},
	}
}

type queryResponse struct {
	Plan     intent.Plan           `json:"plan"`
	Results  []hybrid.ScoredResult `json:"results"`
	Warnings []string              `json:"warnings"`
	Agent    any                   `json:"agent,omitempty"`
}

func runQuery(ctx context.Context, question string) error {
	cfg := app.LoadConfig()
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	question = strings.TrimSpace(question)
	if question == "" {
		return userErr(fmt.Errorf("question must not be empty"))
	}

	if cfg.ChessmateAPIURL != "" {
		return runQueryOverHTTP(ctx, cfg.ChessmateAPIURL, question)
	}
	return runQueryInProcess(ctx, cfg, log, question)
}

func runQueryOverHTTP(ctx context.Context, baseURL, question string) error {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		if resp.StatusCode < 500 {
			return userErr(fmt.Errorf("query api returned status=%d: %s", resp.StatusCode, out.String()))
		}
		return fmt.Errorf("query api returned status=%d: %s", resp.StatusCode, out.String())
	}
	fmt.Println(out.String())
	return nil
}

func runQueryInProcess(ctx context.Context, cfg app.Config, log *logger.Logger, question string) error {
	svc, err := app.NewDatabase(cfg, log)
	if err != nil {
		return err
	}
	meta, _ := app.NewRepos(svc, log)

	vectors, err := app.NewVectorStore(cfg, log)
	if err != nil {
		log.Warn("vector store unavailable, query will degrade to keyword-only", "error", err)
		vectors = nil
	}
	embedder, err := app.NewEmbedder(cfg, log)
	if err != nil {
		log.Warn("embedder unavailable", "error", err)
		embedder = nil
	}
	agentEval, err := app.NewAgentEvaluator(cfg, log)
	if err != nil {
		log.Warn("agent evaluator unavailable", "error", err)
		agentEval = nil
	}

	exec := app.NewHybridExecutor(log, meta, vectors, embedder, agentEval)

	plan := intent.Analyse(question)
	result, err := exec.Execute(ctx, plan)
	if err != nil {
		return err
	}

	resp := queryResponse{Plan: plan, Results: result.Results, Warnings: result.Warnings}
	if result.Agent != nil {
		resp.Agent = result.Agent
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newEmbeddingWorkerCommand() *cobra.Command {
	var workers int
	var pollSleep int
	cmd := &cobra.Command{
		Use:   "embedding-worker",
		Short: "Run the embedding worker pool until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbeddingWorker(cmd.Context(), workers, pollSleep)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of poll loops (overrides WORKERS)")
	cmd.Flags().IntVar(&pollSleep, "poll-sleep", 0, "seconds between polls per worker (overrides POLL_SLEEP_SECONDS)")
	return cmd
}

func runEmbeddingWorker(ctx context.Context, workersFlag, pollSleepFlag int) error {
	cfg := app.LoadConfig()
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	if pollSleepFlag > 0 {
		cfg.PollSleepSeconds = pollSleepFlag
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	app.InitMetrics(log)

	svc, err := app.NewDatabase(cfg, log)
	if err != nil {
		return err
	}
	if err := svc.SetMaxConns(cfg.Workers + 2); err != nil {
		log.Warn("set max conns failed", "error", err)
	}
	meta, queue := app.NewRepos(svc, log)

	embedder, err := app.NewEmbedder(cfg, log)
	if err != nil {
		return err
	}
	vectors, err := app.NewVectorStore(cfg, log)
	if err != nil {
		return err
	}

	var poolEmbedder embedworker.Embedder
	if embedder != nil {
		poolEmbedder = embedder
	}

	pool, err := app.NewEmbedWorkerPool(cfg, svc, log, meta, queue, poolEmbedder, vectors)
	if err != nil {
		return err
	}

	pool.Run(ctx)
	return nil
}

func newFenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fen <pgn-path>",
		Short: "Print one FEN per line for every ply in a PGN file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFen(args[0])
		},
	}
}

func runFen(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return userErr(fmt.Errorf("open pgn file: %w", err))
	}
	defer f.Close()

	report, err := pgn.Parse(f)
	if err != nil {
		return userErr(fmt.Errorf("parse pgn file: %w", err))
	}
	for _, game := range report.Games {
		for _, ply := range game.Plies {
			fmt.Println(ply.FEN)
		}
	}
	return nil
}

func newTwicPrecheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "twic-precheck <pgn-path>",
		Short: "Report games that would be skipped by ingest without loading anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTwicPrecheck(args[0])
		},
	}
}

func runTwicPrecheck(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return userErr(fmt.Errorf("open pgn file: %w", err))
	}
	defer f.Close()

	report, err := pgn.Parse(f)
	if err != nil {
		return userErr(fmt.Errorf("parse pgn file: %w", err))
	}

	findings := pgn.Precheck(report)
	if len(findings) == 0 {
		fmt.Println("no issues found")
		return nil
	}
	for _, f := range findings {
		fmt.Println(f.String())
	}
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := app.LoadConfig()
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	app.InitMetrics(log)
	if cfg.MetricsEnabled {
		app.StartMetricsServer(ctx, log, cfg)
	}

	svc, err := app.NewDatabase(cfg, log)
	if err != nil {
		return err
	}
	meta, _ := app.NewRepos(svc, log)

	vectors, err := app.NewVectorStore(cfg, log)
	if err != nil {
		log.Warn("vector store unavailable, queries will degrade to keyword-only", "error", err)
		vectors = nil
	}
	embedder, err := app.NewEmbedder(cfg, log)
	if err != nil {
		log.Warn("embedder unavailable", "error", err)
		embedder = nil
	}
	agentEval, err := app.NewAgentEvaluator(cfg, log)
	if err != nil {
		log.Warn("agent evaluator unavailable", "error", err)
		agentEval = nil
	}

	exec := app.NewHybridExecutor(log, meta, vectors, embedder, agentEval)
	srv := app.NewHTTPServer(log, exec)
	return srv.Run(cfg.HTTPAddr)
}
