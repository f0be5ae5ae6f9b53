package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinsim/osce-grader/internal/classify"
	"github.com/clinsim/osce-grader/internal/config"
	"github.com/clinsim/osce-grader/internal/db"
	"github.com/clinsim/osce-grader/internal/evidence"
	"github.com/clinsim/osce-grader/internal/llm"
	"github.com/clinsim/osce-grader/internal/objectstore"
	"github.com/clinsim/osce-grader/internal/resultstore"
	"github.com/clinsim/osce-grader/internal/rubric"
	"github.com/clinsim/osce-grader/internal/server"
	"github.com/clinsim/osce-grader/internal/store"
	"github.com/clinsim/osce-grader/internal/transcript"
	"github.com/clinsim/osce-grader/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grading API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer func() { _ = client.Close() }()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	var blobs objectstore.Store
	if cfg.ObjectStoreDir != "" {
		blobs = objectstore.NewFSStore(cfg.ObjectStoreDir)
	} else {
		blobs = objectstore.NewHTTPStore(cfg.ObjectStoreURL)
	}

	invoker := llm.DefaultInvoker()
	shared := store.NewMemory(cfg.JobTTL)

	w := worker.New(
		worker.Config{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxJobRuntime: cfg.MaxJobRuntime,
		},
		shared, shared, shared,
		transcript.NewResolver(blobs, transcript.NewGeminiTranscriber(client), invoker),
		rubric.NewBlobLookup(blobs),
		classify.NewClassifier(client, invoker),
		evidence.NewCollector(client, invoker),
		resultstore.New(database, blobs, nil),
	)

	srv, err := server.New(cfg.Port, w, database)
	if err != nil {
		return err
	}
	return srv.Start()
}
