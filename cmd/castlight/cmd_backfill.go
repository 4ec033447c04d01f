package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"castlight/internal/backfill"
	"castlight/internal/store"
)

var backfillKind string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Generate embeddings for synced rows that lack one",
	Long: `Embeds casts and profiles that have no vector yet, using the
configured provider. Safe to interrupt and re-run: finished items are
skipped and failed items are retried on the next run.`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillKind, "kind", "", "restrict to one kind: cast|profile")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}

	var kinds []string
	switch backfillKind {
	case "":
	case store.EmbeddingKindCast, store.EmbeddingKindProfile:
		kinds = []string{backfillKind}
	default:
		return fmt.Errorf("unknown kind %q", backfillKind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := backfill.NewJob(st, embedder, cfg.Backfill)
	res, err := job.Run(ctx, kinds...)
	fmt.Printf("embedded %d, failed %d\n", res.Embedded, res.Failed)
	return err
}
