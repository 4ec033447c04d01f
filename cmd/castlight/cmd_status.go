package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"castlight/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-shard sync progress and embedding coverage",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	progress, err := st.ListProgress(ctx)
	if err != nil {
		return err
	}
	if len(progress) == 0 {
		fmt.Println("No shards synced yet.")
	}
	for _, p := range progress {
		stats, err := st.Stats(ctx, p.ShardID)
		if err != nil {
			return err
		}
		fmt.Printf("shard %d: height %d, status %s, %d messages, %d blocks\n",
			p.ShardID, p.LastProcessedHeight, p.Status,
			stats.TotalMessages, stats.TotalBlocks)
		if p.ErrorMessage != "" {
			fmt.Printf("  last error: %s\n", p.ErrorMessage)
		}
	}

	if lock, err := st.GetSyncLock(ctx); err == nil && lock != nil {
		fmt.Printf("sync lock held by pid %d since %s (shards %s)\n",
			lock.Pid, lock.StartedAt.Format(time.RFC3339), lock.TargetShards)
	}

	for _, kind := range []string{store.EmbeddingKindCast, store.EmbeddingKindProfile} {
		n, err := st.EmbeddingCount(ctx, kind)
		if err != nil {
			return err
		}
		pending, err := st.MissingEmbeddings(ctx, kind, 1)
		if err != nil {
			return err
		}
		suffix := ""
		if len(pending) > 0 {
			suffix = " (backfill pending)"
		}
		fmt.Printf("%s embeddings: %d%s\n", kind, n, suffix)
	}
	return nil
}
