package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"castlight/internal/replication"
	syncengine "castlight/internal/sync"
)

var (
	syncShards   string
	syncEndpoint string
	syncOnce     bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync configured shards from the replication service",
	Long: `Starts one worker per shard. Each worker pages the historical log
from its saved cursor to the snapshot tip, then tails the real-time
feed until interrupted.

The first Ctrl-C drains: workers commit their open batch and stop at
the flush boundary. A second Ctrl-C cancels immediately, dropping any
uncommitted batch (it will be replayed next run).`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncShards, "shards", "", "comma-separated shard ids (overrides config)")
	syncCmd.Flags().StringVar(&syncEndpoint, "endpoint", "", "replication service URL (overrides config)")
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "catch up to the current tip and exit instead of tailing")
}

func runSync(cmd *cobra.Command, args []string) error {
	syncCfg := cfg.Sync
	if syncEndpoint != "" {
		syncCfg.Endpoint = syncEndpoint
	}
	if syncShards != "" {
		ids, err := parseShardList(syncShards)
		if err != nil {
			return err
		}
		syncCfg.ShardIDs = ids
	}
	if syncOnce {
		syncCfg.Once = true
		syncCfg.Realtime = false
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := replication.NewHTTPClient(syncCfg.Endpoint)
	coord := syncengine.NewCoordinator(client, st, st, syncCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Syncing shards %v from %s\n", syncCfg.ShardIDs, syncCfg.Endpoint)

	if syncOnce {
		done := make(chan struct{})
		go func() {
			coord.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}
	// first signal consumed above; a second one cancels the drain
	stop()

	stopCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	stopCtx, tcancel := context.WithTimeout(stopCtx, 30*time.Second)
	defer tcancel()
	if err := coord.Stop(stopCtx, false); err != nil {
		return err
	}

	for _, ws := range coord.Status() {
		fmt.Printf("shard %d: height %d (%s)\n", ws.ShardID, ws.Height, ws.State)
	}
	return nil
}

func parseShardList(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid shard id %q", p)
		}
		ids = append(ids, uint32(id))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no shard ids in %q", s)
	}
	return ids, nil
}
