package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"castlight/internal/retrieval"
	"castlight/internal/store"
)

var (
	searchLimit    int
	searchStrategy string
	searchFid      uint64
	searchProfiles bool
	searchCasts    bool
	searchContext  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search synced casts and profiles",
	Long: `Searches the synced dataset. The strategy is picked from the query
shape: quoted or very short queries match keywords exactly, queries
naming protocol terms run hybrid, and natural-language queries run
semantically. Override with --strategy.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "max results per corpus")
	searchCmd.Flags().StringVarP(&searchStrategy, "strategy", "s", "", "force strategy: semantic|keyword|hybrid")
	searchCmd.Flags().Uint64Var(&searchFid, "fid", 0, "only casts by this fid")
	searchCmd.Flags().BoolVar(&searchProfiles, "profiles", false, "profiles only")
	searchCmd.Flags().BoolVar(&searchCasts, "casts", false, "casts only")
	searchCmd.Flags().BoolVar(&searchContext, "context", false, "print the assembled context block instead of a result list")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}

	opts := retrieval.SearchOptions{
		Limit:        searchLimit,
		Filter:       store.CastFilter{Fid: searchFid},
		ProfilesOnly: searchProfiles,
		CastsOnly:    searchCasts,
	}
	if searchStrategy != "" {
		s, err := parseStrategy(searchStrategy)
		if err != nil {
			return err
		}
		opts.Strategy = &s
	}

	engine := retrieval.NewEngine(st, embedder, cfg.Retrieval)
	resp, err := engine.Search(context.Background(), query, opts)
	if err != nil {
		return err
	}

	fmt.Printf("strategy: %s", resp.Strategy)
	if resp.Degraded {
		fmt.Print(" (degraded to keyword)")
	}
	fmt.Printf("  [%s]\n", resp.Elapsed.Round(1e6))

	if searchContext {
		fmt.Println(resp.Context)
		return nil
	}

	for _, p := range resp.Profiles {
		name := p.Profile.Username()
		if name == "" {
			name = fmt.Sprintf("fid:%d", p.Profile.Fid)
		}
		fmt.Printf("profile %-20s score %.3f  %s\n", name, p.Score, p.Profile.Bio())
	}
	for _, c := range resp.Casts {
		fmt.Printf("cast %s fid %d score %.3f replies %d reactions %d\n  %s\n",
			c.Cast.MessageHash, c.Cast.Fid, c.Score,
			c.Cast.ReplyCount, c.Cast.ReactionCount, c.Cast.Text)
	}
	if len(resp.Profiles)+len(resp.Casts) == 0 {
		fmt.Println("no results")
	}
	return nil
}

func parseStrategy(s string) (retrieval.Strategy, error) {
	switch strings.ToLower(s) {
	case "semantic":
		return retrieval.StrategySemantic, nil
	case "keyword":
		return retrieval.StrategyKeyword, nil
	case "hybrid":
		return retrieval.StrategyHybrid, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}
