// Package retrieval implements search over the synced dataset: semantic,
// keyword, and hybrid strategies with reciprocal-rank fusion, plus thread
// reconstruction and context assembly for downstream consumers.
package retrieval

import (
	"time"

	"castlight/internal/store"
)

// Strategy selects how a query is executed.
type Strategy int

const (
	// StrategySemantic searches by embedding similarity only.
	StrategySemantic Strategy = iota
	// StrategyKeyword searches by exact text match only.
	StrategyKeyword
	// StrategyHybrid runs both and fuses the rankings.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategySemantic:
		return "semantic"
	case StrategyKeyword:
		return "keyword"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ProfileResult is one profile hit with its fused score.
type ProfileResult struct {
	Profile store.Profile
	Score   float64
}

// CastResult is one cast hit with its fused score.
type CastResult struct {
	Cast  store.Cast
	Score float64
}

// SearchOptions tune one search call. Zero values fall back to config
// defaults.
type SearchOptions struct {
	Limit    int
	MinScore float64
	// Strategy forces a strategy instead of classifying the query.
	Strategy *Strategy
	// Filter narrows cast results.
	Filter store.CastFilter
	// Profiles and Casts select which corpora to search. Both false means
	// both.
	ProfilesOnly bool
	CastsOnly    bool
}

// Response is one completed search.
type Response struct {
	Query    string
	Strategy Strategy
	// Degraded is set when the semantic branch failed or timed out and the
	// response was served from keyword results alone.
	Degraded bool
	Profiles []ProfileResult
	Casts    []CastResult
	// Context is the assembled text block for downstream consumption.
	Context string
	Elapsed  time.Duration
}

// Thread is one cast with its ancestry and direct replies.
type Thread struct {
	// Ancestors are ordered root-first. The chain may be truncated when an
	// ancestor was never synced.
	Ancestors []store.Cast
	Cast      store.Cast
	Replies   []store.Cast
}
