package retrieval

import "strings"

// domainTerms are proper nouns from the protocol's home turf. A query
// naming one usually wants both the exact matches and the semantic
// neighborhood, so it routes to hybrid.
var domainTerms = map[string]struct{}{
	"farcaster": {},
	"warpcast":  {},
	"snapchain": {},
	"ethereum":  {},
	"solana":    {},
	"optimism":  {},
	"base":      {},
	"bitcoin":   {},
	"onchain":   {},
	"web3":      {},
	"nft":       {},
	"dao":       {},
	"defi":      {},
	"ens":       {},
	"fname":     {},
	"fid":       {},
}

// ClassifyQuery picks a strategy from the query's shape. Quoted phrases
// and very short queries want exact matching; domain proper nouns want
// hybrid; everything else is a natural-language query best served
// semantically.
func ClassifyQuery(query string) Strategy {
	q := strings.TrimSpace(query)
	if q == "" {
		return StrategyKeyword
	}
	if strings.Count(q, `"`) >= 2 || strings.Count(q, `'`) >= 2 {
		return StrategyKeyword
	}

	tokens := strings.Fields(strings.ToLower(q))
	for _, tok := range tokens {
		if _, ok := domainTerms[strings.Trim(tok, ".,!?:;")]; ok {
			return StrategyHybrid
		}
	}
	if len(tokens) <= 2 {
		return StrategyKeyword
	}
	return StrategySemantic
}
