package service

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sfuzzy "github.com/sahilm/fuzzy"

	"github.com/mmcdole/bundlesync/internal/domain"
)

// BundleMatch is a record matched by FindBundles.
type BundleMatch struct {
	Record         domain.BundleRecord
	MatchedIndexes []int // rune positions in Record.Name that matched
	Score          int   // higher is better
}

// recordSource implements sahilm/fuzzy.Source over lowercase names.
type recordSource struct {
	records    []domain.BundleRecord
	lowerNames []string
}

func (s recordSource) String(i int) string { return s.lowerNames[i] }
func (s recordSource) Len() int            { return len(s.records) }

// FindBundles fuzzy-matches query against record names, best match
// first. An empty query matches nothing.
func FindBundles(query string, records []domain.BundleRecord) []BundleMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(records) == 0 {
		return nil
	}

	src := recordSource{records: records, lowerNames: make([]string, len(records))}
	for i, r := range records {
		src.lowerNames[i] = strings.ToLower(r.Name)
	}

	matches := sfuzzy.FindFrom(query, src)
	results := make([]BundleMatch, len(matches))
	for i, m := range matches {
		results[i] = BundleMatch{
			Record:         records[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return results
}

// Suggest returns up to limit candidates close to name, closest first.
func Suggest(name string, candidates []string, limit int) []string {
	if name == "" || len(candidates) == 0 {
		return nil
	}

	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].Distance < ranks[j].Distance
	})

	if limit > 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}
	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.Target
	}
	return out
}
