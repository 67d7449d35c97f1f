// Package search ranks stored capture records against a query string.
//
// Matching is lexical: a case-insensitive substring pass first, then a
// fuzzy edit-distance pass only when the substring pass finds nothing.
// The engine never returns an empty set for a non-empty store — with no
// match at all it degrades to the most recent records.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/nextlevelbuilder/glimpse/internal/record"
	"github.com/nextlevelbuilder/glimpse/internal/store"
)

const (
	// defaultMinSimilarity is the floor for the fuzzy pass.
	defaultMinSimilarity = 0.7

	// fuzzyScanLimit bounds how many recent records the fuzzy pass
	// scans; edit distance over the whole store would not stay cheap.
	fuzzyScanLimit = 2000

	defaultLimit = 20
)

// Result pairs a record with its match score. Scores order within the
// result only loosely: recency is the primary ordering signal.
type Result struct {
	Record record.CaptureRecord
	Score  float64
}

// Engine answers "what did I see/copy/type" queries over the store.
type Engine struct {
	st            *store.Store
	minSimilarity float64
}

// NewEngine returns a retrieval engine over the given store.
func NewEngine(st *store.Store) *Engine {
	return &Engine{st: st, minSimilarity: defaultMinSimilarity}
}

// Search runs the two-pass query. Pass 1 is substring containment over
// extracted text, window title, source app and source URL; pass 2 runs
// only when pass 1 is empty and fuzzy-matches the same fields. When
// neither pass matches, the most recent records are returned instead of
// nothing. Results are unique by id, newest first, capped at limit.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return e.recentFallback(limit)
	}

	recs, err := e.st.SubstringSearch(query, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return e.toResults(recs, 1.0, limit), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fuzzy, err := e.fuzzyPass(query, limit)
	if err != nil {
		return nil, err
	}
	if len(fuzzy) > 0 {
		return fuzzy, nil
	}

	return e.recentFallback(limit)
}

// fuzzyPass scores recent records by the best normalized edit-distance
// similarity across the four text fields.
func (e *Engine) fuzzyPass(query string, limit int) ([]Result, error) {
	recs, err := e.st.Recent(fuzzyScanLimit)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var results []Result
	for _, rec := range recs {
		score := bestFieldSimilarity(q, rec)
		if score < e.minSimilarity {
			continue
		}
		results = append(results, Result{Record: rec, Score: score})
	}

	// Recent already orders newest first; keep that as the primary
	// signal and cap.
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) recentFallback(limit int) ([]Result, error) {
	recs, err := e.st.Recent(limit)
	if err != nil {
		return nil, err
	}
	return e.toResults(recs, 0, limit), nil
}

// toResults wraps store rows, deduplicating by id and ordering newest
// first.
func (e *Engine) toResults(recs []record.CaptureRecord, score float64, limit int) []Result {
	seen := make(map[string]struct{}, len(recs))
	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		results = append(results, Result{Record: rec, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// bestFieldSimilarity returns the highest similarity between the query
// and any of the record's text fields.
func bestFieldSimilarity(query string, rec record.CaptureRecord) float64 {
	best := 0.0
	for _, field := range []string{rec.ExtractedText, rec.WindowTitle, rec.SourceApp, rec.SourceURL} {
		if field == "" {
			continue
		}
		if s := similarity(query, strings.ToLower(field)); s > best {
			best = s
		}
	}
	return best
}

// similarity is 1 − editDistance/maxLen over runes, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
