package semantic

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

const (
	// rrfK is the smoothing constant for Reciprocal Rank Fusion.
	// Standard value from Cormack et al. (2009).
	rrfK = 60
	// overFetchMultiplier fetches more results from each source for better fusion.
	overFetchMultiplier = 3
)

// FusedResult holds a hybrid search result with combined RRF score.
type FusedResult struct {
	MemoryID int64
	Score    float64 // RRF score (higher = more relevant)
}

// Hybrid combines pgvector similarity with keyword search using
// Reciprocal Rank Fusion (RRF, k=60). Without an index it is a plain
// Search at threshold 0.
//
// Degrades gracefully: if vector search fails, returns keyword-only results.
func (r *Retriever) Hybrid(ctx context.Context, query string, limit int) ([]brain.Memory, Method, error) {
	if r.index == nil || r.embedder == nil {
		results, method, err := r.Search(ctx, query, limit, 0)
		return memoriesOf(results), method, err
	}

	q, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("semantic embed failed, falling back to keyword-only", "error", err)
		memories, err := r.brain.Search(query, limit)
		return memories, MethodKeyword, err
	}

	fetchLimit := limit * overFetchMultiplier

	var vectorResults []IndexHit
	var keywordResults []brain.Memory
	var vectorErr, keywordErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		vectorResults, vectorErr = r.index.Search(ctx, q.Vector, fetchLimit)
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = r.brain.Search(query, fetchLimit)
	}()

	wg.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, MethodHybrid, vectorErr
	}

	if vectorErr != nil {
		slog.Warn("vector search failed, using keyword-only", "error", vectorErr)
		if len(keywordResults) > limit {
			keywordResults = keywordResults[:limit]
		}
		return keywordResults, MethodKeyword, nil
	}

	vectorRanked := make([]FusedResult, len(vectorResults))
	for i, hit := range vectorResults {
		vectorRanked[i] = FusedResult{MemoryID: hit.MemoryID}
	}

	var lists [][]FusedResult
	lists = append(lists, vectorRanked)
	if keywordErr != nil {
		slog.Warn("keyword search failed, using vector-only", "error", keywordErr)
	} else {
		keywordRanked := make([]FusedResult, len(keywordResults))
		for i, m := range keywordResults {
			keywordRanked[i] = FusedResult{MemoryID: m.ID}
		}
		lists = append(lists, keywordRanked)
	}

	fused := reciprocalRankFusion(lists, rrfK)

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.MemoryID
	}
	// Consolidated memories drop out here: only active rows are returned.
	memories, err := r.brain.GetMemoriesByIDs(ids)
	if err != nil {
		return nil, MethodHybrid, err
	}
	memByID := make(map[int64]brain.Memory, len(memories))
	for _, m := range memories {
		memByID[m.ID] = m
	}

	// Importance nudges the fused rank so salient memories win ties.
	composite := make(map[int64]float64, len(fused))
	for _, f := range fused {
		if m, ok := memByID[f.MemoryID]; ok {
			composite[f.MemoryID] = f.Score * (1 + 0.2*m.Importance)
		}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return composite[fused[i].MemoryID] > composite[fused[j].MemoryID]
	})

	ordered := make([]brain.Memory, 0, limit)
	for _, f := range fused {
		if len(ordered) == limit {
			break
		}
		if m, ok := memByID[f.MemoryID]; ok {
			ordered = append(ordered, m)
		}
	}
	return ordered, MethodHybrid, nil
}

func memoriesOf(results []Result) []brain.Memory {
	out := make([]brain.Memory, len(results))
	for i, r := range results {
		out[i] = r.Memory
	}
	return out
}

// reciprocalRankFusion merges multiple ranked lists using RRF.
// Formula: RRF_score(d) = Σ 1/(k + rank_i(d))
func reciprocalRankFusion(lists [][]FusedResult, k int) []FusedResult {
	scores := make(map[int64]float64)
	var order []int64

	for _, list := range lists {
		for rank, result := range list {
			if _, seen := scores[result.MemoryID]; !seen {
				order = append(order, result.MemoryID)
			}
			// rank is 0-indexed, RRF uses 1-indexed
			scores[result.MemoryID] += 1.0 / (float64(k) + float64(rank+1))
		}
	}

	fused := make([]FusedResult, len(order))
	for i, id := range order {
		fused[i] = FusedResult{MemoryID: id, Score: scores[id]}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	return fused
}
