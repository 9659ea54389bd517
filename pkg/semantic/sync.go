package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]embeddings.Embedding, error)
}

// SyncWorker backfills embeddings for memories the async queue missed
// (dropped jobs, restarts, backend outages) and keeps the optional
// pgvector index in step with SQLite.
type SyncWorker struct {
	brain     *brain.Brain
	embedder  BatchEmbedder
	index     *Index
	interval  time.Duration
	batchSize int
}

// NewSyncWorker creates a new background sync worker. index may be nil.
func NewSyncWorker(b *brain.Brain, embedder BatchEmbedder, index *Index, interval time.Duration, batchSize int) *SyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &SyncWorker{
		brain:     b,
		embedder:  embedder,
		index:     index,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run starts the sync loop. Blocks until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("embedding sync worker started",
		"interval", w.interval,
		"batch_size", w.batchSize,
		"pgvector", w.index != nil,
	)

	// Initial sync on startup (backfill)
	if embedded, err := w.SyncOnce(ctx); err != nil {
		slog.Warn("initial embedding sync failed", "error", err)
	} else if embedded > 0 {
		slog.Info("initial embedding sync complete", "embedded", embedded)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("embedding sync worker stopping")
			return
		case <-ticker.C:
			if embedded, err := w.SyncOnce(ctx); err != nil {
				slog.Warn("embedding sync cycle failed", "error", err)
			} else if embedded > 0 {
				slog.Info("embedding sync cycle", "embedded", embedded)
			}
		}
	}
}

// SyncOnce runs a single sync cycle:
//  1. Embed active memories whose embedded_at is still null, in batches
//  2. Mirror new or changed embeddings into pgvector
//  3. Drop pgvector rows whose memory was consolidated
//
// Returns the number of memories embedded in step 1.
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		pending, err := w.brain.Unembedded(w.batchSize)
		if err != nil {
			return total, fmt.Errorf("get unembedded: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		n, err := w.embedBatch(ctx, pending)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 || len(pending) < w.batchSize {
			break
		}
	}

	if w.index != nil {
		if err := w.mirror(ctx); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *SyncWorker) embedBatch(ctx context.Context, batch []brain.Memory) (int, error) {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.Content
	}

	embs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}

	stored := 0
	for i, emb := range embs {
		if err := w.brain.SetEmbedding(batch[i].ID, emb.Vector, emb.Model); err != nil {
			slog.Warn("store embedding failed", "id", batch[i].ID, "error", err)
			continue
		}
		stored++
	}
	slog.Debug("batch embedded", "count", stored, "batch_size", len(batch))
	return stored, nil
}

func (w *SyncWorker) mirror(ctx context.Context) error {
	indexed, err := w.index.GetEmbedded(ctx)
	if err != nil {
		return fmt.Errorf("get indexed: %w", err)
	}
	active, err := w.brain.EmbeddedCandidates(0)
	if err != nil {
		return fmt.Errorf("get embedded memories: %w", err)
	}

	var ids []int64
	var vecs []embeddings.Vector
	var hashes []string
	live := make(map[int64]struct{}, len(active))
	for _, m := range active {
		live[m.ID] = struct{}{}
		hash := embeddings.ContentHash(m.Content)
		if existing, ok := indexed[m.ID]; ok && existing == hash {
			continue
		}
		ids = append(ids, m.ID)
		vecs = append(vecs, m.Embedding)
		hashes = append(hashes, hash)
	}

	for i := 0; i < len(ids); i += w.batchSize {
		end := min(i+w.batchSize, len(ids))
		if err := w.index.InsertBatch(ctx, ids[i:end], vecs[i:end], hashes[i:end]); err != nil {
			slog.Warn("pgvector batch failed", "error", err, "batch_start", i)
		}
	}

	var stale []int64
	for id := range indexed {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := w.index.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("delete stale index rows: %w", err)
	}
	if len(ids) > 0 || len(stale) > 0 {
		slog.Info("pgvector mirror synced", "upserted", len(ids), "removed", len(stale))
	}
	return nil
}
