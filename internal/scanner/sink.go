package scanner

import (
	"context"
	"sync"

	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// Sink is the batched database writer: SQL writes are batched and flushed
// either on batch size reached, on a video job completion, or on explicit
// commit.
type Sink struct {
	mu        sync.Mutex
	db        *store.DB
	indexes   map[media.IndexKind]index.Index
	batch     []*media.Media
	batchSize int
}

func NewSink(db *store.DB, indexes map[media.IndexKind]index.Index, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Sink{db: db, indexes: indexes, batchSize: batchSize}
}

// Add records a completed fingerprint, flushing immediately if the batch
// is full or m is a video.
func (s *Sink) Add(ctx context.Context, m *media.Media) error {
	s.mu.Lock()
	s.batch = append(s.batch, m)
	full := len(s.batch) >= s.batchSize
	isVideo := m.Type == media.TypeVideo
	s.mu.Unlock()

	if full || isVideo {
		return s.Commit(ctx)
	}
	return nil
}

// Commit flushes any pending batch to SQL and every relevant index's
// AddRecords.
func (s *Sink) Commit(ctx context.Context) error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	for _, m := range batch {
		if err := s.db.InsertMedia(ctx, m); err != nil {
			return err
		}
	}
	for _, idx := range s.indexes {
		if err := idx.AddRecords(ctx, s.db, batch); err != nil {
			return err
		}
		idx.Add(batch)
	}
	return nil
}
