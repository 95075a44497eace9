// Package enrich implements the chunked, resumable enrichment pipeline:
// a package chunk source, the license resolution engine, the vulnerability
// ingestion engine, and the runner that coordinates them for one bom.
package enrich

import (
	"context"
	"sync"

	"github.com/opensbom/sbom-enrich/model"
	"go.uber.org/zap"
)

// PackageSource is the slice of the store the chunk source reads from
type PackageSource interface {
	FindBomByKey(ctx context.Context, key string) (*model.Bom, error)
	PackagesWithChecksumRefs(ctx context.Context, bomKey string) ([]*model.Package, error)
}

// OfflineProber reports whether the external client will issue requests at all
type OfflineProber interface {
	NeedsRequest() bool
}

// ChunkSource hands out the packages of one enrichment run at most once per
// process lifetime. It keeps an immutable snapshot plus a cursor rather than
// physically removing elements, so resume truncation is a slice operation.
type ChunkSource struct {
	store PackageSource
	probe OfflineProber
	log   *zap.SugaredLogger

	mu       sync.Mutex
	snapshot []*model.Package
	cursor   int
}

// NewChunkSource creates a chunk source over the given store
func NewChunkSource(store PackageSource, probe OfflineProber, log *zap.SugaredLogger) *ChunkSource {
	return &ChunkSource{
		store: store,
		probe: probe,
		log:   log,
	}
}

// Init loads the snapshot of packages carrying a checksum purl ref for the
// bom. When a prior attempt persisted a remaining-size cursor, the snapshot
// is truncated to the last remainingSize not-yet-processed items so already
// completed work is not re-delivered.
func (s *ChunkSource) Init(ctx context.Context, bomKey string, remainingSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = nil
	s.cursor = 0

	if !s.probe.NeedsRequest() {
		s.log.Warnw("external client requires no requests, nothing to read", "bom", bomKey)
		return nil
	}

	bom, err := s.store.FindBomByKey(ctx, bomKey)
	if err != nil {
		return err
	}
	if bom == nil {
		s.log.Warnw("bom does not exist, nothing to read", "bom", bomKey)
		return nil
	}

	packages, err := s.store.PackagesWithChecksumRefs(ctx, bomKey)
	if err != nil {
		return err
	}
	s.snapshot = packages

	if remainingSize > 0 && remainingSize < len(s.snapshot) {
		s.cursor = len(s.snapshot) - remainingSize
	}

	s.log.Infow("chunk source initialized",
		"bom", bomKey,
		"packages", len(s.snapshot),
		"remaining", len(s.snapshot)-s.cursor)
	return nil
}

// Read returns the next unconsumed package, or nil at end of sequence.
// Hand-out is at-most-once: the cursor advance under the mutex is the
// synchronization point for concurrent consumers.
func (s *ChunkSource) Read() *model.Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.snapshot) {
		return nil
	}
	pkg := s.snapshot[s.cursor]
	s.cursor++
	return pkg
}

// ReadChunk hands out up to n packages in one call
func (s *ChunkSource) ReadChunk(n int) []*model.Package {
	var chunk []*model.Package
	for len(chunk) < n {
		pkg := s.Read()
		if pkg == nil {
			break
		}
		chunk = append(chunk, pkg)
	}
	return chunk
}

// Remaining reports how many packages have not been handed out yet
func (s *ChunkSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshot) - s.cursor
}
