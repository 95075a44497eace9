package enrich

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opensbom/sbom-enrich/model"
)

// mockPackageSource is a function-field mock for the store slice the chunk
// source reads from
type mockPackageSource struct {
	findBomByKey             func(ctx context.Context, key string) (*model.Bom, error)
	packagesWithChecksumRefs func(ctx context.Context, bomKey string) ([]*model.Package, error)
}

func (m *mockPackageSource) FindBomByKey(ctx context.Context, key string) (*model.Bom, error) {
	return m.findBomByKey(ctx, key)
}

func (m *mockPackageSource) PackagesWithChecksumRefs(ctx context.Context, bomKey string) ([]*model.Package, error) {
	return m.packagesWithChecksumRefs(ctx, bomKey)
}

type mockProber struct {
	needsRequest bool
}

func (m *mockProber) NeedsRequest() bool { return m.needsRequest }

func testPackages(n int) []*model.Package {
	pkgs := make([]*model.Package, 0, n)
	for i := 0; i < n; i++ {
		pkg := model.NewPackage()
		pkg.Key = fmt.Sprintf("pkg-%03d", i)
		pkg.Name = fmt.Sprintf("name-%03d", i)
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

func sourceOver(pkgs []*model.Package, online bool) *ChunkSource {
	store := &mockPackageSource{
		findBomByKey: func(ctx context.Context, key string) (*model.Bom, error) {
			bom := model.NewBom()
			bom.Key = key
			return bom, nil
		},
		packagesWithChecksumRefs: func(ctx context.Context, bomKey string) ([]*model.Package, error) {
			return pkgs, nil
		},
	}
	return NewChunkSource(store, &mockProber{needsRequest: online}, zap.NewNop().Sugar())
}

func TestChunkSourceReadsEachPackageOnce(t *testing.T) {
	pkgs := testPackages(5)
	source := sourceOver(pkgs, true)
	require.NoError(t, source.Init(context.Background(), "bom-1", 0))

	for i := 0; i < 5; i++ {
		pkg := source.Read()
		require.NotNil(t, pkg)
		assert.Equal(t, pkgs[i].Key, pkg.Key)
	}
	assert.Nil(t, source.Read())
	assert.Nil(t, source.Read())
}

func TestChunkSourceResume(t *testing.T) {
	pkgs := testPackages(10)
	source := sourceOver(pkgs, true)

	// a persisted cursor of 3 means only the last 3 items are unprocessed
	require.NoError(t, source.Init(context.Background(), "bom-1", 3))
	assert.Equal(t, 3, source.Remaining())

	chunk := source.ReadChunk(100)
	require.Len(t, chunk, 3)
	assert.Equal(t, "pkg-007", chunk[0].Key)
	assert.Equal(t, "pkg-009", chunk[2].Key)
}

func TestChunkSourceResumeLargerThanSnapshot(t *testing.T) {
	source := sourceOver(testPackages(4), true)

	// a stale cursor beyond the snapshot falls back to a full read
	require.NoError(t, source.Init(context.Background(), "bom-1", 50))
	assert.Equal(t, 4, source.Remaining())
}

func TestChunkSourceOfflineYieldsNothing(t *testing.T) {
	storeCalled := false
	store := &mockPackageSource{
		findBomByKey: func(ctx context.Context, key string) (*model.Bom, error) {
			storeCalled = true
			return nil, nil
		},
		packagesWithChecksumRefs: func(ctx context.Context, bomKey string) ([]*model.Package, error) {
			storeCalled = true
			return nil, nil
		},
	}
	source := NewChunkSource(store, &mockProber{needsRequest: false}, zap.NewNop().Sugar())

	require.NoError(t, source.Init(context.Background(), "bom-1", 0))
	assert.Nil(t, source.Read())
	assert.False(t, storeCalled)
}

func TestChunkSourceMissingBomYieldsNothing(t *testing.T) {
	store := &mockPackageSource{
		findBomByKey: func(ctx context.Context, key string) (*model.Bom, error) {
			return nil, nil
		},
		packagesWithChecksumRefs: func(ctx context.Context, bomKey string) ([]*model.Package, error) {
			t.Fatal("packages must not be loaded for a missing bom")
			return nil, nil
		},
	}
	source := NewChunkSource(store, &mockProber{needsRequest: true}, zap.NewNop().Sugar())

	require.NoError(t, source.Init(context.Background(), "missing", 0))
	assert.Nil(t, source.Read())
	assert.Equal(t, 0, source.Remaining())
}

func TestChunkSourceReadChunk(t *testing.T) {
	source := sourceOver(testPackages(7), true)
	require.NoError(t, source.Init(context.Background(), "bom-1", 0))

	assert.Len(t, source.ReadChunk(3), 3)
	assert.Len(t, source.ReadChunk(3), 3)
	assert.Len(t, source.ReadChunk(3), 1)
	assert.Empty(t, source.ReadChunk(3))
}

func TestChunkSourceInitResets(t *testing.T) {
	source := sourceOver(testPackages(3), true)
	require.NoError(t, source.Init(context.Background(), "bom-1", 0))
	source.ReadChunk(2)

	require.NoError(t, source.Init(context.Background(), "bom-1", 0))
	assert.Equal(t, 3, source.Remaining())
}
