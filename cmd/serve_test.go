package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/opensbom/sbom-enrich/model"
)

// mockServerStore is a function-field mock for the handler/job store surface
type mockServerStore struct {
	createBom          func(ctx context.Context, bom *model.Bom, product *model.Product) error
	createPackage      func(ctx context.Context, pkg *model.Package) error
	findRunByKey       func(ctx context.Context, key string) (*model.EnrichmentRun, error)
	findLatestRunByBom func(ctx context.Context, bomKey string) (*model.EnrichmentRun, error)
	pendingBoms        func(ctx context.Context) ([]*model.Bom, error)
	findFailedRuns     func(ctx context.Context) ([]*model.EnrichmentRun, error)
}

func (m *mockServerStore) CreateBom(ctx context.Context, bom *model.Bom, product *model.Product) error {
	return m.createBom(ctx, bom, product)
}

func (m *mockServerStore) CreatePackage(ctx context.Context, pkg *model.Package) error {
	return m.createPackage(ctx, pkg)
}

func (m *mockServerStore) FindRunByKey(ctx context.Context, key string) (*model.EnrichmentRun, error) {
	return m.findRunByKey(ctx, key)
}

func (m *mockServerStore) FindLatestRunByBom(ctx context.Context, bomKey string) (*model.EnrichmentRun, error) {
	return m.findLatestRunByBom(ctx, bomKey)
}

func (m *mockServerStore) PendingBoms(ctx context.Context) ([]*model.Bom, error) {
	return m.pendingBoms(ctx)
}

func (m *mockServerStore) FindFailedRuns(ctx context.Context) ([]*model.EnrichmentRun, error) {
	return m.findFailedRuns(ctx)
}

// mockRunner records which boms were enriched
type mockRunner struct {
	ranBoms []string
	err     error
}

func (m *mockRunner) Run(ctx context.Context, bomKey string, blocking bool) (*model.EnrichmentRun, error) {
	m.ranBoms = append(m.ranBoms, bomKey)
	if m.err != nil {
		return nil, m.err
	}
	run := model.NewEnrichmentRun()
	run.BomKey = bomKey
	run.Status = model.RunStatusCompleted
	return run, nil
}

func observedServer(store serverStore, runner bomRunner) (*server, *observer.ObservedLogs) {
	core, logs := observer.New(zap.ErrorLevel)
	return &server{
		store:  store,
		runner: runner,
		log:    zap.New(core).Sugar(),
	}, logs
}

func failedRun(bomKey string) *model.EnrichmentRun {
	run := model.NewEnrichmentRun()
	run.BomKey = bomKey
	run.Status = model.RunStatusFailed
	return run
}

func TestEnrichPendingBomsLogsStoreError(t *testing.T) {
	store := &mockServerStore{
		pendingBoms: func(ctx context.Context) ([]*model.Bom, error) {
			return nil, errors.New("connection refused")
		},
	}
	runner := &mockRunner{}
	srv, logs := observedServer(store, runner)

	srv.enrichPendingBoms()

	assert.Empty(t, runner.ranBoms)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to list pending boms", logs.All()[0].Message)
}

func TestEnrichPendingBomsRunsEachBom(t *testing.T) {
	bomA := model.NewBom()
	bomA.Key = "bom-a"
	bomB := model.NewBom()
	bomB.Key = "bom-b"

	store := &mockServerStore{
		pendingBoms: func(ctx context.Context) ([]*model.Bom, error) {
			return []*model.Bom{bomA, bomB}, nil
		},
	}
	runner := &mockRunner{}
	srv, logs := observedServer(store, runner)

	srv.enrichPendingBoms()

	assert.Equal(t, []string{"bom-a", "bom-b"}, runner.ranBoms)
	assert.Zero(t, logs.Len())
}

func TestEnrichPendingBomsLogsRunFailure(t *testing.T) {
	bom := model.NewBom()
	bom.Key = "bom-a"
	store := &mockServerStore{
		pendingBoms: func(ctx context.Context) ([]*model.Bom, error) {
			return []*model.Bom{bom}, nil
		},
	}
	runner := &mockRunner{err: errors.New("503 service unavailable")}
	srv, logs := observedServer(store, runner)

	srv.enrichPendingBoms()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scheduled enrichment failed", logs.All()[0].Message)
}

func TestRetryFailedRunsLogsStoreError(t *testing.T) {
	store := &mockServerStore{
		findFailedRuns: func(ctx context.Context) ([]*model.EnrichmentRun, error) {
			return nil, errors.New("connection refused")
		},
	}
	runner := &mockRunner{}
	srv, logs := observedServer(store, runner)

	srv.retryFailedRuns()

	assert.Empty(t, runner.ranBoms)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to list failed runs", logs.All()[0].Message)
}

func TestRetryFailedRunsDeduplicatesByBom(t *testing.T) {
	store := &mockServerStore{
		findFailedRuns: func(ctx context.Context) ([]*model.EnrichmentRun, error) {
			return []*model.EnrichmentRun{failedRun("bom-a"), failedRun("bom-a"), failedRun("bom-b")}, nil
		},
		findLatestRunByBom: func(ctx context.Context, bomKey string) (*model.EnrichmentRun, error) {
			return failedRun(bomKey), nil
		},
	}
	runner := &mockRunner{}
	srv, _ := observedServer(store, runner)

	srv.retryFailedRuns()

	assert.Equal(t, []string{"bom-a", "bom-b"}, runner.ranBoms)
}

func TestRetryFailedRunsSkipsCompletedBoms(t *testing.T) {
	store := &mockServerStore{
		findFailedRuns: func(ctx context.Context) ([]*model.EnrichmentRun, error) {
			return []*model.EnrichmentRun{failedRun("bom-a")}, nil
		},
		findLatestRunByBom: func(ctx context.Context, bomKey string) (*model.EnrichmentRun, error) {
			// the bom failed once but a later run completed
			run := model.NewEnrichmentRun()
			run.BomKey = bomKey
			run.Status = model.RunStatusCompleted
			return run, nil
		},
	}
	runner := &mockRunner{}
	srv, _ := observedServer(store, runner)

	srv.retryFailedRuns()

	assert.Empty(t, runner.ranBoms)
}
