package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/database"
	"github.com/hydrowatch/hydrorisk-backend/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteJobRepository(openTestDB(t))

	job := &models.AnalysisJob{
		ID:         "job-1",
		Kind:       "starkregen",
		SourceMode: "file",
		Status:     models.JobStatusPending,
		ParamsJSON: `{"threshold":200}`,
	}
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.Create(ctx, &models.AnalysisJob{ID: "job-2", Kind: "erosion", Status: models.JobStatusPending}))

	got, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "starkregen", got.Kind)
	assert.Equal(t, `{"threshold":200}`, got.ParamsJSON)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, repo.UpdateProgress(ctx, "job-1", models.JobProgress{Stage: "accumulate", Percent: 40, Message: "Fließakkumulation"}))
	got, err = repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProgressPercent)
	assert.Equal(t, "accumulate", got.Stage)

	got.Status = models.JobStatusCompleted
	got.ProgressPercent = 100
	got.ResultJSON = `{"type":"FeatureCollection"}`
	require.NoError(t, repo.Update(ctx, got))

	done, err := repo.List(ctx, "", models.JobStatusCompleted, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, `{"type":"FeatureCollection"}`, done[0].ResultJSON)

	all, err := repo.List(ctx, "", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	erosion, err := repo.List(ctx, "erosion", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, erosion, 1)
	assert.Equal(t, "job-2", erosion[0].ID)
}

func TestSQLiteJobRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteJobRepository(openTestDB(t))

	_, err := repo.GetByID(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	err = repo.Update(ctx, &models.AnalysisJob{ID: "missing", Status: models.JobStatusFailed})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestMosaicRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMosaicRepository(openTestDB(t))

	b, err := repo.GetMosaic(ctx, "wcs|k")
	require.NoError(t, err)
	assert.Nil(t, b)

	blob := &models.MosaicBlob{Key: "wcs|k", Source: "wcs", Grid: []byte("ncols 1\n"), CRS: "EPSG:25832", Tiles: 4, MissingTiles: 1, CoverageRatio: 0.75}
	require.NoError(t, repo.PutMosaic(ctx, blob))
	blob.CoverageRatio = 0.8
	require.NoError(t, repo.PutMosaic(ctx, blob))

	got, err := repo.GetMosaic(ctx, "wcs|k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("ncols 1\n"), got.Grid)
	assert.Equal(t, "EPSG:25832", got.CRS)
	assert.Equal(t, 4, got.Tiles)
	assert.Equal(t, 0.8, got.CoverageRatio)
}
