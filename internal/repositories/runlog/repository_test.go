package runlog

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db, err := database.Open(context.Background(), database.ConnectionConfig{Driver: "sqlite"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../../migrations"})
	require.NoError(t, migrations.Migrate(db))
	return NewRepository(db, logger)
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	summary := models.NewRunSummary()
	require.NoError(t, repo.Save(ctx, summary))

	summary.AddRows("gene", 42)
	summary.AddFailure(models.Failure{Stage: "melt", Collection: "Dataset", DocumentID: "D1", FilePath: "s3://matrices/d1.parquet", Message: "unknown analyte G9"})
	summary.Finish()
	require.NoError(t, repo.Save(ctx, summary))

	run, err := repo.Get(ctx, summary.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, int64(42), run.TableCounts.Data["gene"])
	require.Len(t, run.Failures.Data, 1)
	assert.Equal(t, "D1", run.Failures.Data[0].DocumentID)
	assert.NotNil(t, run.FinishedAt)
}

func TestRepository_GetErrors(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{name: "invalid id", id: "not-a-uuid", status: http.StatusBadRequest},
		{name: "missing run", id: "6f1c1c7e-8d4e-4b6e-9a51-0f2d8a4c9b11", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Get(ctx, tt.id)
			require.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, tt.status, httperror.GetStatusCode(err))
		})
	}
}

func TestRepository_List(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(ctx, models.NewRunSummary()))
	}

	runs, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
