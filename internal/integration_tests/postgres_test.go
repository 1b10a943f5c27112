package integrationtests

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"fedtext-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestPostgresSchema(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	uri := setupPostgresContainer(t, ctx)

	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	jobId := uuid.New()
	job := database.TrainJob{
		Id:             jobId,
		Name:           "pg-run",
		Status:         database.JobQueued,
		CreationTime:   time.Now().UTC(),
		ClientId:       0,
		NumClients:     2,
		Epochs:         3,
		BatchSize:      32,
		LearningRate:   2e-5,
		MaxSeqLen:      64,
		DirichletAlpha: 1.0,
		Seed:           42,
		PartitionTask: &database.PartitionTask{
			JobId:        jobId,
			Status:       database.JobQueued,
			CreationTime: time.Now().UTC(),
		},
	}
	require.NoError(t, db.Create(&job).Error)

	require.NoError(t, database.UpdatePartitionTaskStatus(ctx, db, jobId, database.JobCompleted))
	require.NoError(t, database.SaveShardCounts(ctx, db, jobId, []int{90, 110}))

	require.NoError(t, database.SaveEpochMetric(ctx, db, database.JobMetric{
		JobId: jobId, Phase: database.PhaseTrain, Epoch: 0, Loss: 1.31, Batches: 7,
	}))
	require.NoError(t, database.SaveEpochMetric(ctx, db, database.JobMetric{
		JobId: jobId, Phase: database.PhaseTest, Epoch: 0, Loss: 1.12,
		Accuracy: sql.NullFloat64{Float64: 0.55, Valid: true}, Batches: 3,
	}))

	require.NoError(t, database.UpdateJobStatus(ctx, db, jobId, database.JobCompleted))

	var stored database.TrainJob
	require.NoError(t, db.Preload("PartitionTask").First(&stored, "id = ?", jobId).Error)

	assert.Equal(t, database.JobCompleted, stored.Status)
	assert.True(t, stored.CompletionTime.Valid)
	require.NotNil(t, stored.PartitionTask)
	assert.Equal(t, database.JobCompleted, stored.PartitionTask.Status)
	assert.JSONEq(t, `[90, 110]`, string(stored.PartitionTask.ShardCounts))

	metrics, err := database.GetJobMetrics(ctx, db, jobId)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, database.PhaseTrain, metrics[0].Phase)
	assert.Equal(t, database.PhaseTest, metrics[1].Phase)
	assert.True(t, metrics[1].Accuracy.Valid)

	// Deleting the job cascades to its dependent rows.
	require.NoError(t, db.Delete(&database.TrainJob{Id: jobId}).Error)

	var taskCount int64
	require.NoError(t, db.Model(&database.PartitionTask{}).Where("job_id = ?", jobId).Count(&taskCount).Error)
	assert.Equal(t, int64(0), taskCount)
}
