package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating train job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdatePartitionTaskStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PartitionTask{JobId: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating partition task status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	update := map[string]any{"error": sql.NullString{String: errorMessage, Valid: true}}
	if err := txn.WithContext(ctx).Model(&TrainJob{Id: jobId}).Updates(update).Error; err != nil {
		slog.Error("error saving train job error", "job_id", jobId, "error", err)
	}
}

func SaveShardCounts(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, counts []int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("could not marshal shard counts: %w", err)
	}

	if err := txn.WithContext(ctx).Model(&PartitionTask{JobId: jobId}).Update("shard_counts", data).Error; err != nil {
		return fmt.Errorf("could not save shard counts for job %s: %w", jobId, err)
	}
	return nil
}

func SaveEpochMetric(ctx context.Context, txn *gorm.DB, metric JobMetric) error {
	if err := txn.WithContext(ctx).Create(&metric).Error; err != nil {
		return fmt.Errorf("could not save %s metric for job %s epoch %d: %w", metric.Phase, metric.JobId, metric.Epoch, err)
	}
	return nil
}

func GetJobMetrics(ctx context.Context, db *gorm.DB, jobId uuid.UUID) ([]JobMetric, error) {
	var metrics []JobMetric
	if err := db.WithContext(ctx).
		Where("job_id = ?", jobId).
		Order("phase desc, epoch asc").
		Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("could not query metrics for job %s: %w", jobId, err)
	}
	return metrics, nil
}
