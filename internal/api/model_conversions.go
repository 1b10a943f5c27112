package api

import (
	"fedtext-backend/internal/database"
	"fedtext-backend/pkg/api"

	"github.com/google/uuid"
)

func toApiJob(job database.TrainJob) api.TrainJob {
	out := api.TrainJob{
		Id:             job.Id,
		Name:           job.Name,
		Status:         job.Status,
		ClientId:       job.ClientId,
		NumClients:     job.NumClients,
		Epochs:         job.Epochs,
		BatchSize:      job.BatchSize,
		LearningRate:   job.LearningRate,
		MaxSeqLen:      job.MaxSeqLen,
		DirichletAlpha: job.DirichletAlpha,
		Seed:           job.Seed,
		CreationTime:   job.CreationTime,
	}

	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		out.CompletionTime = &t
	}
	if job.Error.Valid {
		out.Error = job.Error.String
	}

	return out
}

func toApiMetrics(jobId uuid.UUID, metrics []database.JobMetric) api.JobMetricsResponse {
	out := api.JobMetricsResponse{
		JobId:   jobId,
		Metrics: make([]api.EpochMetric, len(metrics)),
	}

	for i, m := range metrics {
		out.Metrics[i] = api.EpochMetric{
			Phase: m.Phase,
			Epoch: m.Epoch,
			Loss:  m.Loss,
		}
		if m.Accuracy.Valid {
			out.Metrics[i].Accuracy = m.Accuracy.Float64
		}
	}

	return out
}
