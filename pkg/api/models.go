package api

import (
	"time"

	"github.com/google/uuid"
)

// TrainRequest submits a federated training job for one simulated client.
// Zero-valued hyperparameters fall back to the server's configured defaults.
type TrainRequest struct {
	JobName        string  `json:"job_name"`
	ClientId       int     `json:"client_id"`
	NumClients     int     `json:"num_clients,omitempty"`
	Epochs         int     `json:"epochs,omitempty"`
	BatchSize      int     `json:"batch_size,omitempty"`
	LearningRate   float64 `json:"learning_rate,omitempty"`
	MaxSeqLen      int     `json:"max_seq_len,omitempty"`
	DirichletAlpha float64 `json:"dirichlet_alpha,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
}

type TrainSubmitResponse struct {
	Message string    `json:"message"`
	JobId   uuid.UUID `json:"job_id"`
}

type TrainJob struct {
	Id             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	ClientId       int        `json:"client_id"`
	NumClients     int        `json:"num_clients"`
	Epochs         int        `json:"epochs"`
	BatchSize      int        `json:"batch_size"`
	LearningRate   float64    `json:"learning_rate"`
	MaxSeqLen      int        `json:"max_seq_len"`
	DirichletAlpha float64    `json:"dirichlet_alpha"`
	Seed           int64      `json:"seed"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// EpochMetric is one progress record: a per-epoch training loss, or the final
// test metrics when Phase is "test".
type EpochMetric struct {
	Phase    string  `json:"phase"`
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

type JobMetricsResponse struct {
	JobId   uuid.UUID     `json:"job_id"`
	Metrics []EpochMetric `json:"metrics"`
}

type ClassifyRequest struct {
	JobId uuid.UUID `json:"job_id"`
	Text  string    `json:"text"`
}

type ClassifyResponse struct {
	Label  string             `json:"label"`
	Scores map[string]float64 `json:"scores"`
}
