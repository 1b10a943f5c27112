package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

const (
	PhaseTrain string = "TRAIN"
	PhaseTest  string = "TEST"
)

type TrainJob struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	ClientId       int
	NumClients     int
	Epochs         int
	BatchSize      int
	LearningRate   float64
	MaxSeqLen      int
	DirichletAlpha float64
	Seed           int64

	ArtifactPath sql.NullString
	Error        sql.NullString

	PartitionTask *PartitionTask `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Metrics       []JobMetric    `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	TrainedModel  *TrainedModel  `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type PartitionTask struct {
	JobId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	// Per-client example counts, e.g. [61234, 58766].
	ShardCounts datatypes.JSON
}

type JobMetric struct {
	JobId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Phase string    `gorm:"size:10;primaryKey"`
	Epoch int       `gorm:"primaryKey"`

	Loss     float64
	Accuracy sql.NullFloat64
	Batches  int
}

type TrainedModel struct {
	JobId uuid.UUID `gorm:"type:uuid;primaryKey"`

	ArtifactPath string `gorm:"not null"`
	HiddenSize   int
	NumLabels    int
	CreationTime time.Time

	// Topic names in label order, e.g. ["World", "Sports", ...].
	Labels datatypes.JSON
}
