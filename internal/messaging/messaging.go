package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	PartitionQueue  = "partition_queue"
	TrainQueue      = "train_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// PartitionTaskPayload asks a worker to shard the corpus for a job's
// federated partition.
type PartitionTaskPayload struct {
	JobId uuid.UUID
}

// TrainTaskPayload asks a worker to train the job's client shard.
type TrainTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishPartitionTask(ctx context.Context, payload PartitionTaskPayload) error

	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
