package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueRoundtrip(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	jobId := uuid.New()
	require.NoError(t, queue.PublishPartitionTask(context.Background(), PartitionTaskPayload{JobId: jobId}))
	require.NoError(t, queue.PublishTrainTask(context.Background(), TrainTaskPayload{JobId: jobId}))

	task := <-queue.Tasks()
	assert.Equal(t, PartitionQueue, task.Type())

	var partitionPayload PartitionTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &partitionPayload))
	assert.Equal(t, jobId, partitionPayload.JobId)
	assert.NoError(t, task.Ack())

	task = <-queue.Tasks()
	assert.Equal(t, TrainQueue, task.Type())

	var trainPayload TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &trainPayload))
	assert.Equal(t, jobId, trainPayload.JobId)
	assert.NoError(t, task.Nack())
}

func TestInMemoryQueueCloseEndsIteration(t *testing.T) {
	queue := NewInMemoryQueue()
	tasks := queue.Tasks()
	queue.Close()

	_, open := <-tasks
	assert.False(t, open)
}
