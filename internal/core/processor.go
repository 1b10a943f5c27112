package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fedtext-backend/internal/database"
	"fedtext-backend/internal/dataset"
	"fedtext-backend/internal/dataset/agnews"
	"fedtext-backend/internal/messaging"
	"fedtext-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever

	fetcher        *agnews.Fetcher
	textEncoder    dataset.TextEncoder
	featureEncoder FeatureEncoder

	workDir       string
	modelBucket   string
	datasetBucket string
}

func NewTaskProcessor(
	db *gorm.DB,
	store storage.ObjectStore,
	publisher messaging.Publisher,
	reciever messaging.Reciever,
	fetcher *agnews.Fetcher,
	textEncoder dataset.TextEncoder,
	featureEncoder FeatureEncoder,
	workDir, modelBucket, datasetBucket string,
) *TaskProcessor {
	return &TaskProcessor{
		db:             db,
		storage:        store,
		publisher:      publisher,
		reciever:       reciever,
		fetcher:        fetcher,
		textEncoder:    textEncoder,
		featureEncoder: featureEncoder,
		workDir:        workDir,
		modelBucket:    modelBucket,
		datasetBucket:  datasetBucket,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.PartitionQueue:
		var payload messaging.PartitionTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling partition task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processPartitionTask(ctx, payload)

	case messaging.TrainQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) getJob(ctx context.Context, jobId uuid.UUID) (database.TrainJob, error) {
	var job database.TrainJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("train job not found", "job_id", jobId)
			return database.TrainJob{}, fmt.Errorf("train job not found: %w", err)
		}
		slog.Error("error getting train job", "job_id", jobId, "error", err)
		return database.TrainJob{}, fmt.Errorf("error getting train job: %w", err)
	}
	return job, nil
}

func shardKey(jobId uuid.UUID, clientId int) string {
	return fmt.Sprintf("%s/shards/client_%d.csv", jobId, clientId)
}

func artifactKey(jobId uuid.UUID) string {
	return fmt.Sprintf("%s/model.json", jobId)
}

// processPartitionTask splits the training corpus into per-client shards with
// Dirichlet label skew and stores each shard in the dataset bucket. On
// success a train task for the job's client is published.
func (proc *TaskProcessor) processPartitionTask(ctx context.Context, payload messaging.PartitionTaskPayload) error {
	jobId := payload.JobId

	slog.Info("processing partition task", "job_id", jobId)

	job, err := proc.getJob(ctx, jobId)
	if err != nil {
		return err
	}

	database.UpdatePartitionTaskStatus(ctx, proc.db, jobId, database.JobRunning) //nolint:errcheck

	fail := func(cause error) error {
		database.UpdatePartitionTaskStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed)           //nolint:errcheck
		database.SaveJobError(ctx, proc.db, jobId, cause.Error())
		return cause
	}

	examples, err := proc.fetcher.TrainSet(ctx)
	if err != nil {
		return fail(fmt.Errorf("error loading training corpus: %w", err))
	}

	partition, err := dataset.DirichletPartition(examples, job.NumClients, job.DirichletAlpha, job.Seed)
	if err != nil {
		return fail(fmt.Errorf("error partitioning corpus: %w", err))
	}

	shardDir := filepath.Join(proc.workDir, jobId.String(), "shards")
	if err := os.MkdirAll(shardDir, os.ModePerm); err != nil {
		return fail(fmt.Errorf("error creating shard directory: %w", err))
	}

	for client := 0; client < job.NumClients; client++ {
		shard, err := dataset.Shard(examples, partition, client)
		if err != nil {
			return fail(err)
		}

		path := filepath.Join(shardDir, fmt.Sprintf("client_%d.csv", client))
		if err := dataset.WriteCSVFile(path, shard); err != nil {
			return fail(err)
		}

		file, err := os.Open(path)
		if err != nil {
			return fail(fmt.Errorf("error reading shard file: %w", err))
		}
		err = proc.storage.PutObject(ctx, proc.datasetBucket, shardKey(jobId, client), file)
		file.Close()
		if err != nil {
			return fail(fmt.Errorf("error uploading shard: %w", err))
		}
	}

	counts := dataset.PartitionCounts(partition)
	if err := database.SaveShardCounts(ctx, proc.db, jobId, counts); err != nil {
		slog.Error("error recording shard counts", "job_id", jobId, "error", err)
	}

	if err := database.UpdatePartitionTaskStatus(ctx, proc.db, jobId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating partition task status: %w", err)
	}

	slog.Info("partition task completed", "job_id", jobId, "shard_counts", counts)

	if err := proc.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{JobId: jobId}); err != nil {
		return fail(fmt.Errorf("error publishing train task: %w", err))
	}

	return nil
}

// processTrainTask runs the full client training loop: download the shard,
// train the head for the configured epochs, evaluate on the test split, and
// upload the model artifact.
func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	jobId := payload.JobId

	slog.Info("processing train task", "job_id", jobId)

	job, err := proc.getJob(ctx, jobId)
	if err != nil {
		return err
	}

	database.UpdateJobStatus(ctx, proc.db, jobId, database.JobRunning) //nolint:errcheck

	fail := func(cause error) error {
		database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		database.SaveJobError(ctx, proc.db, jobId, cause.Error())
		return cause
	}

	jobDir := filepath.Join(proc.workDir, jobId.String())

	shardPath := filepath.Join(jobDir, fmt.Sprintf("client_%d.csv", job.ClientId))
	if err := proc.storage.DownloadObject(ctx, proc.datasetBucket, shardKey(jobId, job.ClientId), shardPath); err != nil {
		return fail(fmt.Errorf("error downloading client shard: %w", err))
	}

	shard, err := dataset.ReadCSVFile(shardPath)
	if err != nil {
		return fail(fmt.Errorf("error parsing client shard: %w", err))
	}

	testSet, err := proc.fetcher.TestSet(ctx)
	if err != nil {
		return fail(fmt.Errorf("error loading test split: %w", err))
	}

	loader, err := dataset.NewLoader(proc.textEncoder, job.BatchSize, job.MaxSeqLen)
	if err != nil {
		return fail(err)
	}

	params, err := NewHeadParams(proc.featureEncoder.HiddenSize(), dataset.NumLabels, job.Seed)
	if err != nil {
		return fail(err)
	}
	state := NewTrainState(params, DefaultAdamConfig(job.LearningRate))

	trainer, err := NewTrainer(proc.featureEncoder, loader, state, TrainerOptions{
		Epochs:        job.Epochs,
		CheckpointDir: filepath.Join(jobDir, "checkpoints"),
	})
	if err != nil {
		return fail(err)
	}

	epochs, err := trainer.Fit(ctx, shard)
	if err != nil {
		return fail(fmt.Errorf("training failed: %w", err))
	}

	for _, epoch := range epochs {
		metric := database.JobMetric{
			JobId:   jobId,
			Phase:   database.PhaseTrain,
			Epoch:   epoch.Epoch,
			Loss:    epoch.MeanLoss,
			Batches: epoch.Batches,
		}
		if err := database.SaveEpochMetric(ctx, proc.db, metric); err != nil {
			slog.Error("error saving train metric", "job_id", jobId, "epoch", epoch.Epoch, "error", err)
		}
	}

	eval, err := trainer.Evaluate(ctx, testSet)
	if err != nil {
		return fail(fmt.Errorf("evaluation failed: %w", err))
	}

	testMetric := database.JobMetric{
		JobId:    jobId,
		Phase:    database.PhaseTest,
		Epoch:    job.Epochs - 1,
		Loss:     eval.MeanLoss,
		Accuracy: sql.NullFloat64{Float64: eval.MeanAccuracy, Valid: true},
		Batches:  eval.Batches,
	}
	if err := database.SaveEpochMetric(ctx, proc.db, testMetric); err != nil {
		slog.Error("error saving test metric", "job_id", jobId, "error", err)
	}

	slog.Info("evaluation complete", "job_id", jobId, "test_loss", eval.MeanLoss, "test_accuracy", eval.MeanAccuracy)

	artifactPath := filepath.Join(jobDir, "model.json")
	if err := SaveCheckpoint(artifactPath, trainer.State()); err != nil {
		return fail(err)
	}

	artifact, err := os.Open(artifactPath)
	if err != nil {
		return fail(fmt.Errorf("error reading model artifact: %w", err))
	}
	err = proc.storage.PutObject(ctx, proc.modelBucket, artifactKey(jobId), artifact)
	artifact.Close()
	if err != nil {
		return fail(fmt.Errorf("error uploading model artifact: %w", err))
	}

	labels, err := json.Marshal(dataset.LabelNames)
	if err != nil {
		return fail(fmt.Errorf("error marshalling label names: %w", err))
	}

	trained := database.TrainedModel{
		JobId:        jobId,
		ArtifactPath: artifactKey(jobId),
		HiddenSize:   proc.featureEncoder.HiddenSize(),
		NumLabels:    dataset.NumLabels,
		CreationTime: time.Now().UTC(),
		Labels:       datatypes.JSON(labels),
	}
	if err := proc.db.WithContext(ctx).Create(&trained).Error; err != nil {
		return fail(fmt.Errorf("error saving trained model record: %w", err))
	}

	if err := proc.db.WithContext(ctx).Model(&database.TrainJob{Id: jobId}).
		Update("artifact_path", sql.NullString{String: artifactKey(jobId), Valid: true}).Error; err != nil {
		slog.Error("error recording artifact path", "job_id", jobId, "error", err)
	}

	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating job status after training: %w", err)
	}

	slog.Info("train task completed", "job_id", jobId)

	return nil
}

// LoadClassifier fetches a completed job's artifact and builds a serving
// classifier from it.
func (proc *TaskProcessor) LoadClassifier(ctx context.Context, jobId uuid.UUID) (*Classifier, error) {
	localPath := filepath.Join(proc.workDir, jobId.String(), "serving", "model.json")
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		slog.Info("model artifact not found locally, downloading", "job_id", jobId)

		if err := proc.storage.DownloadObject(ctx, proc.modelBucket, artifactKey(jobId), localPath); err != nil {
			return nil, fmt.Errorf("failed to download model artifact: %w", err)
		}
	}

	state, err := LoadCheckpoint(localPath)
	if err != nil {
		return nil, err
	}

	var job database.TrainJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		return nil, fmt.Errorf("error getting train job: %w", err)
	}

	return NewClassifier(proc.textEncoder, proc.featureEncoder, state.Params, job.MaxSeqLen)
}
