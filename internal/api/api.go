package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/database"
	"fedtext-backend/internal/messaging"
	"fedtext-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClassifierLoader builds a serving classifier for a completed job's
// artifact. Implemented by core.TaskProcessor; nil when the deployment has no
// local encoder.
type ClassifierLoader interface {
	LoadClassifier(ctx context.Context, jobId uuid.UUID) (*core.Classifier, error)
}

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	defaults  config.Config

	loader      ClassifierLoader
	classifiers sync.Map // uuid.UUID -> *core.Classifier
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher, defaults config.Config, loader ClassifierLoader) *BackendService {
	return &BackendService{db: db, publisher: pub, defaults: defaults, loader: loader}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTrainJob))
		r.Get("/", RestHandler(s.ListTrainJobs))
		r.Get("/{job_id}", RestHandler(s.GetTrainJob))
		r.Get("/{job_id}/metrics", RestHandler(s.GetJobMetrics))
	})
	r.Post("/classify", RestHandler(s.Classify))
}

func (s *BackendService) SubmitTrainJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	if req.JobName == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "job_name is required")
	}
	if err := validateName(req.JobName); err != nil {
		return nil, err
	}

	job := s.jobFromRequest(req)
	if job.ClientId < 0 || job.ClientId >= job.NumClients {
		return nil, CodedErrorf(http.StatusBadRequest, "client_id %d out of range for %d clients", job.ClientId, job.NumClients)
	}
	if job.Epochs < 1 || job.BatchSize < 1 || job.MaxSeqLen < 1 {
		return nil, CodedErrorf(http.StatusBadRequest, "epochs, batch_size, and max_seq_len must be >= 1")
	}
	if job.LearningRate <= 0 || job.DirichletAlpha <= 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "learning_rate and dirichlet_alpha must be > 0")
	}

	ctx := r.Context()

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating train job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create train job entry")
	}

	if err := s.publisher.PublishPartitionTask(ctx, messaging.PartitionTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing partition task", "job_id", job.Id, "error", err)
		database.UpdateJobStatus(ctx, s.db, job.Id, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue partition task")
	}

	slog.Info("submitted train job", "job_id", job.Id, "name", job.Name, "client_id", job.ClientId)
	return api.TrainSubmitResponse{Message: "Training job submitted", JobId: job.Id}, nil
}

func (s *BackendService) jobFromRequest(req api.TrainRequest) database.TrainJob {
	job := database.TrainJob{
		Id:             uuid.New(),
		Name:           req.JobName,
		Status:         database.JobQueued,
		CreationTime:   time.Now().UTC(),
		ClientId:       req.ClientId,
		NumClients:     s.defaults.NumClients,
		Epochs:         s.defaults.Epochs,
		BatchSize:      s.defaults.BatchSize,
		LearningRate:   s.defaults.LearningRate,
		MaxSeqLen:      s.defaults.MaxSeqLen,
		DirichletAlpha: s.defaults.DirichletAlpha,
		Seed:           s.defaults.Seed,
	}

	if req.NumClients > 0 {
		job.NumClients = req.NumClients
	}
	if req.Epochs > 0 {
		job.Epochs = req.Epochs
	}
	if req.BatchSize > 0 {
		job.BatchSize = req.BatchSize
	}
	if req.LearningRate > 0 {
		job.LearningRate = req.LearningRate
	}
	if req.MaxSeqLen > 0 {
		job.MaxSeqLen = req.MaxSeqLen
	}
	if req.DirichletAlpha > 0 {
		job.DirichletAlpha = req.DirichletAlpha
	}
	if req.Seed != 0 {
		job.Seed = req.Seed
	}

	// The partition task for a job is created up front so its status is
	// visible immediately.
	job.PartitionTask = &database.PartitionTask{
		JobId:        job.Id,
		Status:       database.JobQueued,
		CreationTime: job.CreationTime,
	}

	return job
}

func (s *BackendService) ListTrainJobs(r *http.Request) (any, error) {
	ctx := r.Context()

	var jobs []database.TrainJob
	if err := s.db.WithContext(ctx).Order("creation_time desc").Find(&jobs).Error; err != nil {
		slog.Error("error listing train jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train jobs")
	}

	out := make([]api.TrainJob, len(jobs))
	for i, job := range jobs {
		out[i] = toApiJob(job)
	}
	return out, nil
}

func (s *BackendService) GetTrainJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.TrainJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "train job not found")
		}
		slog.Error("error getting train job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train job record")
	}

	return toApiJob(job), nil
}

func (s *BackendService) GetJobMetrics(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.TrainJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "train job not found")
		}
		slog.Error("error getting train job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train job record")
	}

	metrics, err := database.GetJobMetrics(ctx, s.db, jobId)
	if err != nil {
		slog.Error("error getting job metrics", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job metrics")
	}

	return toApiMetrics(jobId, metrics), nil
}

func (s *BackendService) Classify(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ClassifyRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Text == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "text is required")
	}
	if s.loader == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "classification is not available on this deployment")
	}

	ctx := r.Context()

	var job database.TrainJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", req.JobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "train job not found")
		}
		slog.Error("error getting train job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving train job record")
	}

	if job.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: job has status %s", job.Status)
	}

	classifier, err := s.getClassifier(ctx, req.JobId)
	if err != nil {
		slog.Error("error loading classifier", "job_id", req.JobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading model artifact")
	}

	label, scores, err := classifier.Predict(req.Text)
	if err != nil {
		slog.Error("error running classification", "job_id", req.JobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error running classification")
	}

	return api.ClassifyResponse{Label: label, Scores: scores}, nil
}

func (s *BackendService) getClassifier(ctx context.Context, jobId uuid.UUID) (*core.Classifier, error) {
	if cached, ok := s.classifiers.Load(jobId); ok {
		return cached.(*core.Classifier), nil
	}

	classifier, err := s.loader.LoadClassifier(ctx, jobId)
	if err != nil {
		return nil, err
	}

	s.classifiers.Store(jobId, classifier)
	return classifier, nil
}
