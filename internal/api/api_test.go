package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "fedtext-backend/internal/api"
	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/database"
	"fedtext-backend/internal/messaging"
	"fedtext-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func testDefaults() config.Config {
	return config.Config{
		NumClients:     2,
		Epochs:         3,
		BatchSize:      32,
		LearningRate:   2e-5,
		MaxSeqLen:      64,
		DirichletAlpha: 1.0,
		Seed:           42,
		HiddenSize:     768,
	}
}

func newRouter(db *gorm.DB, queue messaging.Publisher, loader backend.ClassifierLoader) *chi.Mux {
	service := backend.NewBackendService(db, queue, testDefaults(), loader)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func TestSubmitTrainJob(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router := newRouter(db, queue, nil)

	payload := api.TrainRequest{JobName: "client-0-run", ClientId: 1, Epochs: 5}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.TrainSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEqual(t, uuid.Nil, response.JobId)

	var job database.TrainJob
	require.NoError(t, db.Preload("PartitionTask").First(&job, "id = ?", response.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, 1, job.ClientId)
	assert.Equal(t, 5, job.Epochs)

	// Unset fields fall back to server defaults.
	assert.Equal(t, 2, job.NumClients)
	assert.Equal(t, 32, job.BatchSize)

	require.NotNil(t, job.PartitionTask)
	assert.Equal(t, database.JobQueued, job.PartitionTask.Status)

	task := <-queue.Tasks()
	assert.Equal(t, messaging.PartitionQueue, task.Type())
}

func TestSubmitTrainJobValidation(t *testing.T) {
	db := createDB(t)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	cases := []struct {
		name    string
		payload api.TrainRequest
	}{
		{"missing name", api.TrainRequest{ClientId: 0}},
		{"bad name", api.TrainRequest{JobName: "no spaces allowed"}},
		{"client out of range", api.TrainRequest{JobName: "run", ClientId: 5}},
		{"negative client id", api.TrainRequest{JobName: "run", ClientId: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := json.Marshal(tc.payload)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetTrainJob(t *testing.T) {
	jobId := uuid.New()
	db := createDB(t, &database.TrainJob{
		Id:           jobId,
		Name:         "run-1",
		Status:       database.JobRunning,
		ClientId:     0,
		NumClients:   2,
		Epochs:       3,
		CreationTime: time.Now().UTC(),
	})
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.TrainJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, jobId, response.Id)
	assert.Equal(t, "run-1", response.Name)
	assert.Equal(t, database.JobRunning, response.Status)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.New().String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTrainJobs(t *testing.T) {
	db := createDB(t,
		&database.TrainJob{Id: uuid.New(), Name: "a", Status: database.JobCompleted, CreationTime: time.Now().UTC()},
		&database.TrainJob{Id: uuid.New(), Name: "b", Status: database.JobQueued, CreationTime: time.Now().UTC()},
	)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response []api.TrainJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response, 2)
}

func TestGetJobMetrics(t *testing.T) {
	jobId := uuid.New()
	db := createDB(t,
		&database.TrainJob{Id: jobId, Name: "run", Status: database.JobCompleted, CreationTime: time.Now().UTC()},
		&database.JobMetric{JobId: jobId, Phase: database.PhaseTrain, Epoch: 0, Loss: 1.2, Batches: 10},
		&database.JobMetric{JobId: jobId, Phase: database.PhaseTrain, Epoch: 1, Loss: 0.9, Batches: 10},
		&database.JobMetric{JobId: jobId, Phase: database.PhaseTest, Epoch: 1, Loss: 0.95, Accuracy: sql.NullFloat64{Float64: 0.82, Valid: true}, Batches: 4},
	)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.JobMetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, jobId, response.JobId)
	require.Len(t, response.Metrics, 3)

	trainLosses := []float64{}
	for _, m := range response.Metrics {
		if m.Phase == database.PhaseTrain {
			trainLosses = append(trainLosses, m.Loss)
		} else {
			assert.InDelta(t, 0.82, m.Accuracy, 1e-9)
		}
	}
	assert.Equal(t, []float64{1.2, 0.9}, trainLosses)
}

type stubLoader struct {
	classifier *core.Classifier
}

func (s *stubLoader) LoadClassifier(ctx context.Context, jobId uuid.UUID) (*core.Classifier, error) {
	return s.classifier, nil
}

func TestClassifyRequiresCompletedJob(t *testing.T) {
	jobId := uuid.New()
	db := createDB(t, &database.TrainJob{Id: jobId, Name: "run", Status: database.JobRunning, CreationTime: time.Now().UTC()})
	router := newRouter(db, messaging.NewInMemoryQueue(), &stubLoader{})

	body, err := json.Marshal(api.ClassifyRequest{JobId: jobId, Text: "some headline"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClassifyUnavailableWithoutLoader(t *testing.T) {
	jobId := uuid.New()
	db := createDB(t, &database.TrainJob{Id: jobId, Name: "run", Status: database.JobCompleted, CreationTime: time.Now().UTC()})
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	body, err := json.Marshal(api.ClassifyRequest{JobId: jobId, Text: "some headline"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	db := createDB(t)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
