package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fedtext-backend/internal/database"
	"fedtext-backend/internal/dataset"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gonum.org/v1/gonum/mat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	modelBucket   = "test-models"
	datasetBucket = "test-datasets"
)

// vocabEncoder tokenizes against a tiny fixed vocabulary. Words outside the
// vocabulary encode as 0 so only the class keywords carry signal.
type vocabEncoder struct {
	vocab map[string]int64
}

func newVocabEncoder() *vocabEncoder {
	return &vocabEncoder{vocab: map[string]int64{
		"summit": 1,
		"match":  2,
		"market": 3,
		"rocket": 4,
	}}
}

func (e *vocabEncoder) Encode(text string, maxSeqLen int) (dataset.Encoding, error) {
	enc := dataset.Encoding{
		InputIds:      make([]int64, maxSeqLen),
		TokenTypeIds:  make([]int64, maxSeqLen),
		AttentionMask: make([]int64, maxSeqLen),
	}

	words := strings.Fields(text)
	for i := 0; i < len(words) && i < maxSeqLen; i++ {
		enc.InputIds[i] = e.vocab[words[i]]
		enc.AttentionMask[i] = 1
	}

	return enc, nil
}

// countingEncoder produces bag-of-token count features, which makes the
// synthetic corpus linearly separable for the classification head.
type countingEncoder struct {
	hidden int
}

func (e *countingEncoder) HiddenSize() int { return e.hidden }

func (e *countingEncoder) Features(batch dataset.Batch) (*mat.Dense, error) {
	out := mat.NewDense(batch.Size, e.hidden, nil)
	for row := 0; row < batch.Size; row++ {
		for pos := 0; pos < batch.SeqLen; pos++ {
			idx := row*batch.SeqLen + pos
			if batch.AttentionMask[idx] == 0 {
				continue
			}
			if id := batch.InputIds[idx]; id > 0 {
				col := int(id) % e.hidden
				out.Set(row, col, out.At(row, col)+1)
			}
		}
	}
	return out, nil
}

var classKeywords = []string{"summit", "match", "market", "rocket"}

func syntheticExamples(perClass int) []dataset.Example {
	var examples []dataset.Example
	for i := 0; i < perClass; i++ {
		for label, keyword := range classKeywords {
			examples = append(examples, dataset.Example{
				Label: label,
				Text:  fmt.Sprintf("%s report number %d", keyword, i),
			})
		}
	}
	return examples
}

func writeCorpusCSV(examples []dataset.Example) string {
	var sb strings.Builder
	for _, ex := range examples {
		sb.WriteString(fmt.Sprintf("%d,%q,%q\n", ex.Label+1, ex.Text, "filler description"))
	}
	return sb.String()
}

// serveCorpus exposes synthetic train/test splits over HTTP in the same
// layout the dataset fetcher expects.
func serveCorpus(t *testing.T, trainPerClass, testPerClass int) string {
	t.Helper()

	files := map[string]string{
		"/train.csv": writeCorpusCSV(syntheticExamples(trainPerClass)),
		"/test.csv":  writeCorpusCSV(syntheticExamples(testPerClass)),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)

	return server.URL
}

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	return connStr
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
