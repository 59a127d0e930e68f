package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qa-backend/internal/core"
	"qa-backend/internal/database"
	"qa-backend/internal/storage"
	"qa-backend/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// keywordModel answers by looking up the last word of the question in the
// context. Deterministic stand-in for a real span extraction model.
type keywordModel struct {
	score float64
}

func (m *keywordModel) Predict(question, context string) (api.Answer, error) {
	fields := strings.Fields(question)
	if len(fields) == 0 {
		return api.Answer{}, nil
	}
	keyword := strings.Trim(fields[len(fields)-1], "?")
	if idx := strings.Index(context, keyword); idx >= 0 {
		return api.Answer{Text: keyword, Score: m.score, Start: idx, End: idx + len(keyword)}, nil
	}
	return api.Answer{Score: m.score}, nil
}

func (m *keywordModel) Finetune(samples []api.QASample, config api.TrainConfig) error {
	return nil
}

func (m *keywordModel) Save(path string) error {
	return os.WriteFile(filepath.Join(path, "model.json"), []byte(`{"type": "keyword"}`), 0644)
}

func (m *keywordModel) Release() {}

func keywordModelLoaders(score float64) map[core.ModelType]core.ModelLoader {
	return map[core.ModelType]core.ModelLoader{
		core.OnnxQA: func(dir string) (core.Model, error) { return &keywordModel{score: score}, nil },
	}
}

const modelBucket = "test-model-bucket"

func createModel(t *testing.T, store storage.ObjectStore, db *gorm.DB) uuid.UUID {
	require.NoError(t, store.CreateBucket(context.Background(), modelBucket))

	modelId := uuid.New()
	err := store.PutObject(context.Background(), modelBucket, modelId.String()+"/model.json", strings.NewReader(`{"type": "keyword"}`))
	require.NoError(t, err)

	model := database.Model{
		Id:           modelId,
		Name:         "test-model",
		Type:         "onnx_qa",
		Status:       database.ModelTrained,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&model).Error)

	return modelId
}

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

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
