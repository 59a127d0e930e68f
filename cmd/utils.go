package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"qa-backend/internal/core"
	"qa-backend/internal/database"
	"qa-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// InitializeBaseModel registers a pretrained model under the given name and
// uploads its weights to the model bucket if they are not there yet. localDir
// must contain the model artifacts (for ONNX models, model.onnx and
// tokenizer.json).
func InitializeBaseModel(ctx context.Context, db *gorm.DB, store storage.ObjectStore, bucket, name string, modelType core.ModelType, localDir string) error {
	var model database.Model
	err := db.Where("name = ?", name).First(&model).Error

	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return fmt.Errorf("error querying model: %w", err)
	}

	if isNew {
		model.Id = uuid.New()
		model.Name = name
		model.Type = string(modelType)
		model.Status = database.ModelTrained
		model.CreationTime = time.Now().UTC()

		if err := db.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to create model record: %w", err)
		}
	}

	objs, err := store.ListObjects(ctx, bucket, model.Id.String()+"/")
	if err != nil {
		slog.Error("failed to list objects for model", "model_id", model.Id, "error", err)
	} else if len(objs) > 0 {
		slog.Info("model already uploaded, skipping upload", "model_id", model.Id)
		return nil
	}

	if err := store.UploadDir(ctx, bucket, model.Id.String(), localDir); err != nil {
		database.UpdateModelStatus(ctx, db, model.Id, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error uploading model artifacts: %w", err)
	}

	slog.Info("uploaded base model artifacts", "model_id", model.Id, "name", name)

	return nil
}
