package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateModelStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == ModelTrained || status == ModelFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateFinetuneTaskStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&FinetuneTask{ModelId: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error updating finetune task status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateSuggestionTaskStatus(ctx context.Context, txn *gorm.DB, datasetId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&SuggestionTask{DatasetId: datasetId}).Updates(updates).Error; err != nil {
		slog.Error("error updating suggestion task status", "dataset_id", datasetId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveTaskError(ctx context.Context, txn *gorm.DB, datasetId uuid.UUID, errorMessage string) {
	taskError := TaskError{
		DatasetId: datasetId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&taskError).Error; err != nil {
		slog.Error("error saving task error", "dataset_id", datasetId, "error", err)
	}
}
