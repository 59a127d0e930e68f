package api

import (
	"github.com/google/uuid"
)

type Model struct {
	Id          uuid.UUID  `json:"id"`
	BaseModelId *uuid.UUID `json:"base_model_id,omitempty"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
}

// QASample is one training example assembled from an annotated record.
// AnswerStart/AnswerEnd are byte offsets into Context.
type QASample struct {
	Question    string `json:"question"`
	Context     string `json:"context"`
	AnswerText  string `json:"answer_text"`
	AnswerStart int    `json:"answer_start"`
	AnswerEnd   int    `json:"answer_end"`
}

// TrainConfig carries trainer hyperparameters. The zero value means "trainer
// defaults"; cmd tools can load it from a YAML file.
type TrainConfig struct {
	Epochs       int     `json:"epochs,omitempty" yaml:"epochs"`
	LearningRate float64 `json:"learning_rate,omitempty" yaml:"learning_rate"`
	BatchSize    int     `json:"batch_size,omitempty" yaml:"batch_size"`
	MaxSeqLength int     `json:"max_seq_length,omitempty" yaml:"max_seq_length"`
	DocStride    int     `json:"doc_stride,omitempty" yaml:"doc_stride"`
	WarmupRatio  float64 `json:"warmup_ratio,omitempty" yaml:"warmup_ratio"`
	EvalHoldout  float64 `json:"eval_holdout,omitempty" yaml:"eval_holdout"`
}

type FinetuneRequest struct {
	Name        string    `json:"name"`
	BaseModelId uuid.UUID `json:"base_model_id"`
	DatasetId   uuid.UUID `json:"dataset_id"`

	Config TrainConfig `json:"config,omitempty"`

	// Synthetic-data options; see internal/core/datagen.
	GenerateData      bool `json:"generate_data,omitempty"`
	RecordsToGenerate int  `json:"records_to_generate,omitempty"`
}

// FinetuneTaskConfig is the full task configuration persisted alongside a
// finetune task and handed to the worker.
type FinetuneTaskConfig struct {
	Train             TrainConfig `json:"train"`
	GenerateData      bool        `json:"generate_data,omitempty"`
	RecordsToGenerate int         `json:"records_to_generate,omitempty"`
}

type FinetuneResponse struct {
	ModelId uuid.UUID `json:"model_id"`
}

type PredictRequest struct {
	ModelId  uuid.UUID `json:"model_id"`
	Question string    `json:"question"`
	Context  string    `json:"context"`
}

type PredictResponse struct {
	Answer Answer `json:"answer"`
}
