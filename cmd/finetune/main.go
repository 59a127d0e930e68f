package main

import (
	"context"
	"log"
	"time"

	"qa-backend/cmd"
	"qa-backend/internal/config"
	"qa-backend/internal/database"
	"qa-backend/pkg/api"
	"qa-backend/pkg/client"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

type FinetuneCliConfig struct {
	APIBaseURL string `env:"API_URL" envDefault:"http://localhost:3001/api/v1"`

	ModelName   string    `env:"MODEL_NAME,notEmpty,required"`
	DatasetId   uuid.UUID `env:"DATASET_ID,notEmpty,required"`
	BaseModelId uuid.UUID `env:"BASE_MODEL_ID,notEmpty,required"`

	// Path to a YAML file with trainer hyperparameters; trainer defaults
	// apply when unset.
	TrainConfigPath string `env:"TRAIN_CONFIG"`

	GenerateData      bool `env:"GENERATE_DATA" envDefault:"false"`
	RecordsToGenerate int  `env:"RECORDS_TO_GENERATE" envDefault:"0"`

	// When true the tool polls until the model reaches a terminal status.
	Wait         bool          `env:"WAIT" envDefault:"true"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
}

func main() {
	cmd.LoadEnvFile()

	var cfg FinetuneCliConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	var train api.TrainConfig
	if cfg.TrainConfigPath != "" {
		var err error
		if train, err = config.LoadTrainConfig(cfg.TrainConfigPath); err != nil {
			log.Fatalf("error loading train config: %v", err)
		}
	}

	ctx := context.Background()

	c := client.NewClient(cfg.APIBaseURL)

	modelId, err := c.SubmitFinetuneJob(ctx, api.FinetuneRequest{
		Name:              cfg.ModelName,
		BaseModelId:       cfg.BaseModelId,
		DatasetId:         cfg.DatasetId,
		Config:            train,
		GenerateData:      cfg.GenerateData,
		RecordsToGenerate: cfg.RecordsToGenerate,
	})
	if err != nil {
		log.Fatalf("error submitting finetune job: %v", err)
	}

	log.Printf("submitted finetune job, new model id %s", modelId)

	if !cfg.Wait {
		return
	}

	for {
		time.Sleep(cfg.PollInterval)

		model, err := c.GetModel(ctx, modelId)
		if err != nil {
			log.Fatalf("error polling model status: %v", err)
		}

		switch model.Status {
		case database.ModelTrained:
			log.Printf("model %s trained", modelId)
			return
		case database.ModelFailed:
			log.Fatalf("model %s failed to train", modelId)
		default:
			log.Printf("model %s status: %s", modelId, model.Status)
		}
	}
}
