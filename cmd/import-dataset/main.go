package main

import (
	"context"
	"log"
	"os"
	"strings"

	"qa-backend/cmd"
	"qa-backend/internal/hub"
	"qa-backend/internal/importer"
	"qa-backend/pkg/api"
	"qa-backend/pkg/client"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

type ImportConfig struct {
	APIBaseURL  string `env:"API_URL" envDefault:"http://localhost:3001/api/v1"`
	DatasetName string `env:"DATASET_NAME,notEmpty,required"`

	// Hub import options.
	HubBaseURL     string `env:"HUB_BASE_URL"`
	HubFile        string `env:"HUB_FILE" envDefault:"train-v1.1"`
	IncludeAnswers bool   `env:"INCLUDE_ANSWERS" envDefault:"false"`
	MaxRecords     int    `env:"MAX_RECORDS" envDefault:"1000"`

	// PDF import options. If PDF_PATH is set the tool imports passages from
	// the document instead of downloading from the hub; QUESTIONS is a
	// semicolon-separated list asked of every passage.
	PDFPath   string `env:"PDF_PATH"`
	Questions string `env:"QUESTIONS"`
}

const uploadBatchSize = 100

func loadRecords(ctx context.Context, cfg ImportConfig) []api.RecordSeed {
	if cfg.PDFPath != "" {
		contents, err := os.ReadFile(cfg.PDFPath)
		if err != nil {
			log.Fatalf("error reading pdf '%s': %v", cfg.PDFPath, err)
		}

		var questions []string
		for _, q := range strings.Split(cfg.Questions, ";") {
			if q = strings.TrimSpace(q); q != "" {
				questions = append(questions, q)
			}
		}
		if len(questions) == 0 {
			log.Fatalf("QUESTIONS must be set when importing from a pdf")
		}

		records, err := importer.BuildRecords(contents, questions)
		if err != nil {
			log.Fatalf("error importing pdf: %v", err)
		}
		return records
	}

	records, err := hub.NewClient(cfg.HubBaseURL).Download(ctx, cfg.HubFile, cfg.IncludeAnswers)
	if err != nil {
		log.Fatalf("error downloading dataset: %v", err)
	}
	return records
}

func main() {
	cmd.LoadEnvFile()

	var cfg ImportConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ctx := context.Background()

	records := loadRecords(ctx, cfg)
	if cfg.MaxRecords > 0 && len(records) > cfg.MaxRecords {
		records = records[:cfg.MaxRecords]
	}
	if len(records) == 0 {
		log.Fatalf("no records to import")
	}

	c := client.NewClient(cfg.APIBaseURL)

	datasetId, err := c.CreateDataset(ctx, cfg.DatasetName)
	if err != nil {
		log.Fatalf("error creating dataset: %v", err)
	}

	log.Printf("created dataset %s, uploading %d records", datasetId, len(records))

	bar := progressbar.Default(int64(len(records)), "uploading records")

	for start := 0; start < len(records); start += uploadBatchSize {
		end := min(start+uploadBatchSize, len(records))

		count, err := c.UploadRecords(ctx, datasetId, records[start:end])
		if err != nil {
			log.Fatalf("error uploading records: %v", err)
		}
		bar.Add(count) //nolint:errcheck
	}

	log.Printf("imported %d records into dataset %s", len(records), datasetId)
}
