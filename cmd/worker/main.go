package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"qa-backend/cmd"
	"qa-backend/internal/core"
	"qa-backend/internal/core/datagen"
	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	ort "github.com/yalue/onnxruntime_go"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ModelBucket       string `env:"MODEL_BUCKET_NAME" envDefault:"models"`
	ModelDir          string `env:"MODEL_DIR" envDefault:"./models"`
	OnnxRuntimeDylib  string `env:"ONNX_RUNTIME_DYLIB"`
	PythonExecutable  string `env:"PYTHON_EXECUTABLE" envDefault:"python3"`
	PluginScript      string `env:"PLUGIN_SCRIPT" envDefault:"plugin/plugin-python/plugin.py"`

	OpenAIAPIKey   string  `env:"OPENAI_API_KEY"`
	OpenAIModel    string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LLMThreshold   float64 `env:"SUGGESTION_LLM_THRESHOLD" envDefault:"0.3"`
	LLMTemperature float64 `env:"DATAGEN_TEMPERATURE" envDefault:"0.7"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.OnnxRuntimeDylib != "" {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeDylib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}
	defer func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.Fatalf("error destroying onnx env: %v", err)
		}
	}()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create object store client: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to create RabbitMQ receiver: %v", err)
	}

	var suggester core.Suggester
	var generator *datagen.Generator
	if cfg.OpenAIAPIKey != "" {
		suggester, err = core.NewLLMSuggester(cfg.OpenAIModel, cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to create LLM suggester: %v", err)
		}
		generator = datagen.NewGenerator(cfg.OpenAIModel, cfg.LLMTemperature)
	} else {
		slog.Warn("OPENAI_API_KEY not set, LLM suggestion fallback and synthetic data generation are disabled")
	}

	loaders := core.NewModelLoaders(cfg.PythonExecutable, cfg.PluginScript)

	worker := core.NewTaskProcessor(db, store, publisher, reciever, cfg.ModelDir, cfg.ModelBucket, loaders, suggester, cfg.LLMThreshold, generator)

	go worker.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")

	worker.Stop()

	log.Println("Worker process stopped.")
}
