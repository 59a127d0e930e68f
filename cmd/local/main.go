package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"qa-backend/cmd"
	"qa-backend/internal/api"
	"qa-backend/internal/core"
	"qa-backend/internal/core/datagen"
	"qa-backend/internal/database"
	"qa-backend/internal/messaging"
	"qa-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	ort "github.com/yalue/onnxruntime_go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root             string `env:"ROOT" envDefault:"./qa-annotator"`
	Port             int    `env:"PORT" envDefault:"3001"`
	BaseModelDir     string `env:"BASE_MODEL_DIR,notEmpty,required"`
	BaseModelType    string `env:"BASE_MODEL_TYPE" envDefault:"onnx_qa"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
	PythonExecutable string `env:"PYTHON_EXECUTABLE" envDefault:"python3"`
	PluginScript     string `env:"PLUGIN_SCRIPT" envDefault:"plugin/plugin-python/plugin.py"`

	OpenAIAPIKey   string  `env:"OPENAI_API_KEY"`
	OpenAIModel    string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LLMThreshold   float64 `env:"SUGGESTION_LLM_THRESHOLD" envDefault:"0.3"`
	LLMTemperature float64 `env:"DATAGEN_TEMPERATURE" envDefault:"0.7"`
}

const modelBucket = "models"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "qa-annotator.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue requeues tasks that were still queued when the process last
// stopped, since the in-memory queue does not survive restarts.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var suggestionTasks []database.SuggestionTask
	if err := db.Where("status = ?", database.JobQueued).Find(&suggestionTasks).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	var finetuneTasks []database.FinetuneTask
	if err := db.Where("status = ?", database.JobQueued).Preload("Model").Find(&finetuneTasks).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, task := range suggestionTasks {
		if err := queue.PublishSuggestionTask(context.Background(), messaging.SuggestionTaskPayload{
			DatasetId: task.DatasetId,
			ModelId:   task.ModelId,
		}); err != nil {
			log.Fatalf("Failed to publish suggestion task: %v", err)
		}
	}

	for _, task := range finetuneTasks {
		if task.Model == nil || !task.Model.BaseModelId.Valid {
			slog.Warn("skipping queued finetune task without base model", "model_id", task.ModelId)
			continue
		}
		if err := queue.PublishFinetuneTask(context.Background(), messaging.FinetuneTaskPayload{
			ModelId:     task.ModelId,
			BaseModelId: task.Model.BaseModelId.UUID,
			DatasetId:   task.DatasetId,
		}); err != nil {
			log.Fatalf("Failed to publish finetune task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int, modelDir string, loaders map[core.ModelType]core.ModelLoader) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},                                       // Allow all origins (TODO: make this an env var)
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, // Allow all HTTP methods
		AllowedHeaders:   []string{"*"},                                       // Allow all headers
		ExposedHeaders:   []string{"*"},                                       // Expose all headers
		AllowCredentials: true,                                                // Allow cookies/auth headers
		MaxAge:           300,                                                 // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)                    // Log requests
	r.Use(middleware.Recoverer)                 // Recover from panics
	r.Use(middleware.Timeout(60 * time.Second)) // Set request timeout

	apiHandler := api.NewBackendService(db, queue, store, modelDir, modelBucket, loaders)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
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

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "base_model_dir", cfg.BaseModelDir, "base_model_type", cfg.BaseModelType)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	if err := cmd.InitializeBaseModel(context.Background(), db, store, modelBucket, "base", core.ParseModelType(cfg.BaseModelType), cfg.BaseModelDir); err != nil {
		log.Fatalf("Failed to init base model: %v", err)
	}

	queue := createQueue(db)

	var suggester core.Suggester
	var generator *datagen.Generator
	if cfg.OpenAIAPIKey != "" {
		suggester, err = core.NewLLMSuggester(cfg.OpenAIModel, cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to create LLM suggester: %v", err)
		}
		generator = datagen.NewGenerator(cfg.OpenAIModel, cfg.LLMTemperature)
	}

	loaders := core.NewModelLoaders(cfg.PythonExecutable, cfg.PluginScript)

	localModelDir := filepath.Join(cfg.Root, "models")

	worker := core.NewTaskProcessor(db, store, queue, queue, localModelDir, modelBucket, loaders, suggester, cfg.LLMThreshold, generator)

	server := createServer(db, store, queue, cfg.Port, localModelDir, loaders)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
