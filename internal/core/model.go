package core

import (
	"qa-backend/internal/core/python"
	"qa-backend/pkg/api"
)

// ModelType represents the type of span-extraction model
type ModelType string

// Available model types
const (
	OnnxQA   ModelType = "onnx_qa"
	PythonQA ModelType = "python_qa"
)

// Model is a question-answering model that locates an answer span inside a
// context passage. Finetune and Save are only supported by trainable
// implementations; the others return an error.
type Model interface {
	Predict(question, context string) (api.Answer, error)

	Finetune(samples []api.QASample, config api.TrainConfig) error

	Save(path string) error

	Release()
}

type ModelLoader func(string) (Model, error)

func ParseModelType(s string) ModelType {
	switch s {
	case "python_qa", "python":
		return PythonQA
	default:
		return OnnxQA
	}
}

func NewModelLoaders(pythonExec, pluginScript string) map[ModelType]ModelLoader {
	return map[ModelType]ModelLoader{
		OnnxQA: func(modelDir string) (Model, error) {
			return LoadOnnxModel(modelDir)
		},
		PythonQA: func(modelDir string) (Model, error) {
			return python.LoadPythonModel(pythonExec, pluginScript, modelDir)
		},
	}
}
