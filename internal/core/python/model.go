package python

import (
	"fmt"
	"os/exec"

	"qa-backend/pkg/api"
	"qa-backend/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

// TODO: this object is not thread-safe, implement a mutex to protect
// concurrent access to the plugin client APIs
type PythonModel struct {
	client *plugin.Client
	model  shared.Model
}

// LoadPythonModel launches the python trainer as a subprocess and connects to
// it over the plugin protocol. The model weights in modelDir are loaded by the
// python side.
func LoadPythonModel(pythonExecutable, pluginScript, modelDir string) (*PythonModel, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: shared.Handshake,
		Plugins:         shared.PluginMap,
		Cmd: exec.Command(
			pythonExecutable,
			pluginScript,
			"--model-dir", modelDir,
		),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense("qa_model")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", "qa_model", err)
	}

	model, ok := raw.(shared.Model)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Model (actual type: %T)", "qa_model", raw)
	}

	return &PythonModel{
		client: client,
		model:  model,
	}, nil
}

func (qa *PythonModel) Predict(question, context string) (api.Answer, error) {
	return qa.model.Predict(question, context)
}

func (qa *PythonModel) Finetune(samples []api.QASample, config api.TrainConfig) error {
	return qa.model.Finetune(samples, config)
}

func (qa *PythonModel) Save(path string) error {
	return qa.model.Save(path)
}

func (qa *PythonModel) Release() {
	if qa.client == nil {
		return
	}

	qa.client.Kill()
	qa.client = nil
	qa.model = nil
}
