package shared

import (
	"net/rpc"

	"qa-backend/pkg/api"

	"github.com/hashicorp/go-plugin"
)

// Handshake is shared between the host process and the python trainer plugin.
// The python side must echo the magic cookie for the connection to be
// accepted.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "QA_MODEL_PLUGIN",
	MagicCookieValue: "c3b1f3de-qa-model",
}

var PluginMap = map[string]plugin.Plugin{
	"qa_model": &ModelPlugin{},
}

// Model is the interface served by the plugin process.
type Model interface {
	Predict(question, context string) (api.Answer, error)

	Finetune(samples []api.QASample, config api.TrainConfig) error

	Save(dir string) error
}

type ModelPlugin struct {
	Impl Model
}

func (p *ModelPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *ModelPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}
