package shared

import (
	"net/rpc"

	"qa-backend/pkg/api"
)

type PredictArgs struct {
	Question string
	Context  string
}

type FinetuneArgs struct {
	Samples []api.QASample
	Config  api.TrainConfig
}

// RPCClient is an implementation of Model that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Predict(question, context string) (api.Answer, error) {
	var resp api.Answer
	err := m.client.Call("Plugin.Predict", PredictArgs{Question: question, Context: context}, &resp)
	return resp, err
}

func (m *RPCClient) Finetune(samples []api.QASample, config api.TrainConfig) error {
	var resp struct{}
	return m.client.Call("Plugin.Finetune", FinetuneArgs{Samples: samples, Config: config}, &resp)
}

func (m *RPCClient) Save(dir string) error {
	var resp struct{}
	return m.client.Call("Plugin.Save", dir, &resp)
}

// Here is the RPC server that RPCClient talks to, conforming to
// the requirements of net/rpc
type RPCServer struct {
	// This is the real implementation
	Impl Model
}

func (m *RPCServer) Predict(args PredictArgs, resp *api.Answer) error {
	v, err := m.Impl.Predict(args.Question, args.Context)
	*resp = v
	return err
}

func (m *RPCServer) Finetune(args FinetuneArgs, resp *struct{}) error {
	return m.Impl.Finetune(args.Samples, args.Config)
}

func (m *RPCServer) Save(dir string, resp *struct{}) error {
	return m.Impl.Save(dir)
}
