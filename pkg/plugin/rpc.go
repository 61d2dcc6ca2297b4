package plugin

import (
	"encoding/json"
	"fmt"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// ProviderPluginName is the dispense key for the tool provider.
const ProviderPluginName = "provider"

// Handshake verifies that plugin and host speak the same protocol.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FLEXYGENT_PLUGIN",
	MagicCookieValue: "flexygent-plugin-v1",
}

// PluginMap is the set of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	ProviderPluginName: &ToolProviderPlugin{},
}

// ToolProvider is the interface a plugin process serves. The host calls
// Execute once per tool invocation with the tool's manifest name.
type ToolProvider interface {
	Execute(name string, args map[string]any) (map[string]any, error)
}

// ToolProviderPlugin implements plugin.Plugin over NetRPC.
type ToolProviderPlugin struct {
	Impl ToolProvider
}

func (p *ToolProviderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &providerRPCServer{impl: p.Impl}, nil
}

func (p *ToolProviderPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &providerRPCClient{client: c}, nil
}

// ExecuteArgs carries one tool invocation over the wire. Args travel as
// JSON because gob cannot move arbitrary interface values.
type ExecuteArgs struct {
	Name string
	Args []byte
}

// ExecuteResp is the wire response for one invocation.
type ExecuteResp struct {
	Result []byte
	Err    *plugin.BasicError
}

type providerRPCServer struct {
	impl ToolProvider
}

func (s *providerRPCServer) Execute(args *ExecuteArgs, resp *ExecuteResp) error {
	var decoded map[string]any
	if len(args.Args) > 0 {
		if err := json.Unmarshal(args.Args, &decoded); err != nil {
			resp.Err = plugin.NewBasicError(fmt.Errorf("failed to decode args: %w", err))
			return nil
		}
	}

	result, err := s.impl.Execute(args.Name, decoded)
	if err != nil {
		resp.Err = plugin.NewBasicError(err)
		return nil
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		resp.Err = plugin.NewBasicError(fmt.Errorf("failed to encode result: %w", err))
		return nil
	}
	resp.Result = encoded

	return nil
}

type providerRPCClient struct {
	client *rpc.Client
}

func (c *providerRPCClient) Execute(name string, args map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode args: %w", err)
	}

	var resp ExecuteResp
	if err := c.client.Call("Plugin.Execute", &ExecuteArgs{Name: name, Args: encoded}, &resp); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	return result, nil
}

// Serve runs impl as a plugin process. Plugin main functions call this; it
// blocks until the host disconnects.
func Serve(impl ToolProvider) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			ProviderPluginName: &ToolProviderPlugin{Impl: impl},
		},
	})
}
