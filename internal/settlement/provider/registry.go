package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"SettleFlow-Chain/internal/chains"
	"SettleFlow-Chain/internal/settlement"
	"SettleFlow-Chain/internal/settlement/ethereum"
)

// Config 描述注册表的构建参数。
type Config struct {
	ChainConfig  string
	DefaultChain string
	OperatorKey  string
}

// Registry manages a set of settlement clients keyed by chain names.
type Registry struct {
	defaultChain string
	clients      map[string]settlement.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	defs, err := chains.Load(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]settlement.Client)
	for name, chain := range defs.Chains {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:        name,
			RPCURL:      chain.RPCURL,
			ChainID:     chain.ChainID,
			OperatorKey: cfg.OperatorKey,
			NativeAsset: chain.NativeAsset,
			Tokens:      chain.Tokens,
			Routers:     chain.Routers,
			Notes:       chain.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// NewStaticRegistry 直接用现成的客户端构建注册表，主要用于测试。
func NewStaticRegistry(defaultChain string, clients map[string]settlement.Client) *Registry {
	return &Registry{defaultChain: defaultChain, clients: clients}
}

// DefaultChain 返回默认链名。
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (settlement.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the settlement client identified by chain name.
func (r *Registry) Client(name string) (settlement.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
