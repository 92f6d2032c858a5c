package provider

import "context"

// ChatPayload 单轮对话请求。
type ChatPayload struct {
	System     string
	User       string
	MaxTokens  int
	ExpectJSON bool
}

// ModelProvider 对外暴露的模型调用接口。
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// ChatClient 具体的 HTTP 客户端。
type ChatClient interface {
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// Model 将 ChatClient 包装为 ModelProvider。
type Model struct {
	id      string
	enabled bool
	client  ChatClient
}

func NewModel(id string, enabled bool, client ChatClient) *Model {
	return &Model{id: id, enabled: enabled, client: client}
}

func (p *Model) ID() string    { return p.id }
func (p *Model) Enabled() bool { return p.enabled && p.client != nil }
func (p *Model) Call(ctx context.Context, payload ChatPayload) (string, error) {
	return p.client.Call(ctx, payload)
}
