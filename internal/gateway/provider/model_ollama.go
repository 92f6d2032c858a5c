package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dcaengine/internal/logger"
)

// 中文说明：
// 本地 Ollama /api/generate 客户端（非流式）。
// 采样参数与历史配置一致：temperature 0.7、top_p 0.9、top_k 40、最多 1000 tokens。

type OllamaClient struct {
	Model  string
	client *resty.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaClient{Model: model, client: c}
}

func (c *OllamaClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("ollama client 未初始化")
	}
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	body := ollamaRequest{
		Model:  c.Model,
		Prompt: payload.User,
		System: payload.System,
		Options: ollamaOptions{
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  maxTokens,
		},
	}
	if payload.ExpectJSON {
		body.Format = "json"
	}
	logger.LogLLMPayload("ollama "+c.Model, payload.User)

	var out ollamaResponse
	resp, err := c.client.R().
		SetContext(ensureCtx(ctx)).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&out).
		SetError(&out).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama 请求失败: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("ollama status=%d: %s", resp.StatusCode(), msg)
	}
	logger.LogLLMPayload("ollama "+c.Model+" 响应", out.Response)
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("ollama 返回空响应")
	}
	return out.Response, nil
}

// Ping 检查服务可用性（GET /api/tags）。
func (c *OllamaClient) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ollama client 未初始化")
	}
	resp, err := c.client.R().SetContext(ensureCtx(ctx)).Get("/api/tags")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ollama status=%d", resp.StatusCode())
	}
	return nil
}
