package advisory

import (
	"fmt"
	"time"

	"dcaengine/internal/config"
	"dcaengine/internal/gateway/provider"
	"dcaengine/internal/logger"
)

// Build 根据配置构造顾问；未启用或没有可用 provider 时返回 nil（纯技术面）。
func Build(cfg config.AdvisoryConfig) (*Ensemble, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	timeout := cfg.Timeout()
	var advisors []Named
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		a, err := buildOne(p, timeout, cfg.MaxRetries, cfg.SystemPrompt)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, a)
		logger.Infof("✓ 顾问已启用: %s (%s %s)", p.ID, p.Kind, p.Model)
	}
	if len(advisors) == 0 {
		logger.Warnf("advisory.enabled=true 但没有启用的 provider，使用纯技术面")
		return nil, nil
	}
	return NewEnsemble(NewAggregator(cfg.Aggregation), advisors...), nil
}

func buildOne(p config.ProviderConfig, timeout time.Duration, retries int, system string) (Named, error) {
	switch p.Kind {
	case "ollama":
		c := provider.NewOllamaClient(p.BaseURL, p.Model, timeout)
		return NewModelAdvisor(provider.NewModel(p.ID, true, c), system), nil
	case "openai":
		c := &provider.OpenAIChatClient{
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			Model:        p.Model,
			Timeout:      timeout,
			MaxRetries:   retries,
			ExtraHeaders: p.Headers,
		}
		return NewModelAdvisor(provider.NewModel(p.ID, true, c), system), nil
	case "rules":
		return RulesAdvisor{}, nil
	default:
		return nil, fmt.Errorf("未知顾问类型: %s", p.Kind)
	}
}
