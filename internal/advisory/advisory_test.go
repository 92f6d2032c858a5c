package advisory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dcaengine/internal/config"
	"dcaengine/internal/decision"
	"dcaengine/internal/gateway/provider"
	"dcaengine/internal/market"
)

func TestParseVerdict(t *testing.T) {
	raw := "好的，以下是分析：\n```json\n{\"action\": \"strong_buy\", \"confidence\": 1.4, \"reasoning\": \"超卖反弹\", \"risk_level\": \"high\", \"price_prediction\": 42000.5}\n```"
	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if v.Action != decision.ActionStrongBuy || v.Confidence != 1 || v.Risk != decision.RiskHigh {
		t.Errorf("verdict = %+v", v)
	}
	if v.PricePrediction == nil || *v.PricePrediction != 42000.5 {
		t.Errorf("price prediction = %v", v.PricePrediction)
	}
}

func TestParseVerdictDefaults(t *testing.T) {
	v, err := ParseVerdict(`{"action": "ACCUMULATE"}`)
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != decision.ActionHold || v.Confidence != 0.5 || v.Risk != decision.RiskMedium || v.PricePrediction != nil {
		t.Errorf("defaults not applied: %+v", v)
	}
}

func TestParseVerdictErrors(t *testing.T) {
	for _, raw := range []string{"no json here", `{"confidence": 0.9}`, `{"action": BUY}`, "} {"} {
		if _, err := ParseVerdict(raw); !errors.Is(err, ErrUnavailable) {
			t.Errorf("ParseVerdict(%q) err = %v, want ErrUnavailable", raw, err)
		}
	}
}

type fakeClient struct {
	out string
	err error
}

func (f fakeClient) Call(ctx context.Context, p provider.ChatPayload) (string, error) {
	return f.out, f.err
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestModelAdvisor(t *testing.T) {
	mc := market.Context{Symbol: "BTCUSDT", Price: 100, Time: t0}
	a := NewModelAdvisor(provider.NewModel("m1", true, fakeClient{out: `{"action":"SELL","confidence":0.7}`}), "")
	v, err := a.Advise(context.Background(), mc)
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != decision.ActionSell || v.Source != "m1" || !v.DecidedAt.Equal(t0) {
		t.Errorf("verdict = %+v", v)
	}

	failing := NewModelAdvisor(provider.NewModel("m2", true, fakeClient{err: errors.New("boom")}), "")
	if _, err := failing.Advise(context.Background(), mc); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
	disabled := NewModelAdvisor(provider.NewModel("m3", false, fakeClient{}), "")
	if _, err := disabled.Advise(context.Background(), mc); !errors.Is(err, ErrUnavailable) {
		t.Errorf("disabled err = %v", err)
	}
}

type staticAdvisor struct {
	name string
	v    decision.Verdict
	err  error
}

func (s staticAdvisor) Name() string { return s.name }
func (s staticAdvisor) Advise(ctx context.Context, mc market.Context) (decision.Verdict, error) {
	return s.v, s.err
}

func TestEnsembleFirstWins(t *testing.T) {
	e := NewEnsemble(FirstWinsAggregator{},
		staticAdvisor{name: "a", err: errors.New("down")},
		staticAdvisor{name: "b", v: decision.Verdict{Action: decision.ActionBuy, Confidence: 0.7}},
		staticAdvisor{name: "c", v: decision.Verdict{Action: decision.ActionSell, Confidence: 0.9}},
	)
	v, err := e.Advise(context.Background(), market.Context{Time: t0})
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != decision.ActionBuy {
		t.Errorf("first-wins picked %s", v.Action)
	}
	if !v.DecidedAt.Equal(t0) {
		t.Errorf("decided at = %v", v.DecidedAt)
	}
}

func TestEnsembleMajority(t *testing.T) {
	e := NewEnsemble(MajorityAggregator{},
		staticAdvisor{name: "a", v: decision.Verdict{Action: decision.ActionSell, Confidence: 0.9, Risk: decision.RiskLow}},
		staticAdvisor{name: "b", v: decision.Verdict{Action: decision.ActionBuy, Confidence: 0.6, Risk: decision.RiskLow}},
		staticAdvisor{name: "c", v: decision.Verdict{Action: decision.ActionBuy, Confidence: 0.8, Risk: decision.RiskHigh}},
	)
	v, err := e.Advise(context.Background(), market.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != decision.ActionBuy || v.Risk != decision.RiskHigh {
		t.Errorf("majority = %+v", v)
	}
	if v.Confidence < 0.699 || v.Confidence > 0.701 || v.Source != "b,c" {
		t.Errorf("confidence=%v source=%s", v.Confidence, v.Source)
	}
}

func TestEnsembleAllFail(t *testing.T) {
	e := NewEnsemble(nil, staticAdvisor{name: "a", err: errors.New("x")})
	if _, err := e.Advise(context.Background(), market.Context{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
	var nilEnsemble *Ensemble
	if _, err := nilEnsemble.Advise(context.Background(), market.Context{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil ensemble err = %v", err)
	}
}

func TestRulesAdvisor(t *testing.T) {
	cases := []struct {
		name string
		mc   market.Context
		want decision.Action
	}{
		{"oversold", market.Context{Price: 90, Indicators: market.Indicators{RSI14: 25, BollLower: 95, BollUpper: 110}}, decision.ActionBuy},
		{"overbought", market.Context{Price: 120, Indicators: market.Indicators{RSI14: 80, BollLower: 95, BollUpper: 110}}, decision.ActionSell},
		{"crash", market.Context{Price: 100, ChangePct: -6, Indicators: market.Indicators{RSI14: 50}}, decision.ActionBuy},
		{"pump", market.Context{Price: 100, ChangePct: 6, Indicators: market.Indicators{RSI14: 50}}, decision.ActionSell},
		{"quiet", market.Context{Price: 100, Indicators: market.Indicators{RSI14: 50}}, decision.ActionHold},
	}
	for _, tc := range cases {
		v, err := RulesAdvisor{}.Advise(context.Background(), tc.mc)
		if err != nil {
			t.Fatal(err)
		}
		if v.Action != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, v.Action, tc.want)
		}
	}
	if r := rulesRisk(market.Context{Price: 100, Volatility: 6}); r != decision.RiskVeryHigh {
		t.Errorf("risk = %s", r)
	}
}

func TestBuild(t *testing.T) {
	cfg := config.Default().Advisory
	if e, err := Build(cfg); err != nil || e != nil {
		t.Fatalf("disabled advisory should build nil, got %v %v", e, err)
	}
	cfg.Enabled = true
	cfg.Providers = []config.ProviderConfig{
		{ID: "local", Kind: "ollama", Enabled: true, BaseURL: "http://127.0.0.1:1", Model: "m"},
		{ID: "rules", Kind: "rules", Enabled: true},
		{ID: "off", Kind: "openai", Enabled: false},
	}
	e, err := Build(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || len(e.Advisors) != 2 {
		t.Fatalf("ensemble = %+v", e)
	}
	if e.Name() != "ensemble/first-wins" {
		t.Errorf("name = %s", e.Name())
	}
}
