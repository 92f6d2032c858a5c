package decision

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"dcaengine/internal/market"
)

type stubAdvisor struct {
	mu      sync.Mutex
	calls   int
	verdict Verdict
	err     error
	block   bool
}

func (s *stubAdvisor) Advise(ctx context.Context, mc market.Context) (Verdict, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	}
	return s.verdict, s.err
}

type recorder struct{ results []string }

func (r *recorder) ObserveAdvisory(result string) { r.results = append(r.results, result) }

var neutral = TechnicalSignals{Trend: TrendNeutral, Volume: VolumeNormal, Volatility: VolatilityNormal, Momentum: MomentumNeutral}

func TestFuseTechnicalOnly(t *testing.T) {
	e := NewEngine("BTCUSDT", DefaultParams())
	s := TechnicalSignals{Trend: TrendStrongBullish, Momentum: MomentumStrongPositive, Volume: VolumeHigh, Volatility: VolatilityNormal}
	d := e.Fuse(s, nil, t0)
	if !d.TechnicalOnly || d.Advisory != nil {
		t.Fatalf("expected technical-only decision: %+v", d)
	}
	if d.Action != ActionStrongBuy || math.Abs(d.Confidence-0.95) > 1e-9 {
		t.Errorf("action=%s confidence=%v", d.Action, d.Confidence)
	}
	if d.Risk != RiskLow || !d.ShouldExecute || d.SuggestedFraction == nil {
		t.Fatalf("expected execution: %+v", d)
	}
	if math.Abs(*d.SuggestedFraction-0.15*0.95) > 1e-9 {
		t.Errorf("fraction = %v", *d.SuggestedFraction)
	}
}

func TestFuseWithAdvisory(t *testing.T) {
	e := NewEngine("BTCUSDT", DefaultParams())
	v := &Verdict{Action: ActionStrongBuy, Confidence: 0.9, Risk: RiskLow, Reasoning: "oversold"}
	d := e.Fuse(neutral, v, t0)
	if d.TechnicalOnly || d.Advisory == nil {
		t.Fatalf("expected fused decision")
	}
	// 0*0.3 + 2*0.7 = 1.4 -> Buy
	if d.Action != ActionBuy {
		t.Errorf("action = %s, want BUY", d.Action)
	}
	if math.Abs(d.Confidence-(0.5*0.3+0.9*0.7)) > 1e-9 {
		t.Errorf("confidence = %v", d.Confidence)
	}
	if d.Risk != RiskLow || !d.ShouldExecute {
		t.Errorf("risk=%s execute=%v", d.Risk, d.ShouldExecute)
	}
	if math.Abs(*d.SuggestedFraction-0.10*d.Confidence) > 1e-9 {
		t.Errorf("fraction = %v", *d.SuggestedFraction)
	}
	if want := "oversold"; !strings.Contains(d.Reasoning, want) || !strings.Contains(d.Reasoning, "技术面") {
		t.Errorf("reasoning should include both rationales: %q", d.Reasoning)
	}
}

func TestFuseClampsAdvisoryConfidence(t *testing.T) {
	e := NewEngine("X", DefaultParams())
	d := e.Fuse(neutral, &Verdict{Action: ActionSell, Confidence: 7, Risk: RiskMedium}, t0)
	if d.Confidence < 0 || d.Confidence > 1 || d.Advisory.Confidence != 1 {
		t.Errorf("confidence not clamped: %v / %v", d.Confidence, d.Advisory.Confidence)
	}
}

func TestActionFromScore(t *testing.T) {
	cases := map[float64]Action{2: ActionStrongBuy, 1.5: ActionStrongBuy, 1.2: ActionBuy, 0.5: ActionBuy, 0.3: ActionHold, -0.3: ActionHold, -0.5: ActionSell, -1.49: ActionSell, -1.5: ActionStrongSell}
	for score, want := range cases {
		if got := ActionFromScore(score); got != want {
			t.Errorf("ActionFromScore(%v) = %s, want %s", score, got, want)
		}
	}
}

func TestAssessRisk(t *testing.T) {
	cases := []struct {
		vol  Volatility
		adv  *Verdict
		want RiskLevel
	}{
		{VolatilityNormal, nil, RiskLow},
		{VolatilityHigh, nil, RiskMedium},
		{VolatilityVeryHigh, nil, RiskHigh},
		{VolatilityLow, &Verdict{Risk: RiskHigh}, RiskMedium},
		{VolatilityHigh, &Verdict{Risk: RiskVeryHigh}, RiskHigh},
		{VolatilityVeryHigh, &Verdict{Risk: RiskVeryHigh}, RiskVeryHigh},
		{VolatilityNormal, &Verdict{Risk: RiskMedium}, RiskLow},
	}
	for _, tc := range cases {
		s := neutral
		s.Volatility = tc.vol
		if got := AssessRisk(s, tc.adv); got != tc.want {
			t.Errorf("%s/%v: got %s, want %s", tc.vol, tc.adv, got, tc.want)
		}
	}
}

func TestShouldExecuteRespectsTolerance(t *testing.T) {
	levels := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskVeryHigh}
	actions := []Action{ActionStrongBuy, ActionBuy, ActionHold, ActionSell, ActionStrongSell}
	for _, tol := range levels {
		p := DefaultParams()
		p.RiskTolerance = tol
		for _, risk := range levels {
			for _, a := range actions {
				got := ShouldExecute(p, 0.9, risk, a)
				if !tol.Accepts(risk) && got {
					t.Errorf("tolerance %s accepted risk %s for %s", tol, risk, a)
				}
				if a == ActionHold && got {
					t.Errorf("hold must never execute")
				}
			}
		}
	}
	p := DefaultParams()
	if ShouldExecute(p, 0.59, RiskLow, ActionBuy) {
		t.Error("confidence below minimum must not execute")
	}
	if !ShouldExecute(p, 0.6, RiskHigh, ActionBuy) {
		t.Error("medium tolerance should accept high risk")
	}
	if (RiskLow).Accepts(RiskMedium) || !(RiskVeryHigh).Accepts(RiskVeryHigh) || (RiskHigh).Accepts(RiskVeryHigh) {
		t.Error("unexpected tolerance table")
	}
}

func TestSuggestFraction(t *testing.T) {
	levels := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskVeryHigh}
	for _, a := range []Action{ActionStrongBuy, ActionBuy, ActionHold, ActionSell, ActionStrongSell} {
		for _, r := range levels {
			f := SuggestFraction(a, 1, r)
			if f < 0 || f > 0.20 {
				t.Errorf("fraction %v out of range", f)
			}
		}
	}
	if got := SuggestFraction(ActionStrongSell, 0.5, RiskHigh); math.Abs(got-0.15*0.5*0.6) > 1e-9 {
		t.Errorf("got %v", got)
	}
	if got := SuggestFraction(ActionHold, 1, RiskLow); got != 0 {
		t.Errorf("hold fraction = %v", got)
	}
}

func TestDecideFallsBackOnAdvisorError(t *testing.T) {
	adv := &stubAdvisor{err: errors.New("connection refused")}
	rec := &recorder{}
	e := NewEngine("BTCUSDT", DefaultParams(), WithAdvisor(adv, time.Second), WithObserver(rec))
	hist := closesBars(100, 101, 102)
	d := e.Decide(context.Background(), market.Bar{Close: 103, High: 103, Low: 103, Volume: 10, Time: t0.Add(time.Hour)}, hist)
	if !d.TechnicalOnly {
		t.Fatalf("expected fallback to technical-only")
	}
	if len(rec.results) != 1 || rec.results[0] != "error" {
		t.Errorf("observer = %v", rec.results)
	}
	if last, ok := e.Last(); !ok || last.Action != d.Action {
		t.Errorf("last decision not recorded")
	}
}

func TestDecideFallsBackOnTimeout(t *testing.T) {
	adv := &stubAdvisor{block: true}
	rec := &recorder{}
	e := NewEngine("BTCUSDT", DefaultParams(), WithAdvisor(adv, 20*time.Millisecond), WithObserver(rec))
	d := e.Decide(context.Background(), market.Bar{Close: 1, High: 1, Low: 1, Time: t0}, nil)
	if !d.TechnicalOnly {
		t.Fatalf("expected fallback on timeout")
	}
	if len(rec.results) != 1 || rec.results[0] != "timeout" {
		t.Errorf("observer = %v", rec.results)
	}
}

func TestDecideUsesCache(t *testing.T) {
	adv := &stubAdvisor{verdict: Verdict{Action: ActionBuy, Confidence: 0.8, Risk: RiskLow}}
	e := NewEngine("BTCUSDT", DefaultParams(), WithAdvisor(adv, time.Second), WithCache(NewVerdictCache(time.Hour)))
	bar := market.Bar{Close: 1, High: 1, Low: 1, Time: t0}
	e.Decide(context.Background(), bar, nil)
	bar.Time = t0.Add(30 * time.Minute)
	d := e.Decide(context.Background(), bar, nil)
	if adv.calls != 1 {
		t.Errorf("advisor calls = %d, want 1", adv.calls)
	}
	if d.Advisory == nil || d.Advisory.Action != ActionBuy {
		t.Errorf("cached verdict not used: %+v", d.Advisory)
	}
	bar.Time = t0.Add(2 * time.Hour)
	e.Decide(context.Background(), bar, nil)
	if adv.calls != 2 {
		t.Errorf("advisor calls after expiry = %d, want 2", adv.calls)
	}
}

func TestParseHelpers(t *testing.T) {
	if ParseAction("strong buy") != ActionStrongBuy || ParseAction("??") != ActionHold {
		t.Error("ParseAction mismatch")
	}
	if r, ok := ParseRiskLevel("very_high"); !ok || r != RiskVeryHigh {
		t.Error("ParseRiskLevel mismatch")
	}
	if r, ok := ParseRiskLevel("extreme"); ok || r != RiskMedium {
		t.Error("unknown risk should default to medium")
	}
	var r RiskLevel
	if err := r.UnmarshalText([]byte("HIGH")); err != nil || r != RiskHigh {
		t.Errorf("UnmarshalText: %v %v", r, err)
	}
}
