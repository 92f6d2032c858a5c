package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"dcaengine/internal/decision"
	"dcaengine/internal/logger"
	"dcaengine/internal/market"
)

// Named 带名称的顾问，便于日志与聚合。
type Named interface {
	decision.Advisor
	Name() string
}

// Output 单个顾问执行后的统一表示
type Output struct {
	Source  string
	Verdict decision.Verdict
	Err     error
}

// Aggregator 聚合接口
type Aggregator interface {
	Aggregate(outputs []Output) (decision.Verdict, error)
	Name() string
}

var errNoOutput = errors.New("无可用的模型输出")

// FirstWinsAggregator 按配置顺序取第一个成功的输出
type FirstWinsAggregator struct{}

func (FirstWinsAggregator) Name() string { return "first-wins" }

func (FirstWinsAggregator) Aggregate(outputs []Output) (decision.Verdict, error) {
	for _, o := range outputs {
		if o.Err == nil {
			return o.Verdict, nil
		}
	}
	return decision.Verdict{}, errNoOutput
}

// MajorityAggregator 取票数最多的动作（同票按顺序先出现者），置信度取该动作的均值，风险取最高。
type MajorityAggregator struct{}

func (MajorityAggregator) Name() string { return "majority" }

func (MajorityAggregator) Aggregate(outputs []Output) (decision.Verdict, error) {
	counts := map[decision.Action]int{}
	var order []decision.Action
	for _, o := range outputs {
		if o.Err != nil {
			continue
		}
		if counts[o.Verdict.Action] == 0 {
			order = append(order, o.Verdict.Action)
		}
		counts[o.Verdict.Action]++
	}
	if len(order) == 0 {
		return decision.Verdict{}, errNoOutput
	}
	best := order[0]
	for _, a := range order[1:] {
		if counts[a] > counts[best] {
			best = a
		}
	}
	out := decision.Verdict{Action: best}
	var reasons []string
	var sources []string
	sum := 0.0
	for _, o := range outputs {
		if o.Err != nil || o.Verdict.Action != best {
			continue
		}
		sum += o.Verdict.Confidence
		if o.Verdict.Risk > out.Risk {
			out.Risk = o.Verdict.Risk
		}
		if out.PricePrediction == nil && o.Verdict.PricePrediction != nil {
			out.PricePrediction = o.Verdict.PricePrediction
		}
		if o.Verdict.DecidedAt.After(out.DecidedAt) {
			out.DecidedAt = o.Verdict.DecidedAt
		}
		sources = append(sources, o.Source)
		reasons = append(reasons, fmt.Sprintf("[%s] %s", o.Source, o.Verdict.Reasoning))
	}
	out.Confidence = decision.ClampConfidence(sum / float64(counts[best]))
	out.Reasoning = strings.Join(reasons, "；")
	out.Source = strings.Join(sources, ",")
	return out, nil
}

// NewAggregator 按名称构造聚合器，未知名称回落到 first-wins。
func NewAggregator(name string) Aggregator {
	if strings.EqualFold(strings.TrimSpace(name), "majority") {
		return MajorityAggregator{}
	}
	return FirstWinsAggregator{}
}

// Ensemble 并发咨询多个顾问并聚合结果。
type Ensemble struct {
	Advisors   []Named
	Aggregator Aggregator
}

func NewEnsemble(agg Aggregator, advisors ...Named) *Ensemble {
	if agg == nil {
		agg = FirstWinsAggregator{}
	}
	return &Ensemble{Advisors: advisors, Aggregator: agg}
}

func (e *Ensemble) Name() string { return "ensemble/" + e.Aggregator.Name() }

func (e *Ensemble) Advise(ctx context.Context, mc market.Context) (decision.Verdict, error) {
	if e == nil || len(e.Advisors) == 0 {
		return decision.Verdict{}, fmt.Errorf("%w: 未配置顾问", ErrUnavailable)
	}
	outputs := make([]Output, len(e.Advisors))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range e.Advisors {
		i, a := i, a
		g.Go(func() error {
			v, err := a.Advise(gctx, mc)
			outputs[i] = Output{Source: a.Name(), Verdict: v, Err: err}
			if err != nil {
				logger.Debugf("顾问 %s 失败: %v", a.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	v, err := e.Aggregator.Aggregate(outputs)
	if err != nil {
		errs := make([]error, 0, len(outputs))
		for _, o := range outputs {
			errs = append(errs, o.Err)
		}
		return decision.Verdict{}, fmt.Errorf("%w: %v: %w", ErrUnavailable, err, errors.Join(errs...))
	}
	if v.DecidedAt.IsZero() {
		v.DecidedAt = mc.Time
	}
	return v, nil
}
