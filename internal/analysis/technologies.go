package analysis

import (
	"context"
	"errors"

	"github.com/alvmarrod/web-surveyor/internal/page"
	"github.com/alvmarrod/web-surveyor/internal/techno"
	"github.com/sirupsen/logrus"
)

// TechnologyAnalyzer fingerprints the software stack of a page
type TechnologyAnalyzer struct {
	engine *techno.Engine
}

// NewTechnologyAnalyzer creates the analyzer for the given engine
func NewTechnologyAnalyzer(engine *techno.Engine) *TechnologyAnalyzer {
	return &TechnologyAnalyzer{engine: engine}
}

func (a *TechnologyAnalyzer) Name() string { return "technologies" }

func (a *TechnologyAnalyzer) Analyze(ctx context.Context, p page.Page) (any, error) {
	signals, err := a.gather(ctx, p)
	if err != nil {
		return nil, err
	}
	return a.engine.Detect(signals), nil
}

func (a *TechnologyAnalyzer) gather(ctx context.Context, p page.Page) (techno.Signals, error) {
	sig := techno.Signals{
		Headers: p.Headers(),
		Cookies: make(map[string]string),
		JS:      make(map[string]string),
	}

	markup, err := p.HTML(ctx)
	if err != nil {
		return sig, err
	}
	sig.HTML = markup

	cookies, err := p.Cookies(ctx)
	if err != nil {
		return sig, err
	}
	for _, c := range cookies {
		sig.Cookies[c.Name] = c.Value
	}

	if err := a.probe(ctx, p, sig.JS); err != nil {
		return sig, err
	}
	return sig, nil
}

// probe reads the global-state chains the catalogue references. Pages that
// cannot evaluate scripts are fingerprinted without them.
func (a *TechnologyAnalyzer) probe(ctx context.Context, p page.Page, out map[string]string) error {
	for _, chain := range a.engine.JSChains() {
		expr, err := techno.ProbeExpression(chain)
		if err != nil {
			continue
		}

		var value any
		err = p.Evaluate(ctx, expr, &value)
		if errors.Is(err, page.ErrEvaluateUnsupported) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.Debugf("Probe %s failed on %s: %v", chain, p.URL(), err)
			continue
		}
		if v, ok := techno.ProbeValue(value); ok {
			out[chain] = v
		}
	}
	return nil
}
