// Package analysis runs independent analyzers against one loaded page.
//
// Every analyzer runs in its own goroutine against the same page. A failing,
// panicking or hanging analyzer only affects its own entry in the result:
// the pipeline waits for all analyzers to settle or for the page budget to
// run out, whichever comes first, and always returns one entry per analyzer.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/page"
	"github.com/sirupsen/logrus"
)

// ErrAnalysisTimeout marks analyzers that had not settled when the page
// budget ran out
var ErrAnalysisTimeout = errors.New("analysis budget exceeded")

// Analyzer derives one category of signal from a loaded page
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, p page.Page) (any, error)
}

// Func adapts a function to the Analyzer interface
type Func struct {
	AnalyzerName string
	Fn           func(ctx context.Context, p page.Page) (any, error)
}

func (f Func) Name() string { return f.AnalyzerName }

func (f Func) Analyze(ctx context.Context, p page.Page) (any, error) {
	return f.Fn(ctx, p)
}

// Pipeline fans a page out to a fixed, ordered set of analyzers
type Pipeline struct {
	analyzers []Analyzer
	budget    time.Duration
}

// NewPipeline creates a pipeline. Analyzer names must be unique; a
// non-positive budget disables the timeout.
func NewPipeline(budget time.Duration, analyzers ...Analyzer) (*Pipeline, error) {
	seen := make(map[string]bool, len(analyzers))
	for _, a := range analyzers {
		if a.Name() == "" {
			return nil, fmt.Errorf("analyzer without a name")
		}
		if seen[a.Name()] {
			return nil, fmt.Errorf("duplicate analyzer %q", a.Name())
		}
		seen[a.Name()] = true
	}
	return &Pipeline{analyzers: analyzers, budget: budget}, nil
}

// Names returns the analyzer names in configuration order
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.analyzers))
	for i, a := range p.analyzers {
		names[i] = a.Name()
	}
	return names
}

type settled struct {
	name   string
	result model.AnalyzerResult
}

// Run analyzes pg with every analyzer concurrently. The returned map has
// exactly one entry per analyzer.
func (p *Pipeline) Run(ctx context.Context, pg page.Page) map[string]model.AnalyzerResult {
	var cancel context.CancelFunc
	if p.budget > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.budget)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Buffered so abandoned analyzers never block on send
	done := make(chan settled, len(p.analyzers))
	for _, a := range p.analyzers {
		go func() {
			done <- settled{name: a.Name(), result: runOne(ctx, a, pg)}
		}()
	}

	results := make(map[string]model.AnalyzerResult, len(p.analyzers))
	for len(results) < len(p.analyzers) {
		select {
		case s := <-done:
			results[s.name] = s.result
		case <-ctx.Done():
			drain(done, results)
			reason := fmt.Errorf("%w after %v: %w", ErrAnalysisTimeout, p.budget, ctx.Err())
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = fmt.Errorf("analysis cancelled: %w", ctx.Err())
			}
			for _, a := range p.analyzers {
				if _, ok := results[a.Name()]; !ok {
					logrus.Warnf("Analyzer %s did not settle for %s: %v", a.Name(), pg.URL(), reason)
					results[a.Name()] = model.Failed(reason)
				}
			}
			return results
		}
	}
	return results
}

// drain collects analyzers that settled at the same moment the budget ran out
func drain(done <-chan settled, results map[string]model.AnalyzerResult) {
	for {
		select {
		case s := <-done:
			results[s.name] = s.result
		default:
			return
		}
	}
}

func runOne(ctx context.Context, a Analyzer, pg page.Page) (result model.AnalyzerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.Failed(fmt.Errorf("analyzer %s panicked: %v", a.Name(), r))
		}
	}()

	start := time.Now()
	value, err := a.Analyze(ctx, pg)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrAnalysisTimeout, err)
		}
		logrus.Debugf("Analyzer %s failed for %s: %v", a.Name(), pg.URL(), err)
		return model.Failed(err)
	}
	logrus.Debugf("Analyzer %s finished for %s in %v", a.Name(), pg.URL(), time.Since(start))
	return model.Succeeded(value)
}
