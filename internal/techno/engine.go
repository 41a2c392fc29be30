package techno

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/alvmarrod/web-surveyor/internal/model"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
)

// maxHTMLScan bounds how much markup is fingerprinted
const maxHTMLScan = 512 * 1024

// responseSource tags hits from the fingerprint database. The database does
// not expose per-pattern confidence, so each of its hits counts as certain.
const responseSource = "wappalyzer"

// Engine detects technologies on a page. Headers, cookies and markup go
// through the wappalyzergo database; probed global state goes through the
// local catalogue, which also resolves implies and category names.
type Engine struct {
	catalogue    *Catalogue
	fingerprints *wappalyzer.Wappalyze
	scope        Scope
}

// NewEngine loads the fingerprint database and restricts both sources to scope
func NewEngine(catalogue *Catalogue, scope Scope) (*Engine, error) {
	fingerprints, err := wappalyzer.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint database: %w", err)
	}
	return &Engine{
		catalogue:    catalogue.Filter(scope),
		fingerprints: fingerprints,
		scope:        scope,
	}, nil
}

// JSChains lists the global-state chains a page should be probed for
func (e *Engine) JSChains() []string {
	return e.catalogue.JSChains()
}

// Len returns the number of local catalogue entries in scope
func (e *Engine) Len() int {
	return e.catalogue.Len()
}

// Detect merges both sources into the final technology list
func (e *Engine) Detect(sig Signals) []model.Technology {
	set := NewDetectionSet()
	e.matchResponse(sig, set.Add)
	e.catalogue.MatchJS(sig.JS, set.Add)
	return set.Technologies(e.catalogue)
}

func (e *Engine) matchResponse(sig Signals, report func(Hit)) {
	headers := make(http.Header, len(sig.Headers)+1)
	for k, v := range sig.Headers {
		headers[k] = v
	}
	// cookies set from scripts never show up in Set-Cookie
	for name, value := range sig.Cookies {
		headers.Add("Set-Cookie", name+"="+value)
	}

	body := sig.HTML
	if len(body) > maxHTMLScan {
		body = body[:maxHTMLScan]
	}

	for key, info := range e.fingerprints.FingerprintWithCats(headers, []byte(body)) {
		name, version, _ := strings.Cut(key, ":")
		if !e.scope.Allows(name, info.Cats) {
			continue
		}
		report(Hit{
			App:        name,
			Source:     responseSource,
			Version:    version,
			Confidence: defaultConfidence,
			Categories: info.Cats,
		})
	}
}
