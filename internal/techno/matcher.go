package techno

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Signals are the observations gathered from one page
type Signals struct {
	HTML    string
	Headers http.Header
	Cookies map[string]string
	// JS maps probed chains to their stringified value; missing or falsy
	// chains are absent
	JS map[string]string
}

// Hit is a single match. One technology may be hit many times.
type Hit struct {
	App        string
	Source     string
	Version    string
	Confidence int
	Categories []int
}

// MatchJS runs the global-state signatures against probed values and
// reports each pattern match through report
func (c *Catalogue) MatchJS(values map[string]string, report func(Hit)) {
	for name, app := range c.apps {
		for chain, patterns := range app.JS {
			value, ok := values[chain]
			if !ok {
				continue
			}
			for _, p := range patterns {
				if version, ok := p.Match(value); ok {
					report(Hit{
						App:        name,
						Source:     "js " + chain + " " + p.Source,
						Version:    version,
						Confidence: p.Confidence,
					})
				}
			}
		}
	}
}

const probeTemplate = `(() => {
	let v = window;
	for (const p of %s) {
		if (v === null || v === undefined || !Object.prototype.hasOwnProperty.call(v, p)) return null;
		v = v[p];
	}
	return (typeof v === "string" || typeof v === "number") ? v : !!v;
})()`

// ProbeExpression builds the script that reads a global-state chain.
// Strings and numbers are returned as is, anything else as a boolean.
func ProbeExpression(chain string) (string, error) {
	if !jsChain.MatchString(chain) {
		return "", fmt.Errorf("invalid probe chain %q", chain)
	}
	props, err := json.Marshal(strings.Split(chain, "."))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(probeTemplate, props), nil
}

// ProbeValue stringifies a decoded probe result. Falsy results report false.
func ProbeValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), val != 0
	case bool:
		if val {
			return "true", true
		}
	}
	return "", false
}
