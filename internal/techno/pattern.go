package techno

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const defaultConfidence = 100

// Pattern is one compiled signature pattern. The source notation is
// "regex\;version:\1\;confidence:50" where the version template may
// reference capture groups and use the ternary form "\1?found:missing".
type Pattern struct {
	Source     string
	Regex      *regexp.Regexp
	Version    string
	Confidence int
}

// ParsePattern compiles a pattern string. An empty regex matches anything.
func ParsePattern(raw string) (*Pattern, error) {
	parts := strings.Split(raw, `\;`)
	p := &Pattern{
		Source:     raw,
		Confidence: defaultConfidence,
	}

	for _, tag := range parts[1:] {
		key, value, found := strings.Cut(tag, ":")
		if !found {
			continue
		}
		switch key {
		case "version":
			p.Version = value
		case "confidence":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid confidence in %q: %w", raw, err)
			}
			p.Confidence = n
		}
	}

	re, err := regexp.Compile("(?i)" + parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
	}
	p.Regex = re
	return p, nil
}

// Match runs the pattern against value and returns the resolved version
func (p *Pattern) Match(value string) (version string, ok bool) {
	groups := p.Regex.FindStringSubmatch(value)
	if groups == nil {
		return "", false
	}
	return resolveVersion(p.Version, groups), true
}

var (
	ternaryTemplate = regexp.MustCompile(`^\\(\d)\?([^:]*):(.*)$`)
	groupReference  = regexp.MustCompile(`\\(\d)`)
)

func resolveVersion(template string, groups []string) string {
	if template == "" {
		return ""
	}

	group := func(ref string) string {
		n, _ := strconv.Atoi(ref)
		if n < len(groups) {
			return groups[n]
		}
		return ""
	}

	if m := ternaryTemplate.FindStringSubmatch(template); m != nil {
		if group(m[1]) != "" {
			template = m[2]
		} else {
			template = m[3]
		}
	}

	version := groupReference.ReplaceAllStringFunc(template, func(ref string) string {
		return group(ref[1:])
	})
	return strings.TrimSpace(version)
}

// stringList decodes a JSON value that is either a string or a list of strings
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = stringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}
