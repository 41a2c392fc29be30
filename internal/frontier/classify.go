package frontier

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Kind is the outcome of classifying a link against the page it was found on
type Kind int

const (
	// Rejected links are neither followed nor recorded
	Rejected Kind = iota
	// SameSite links belong to the same logical site as the current page
	SameSite
	// CrossSiteCandidate links point at another domain under the target TLD
	CrossSiteCandidate
)

func (k Kind) String() string {
	switch k {
	case SameSite:
		return "same_site"
	case CrossSiteCandidate:
		return "cross_site_candidate"
	default:
		return "rejected"
	}
}

// ClassifiedLink is a normalized link together with its classification.
// Domain is only set for CrossSiteCandidate links.
type ClassifiedLink struct {
	URL    string
	Kind   Kind
	Domain string
}

// Normalize drops the query string and fragment from a link.
// Links that do not parse are returned unchanged with ok=false.
func Normalize(link string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return link, false
	}
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), true
}

// labels lowercases a hostname and splits it into its dot-separated labels,
// ignoring a trailing root dot. Empty labels make the hostname invalid.
func labels(hostname string) []string {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if hostname == "" {
		return nil
	}
	parts := strings.Split(hostname, ".")
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return parts
}

// isIP reports whether a hostname is an IPv4 or IPv6 literal
func isIP(hostname string) bool {
	return net.ParseIP(strings.Trim(hostname, "[]")) != nil
}

// SLD returns the last two labels of a hostname joined by a dot.
// Example: shop.example.cz -> example.cz
// Hostnames with fewer than two labels and IP literals have no SLD.
func SLD(hostname string) (string, bool) {
	if isIP(hostname) {
		return "", false
	}
	parts := labels(hostname)
	if len(parts) < 2 {
		return "", false
	}
	return parts[len(parts)-2] + "." + parts[len(parts)-1], true
}

// IsPublicSuffix reports whether an SLD computed by the last-two-labels
// rule is itself a public suffix (co.uk, com.au). Such domains collapse
// many unrelated sites into one frontier entry.
func IsPublicSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(domain))
	return icann && suffix == strings.ToLower(domain) && strings.Contains(suffix, ".")
}

// Classify decides whether link is a same-site link, a new cross-site
// domain under targetTLD, or something to ignore. It never fails: links that
// cannot be parsed are Rejected. An empty targetTLD accepts every TLD.
func Classify(link, pageHostname, targetTLD string) ClassifiedLink {
	normalized, ok := Normalize(link)
	if !ok {
		return ClassifiedLink{URL: link, Kind: Rejected}
	}
	result := ClassifiedLink{URL: normalized, Kind: Rejected}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return result
	}

	// IP literals only link within the same host
	if isIP(parsed.Hostname()) {
		if strings.EqualFold(parsed.Hostname(), strings.Trim(pageHostname, "[]")) {
			result.Kind = SameSite
		}
		return result
	}

	candidate := labels(parsed.Hostname())
	if len(candidate) < 2 {
		return result
	}
	candidate = candidate[len(candidate)-2:]

	page := labels(pageHostname)
	if len(page) >= 2 && candidate[0] == page[len(page)-2] {
		result.Kind = SameSite
		return result
	}

	tld := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(targetTLD)), ".")
	if tld == "" || candidate[1] == tld {
		result.Kind = CrossSiteCandidate
		result.Domain = candidate[0] + "." + candidate[1]
	}
	return result
}
