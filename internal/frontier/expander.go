package frontier

import "sort"

// Expansion is the frontier growth produced by one page
type Expansion struct {
	// NewDomains were claimed by this page and must be enqueued by the caller
	NewDomains []string
	// SameSiteLinks are the normalized, deduplicated links within the page's site
	SameSiteLinks []string
}

// Expander classifies the links of a page and claims unseen domains
type Expander struct {
	claims    *ClaimStore
	targetTLD string
}

// NewExpander creates an expander over a shared claim store
func NewExpander(claims *ClaimStore, targetTLD string) *Expander {
	return &Expander{
		claims:    claims,
		targetTLD: targetTLD,
	}
}

// Expand classifies links found on a page hosted at pageHostname.
// A cross-site domain ends up in NewDomains only if this call won its claim,
// so a domain seen by several concurrent pages is reported by exactly one.
func (e *Expander) Expand(links []string, pageHostname string) Expansion {
	newDomains := make(map[string]struct{})
	sameSite := make(map[string]struct{})

	for _, link := range links {
		classified := Classify(link, pageHostname, e.targetTLD)
		switch classified.Kind {
		case SameSite:
			sameSite[classified.URL] = struct{}{}
		case CrossSiteCandidate:
			if _, mine := newDomains[classified.Domain]; mine {
				continue
			}
			if e.claims.TryClaim(classified.Domain) {
				newDomains[classified.Domain] = struct{}{}
			}
		}
	}

	return Expansion{
		NewDomains:    sortedKeys(newDomains),
		SameSiteLinks: sortedKeys(sameSite),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
