package tracker

import (
	"regexp"
	"sort"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// classifier matches DNS query names against the whitelist and the app
// patterns. Patterns compile once per poll cycle; an unparsable pattern
// is skipped with a warning rather than failing the cycle.
type classifier struct {
	whitelist []*regexp.Regexp
	patterns  []appMatcher
}

type appMatcher struct {
	id       int
	re       *regexp.Regexp
	category string
}

func newClassifier(whitelist []*model.DnsWhitelistEntry, patterns []*model.AppPattern) *classifier {
	c := &classifier{}
	for _, w := range whitelist {
		re, err := regexp.Compile(w.Pattern)
		if err != nil {
			util.Warnf("dns whitelist pattern %d does not compile: %v", w.ID, err)
			continue
		}
		c.whitelist = append(c.whitelist, re)
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			util.Warnf("app pattern %d does not compile: %v", p.ID, err)
			continue
		}
		c.patterns = append(c.patterns, appMatcher{id: p.ID, re: re, category: p.Category})
	}
	// First match wins in ascending pattern id order.
	sort.Slice(c.patterns, func(i, j int) bool { return c.patterns[i].id < c.patterns[j].id })
	return c
}

// whitelisted reports whether a query name is excluded from usage
// attribution.
func (c *classifier) whitelisted(qname string) bool {
	for _, re := range c.whitelist {
		if re.MatchString(qname) {
			return true
		}
	}
	return false
}

// Classify returns the app category for a set of query names: the first
// pattern (by id) matching any non-whitelisted name, or "".
func (c *classifier) Classify(qnames []string) string {
	for _, m := range c.patterns {
		for _, q := range qnames {
			if c.whitelisted(q) {
				continue
			}
			if m.re.MatchString(q) {
				return m.category
			}
		}
	}
	return ""
}
