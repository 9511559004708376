package domain

import "sort"

// SortRules orders rules by priority descending; ties keep creation order.
func SortRules(rules []*ProxyRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// SortRedirects orders redirects by priority descending; ties keep creation order.
func SortRedirects(redirects []*RedirectRule) {
	sort.SliceStable(redirects, func(i, j int) bool {
		if redirects[i].Priority != redirects[j].Priority {
			return redirects[i].Priority > redirects[j].Priority
		}
		return redirects[i].ID < redirects[j].ID
	})
}
