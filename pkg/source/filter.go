package source

import "strings"

// Filter holds keyword lists for deciding which discovered trending searches
// are worth tracking. Tracked keywords always pass.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter creates a filter. An empty include list admits everything that is
// not excluded.
func NewFilter(includeKeywords, excludeKeywords []string) *Filter {
	return &Filter{
		include: lowerAll(includeKeywords),
		exclude: lowerAll(excludeKeywords),
	}
}

// Match returns true if text passes the include/exclude lists.
func (f *Filter) Match(text string) bool {
	if f == nil {
		return true
	}
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
