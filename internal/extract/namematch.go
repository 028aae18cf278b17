package extract

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultFuzzyThreshold    = 0.92
	defaultPhoneticThreshold = 0.85
)

// nameMatcher decides whether a candidate user name is really the
// companion's own name, misheard or echoed back by the user ("Hi Ava!").
//
// A candidate matches when it is equal ignoring case, when its Jaro-Winkler
// similarity reaches the fuzzy threshold, or when the Double Metaphone codes
// overlap and the similarity reaches the lower phonetic threshold.
type nameMatcher struct {
	name              string
	codes             map[string]struct{}
	fuzzyThreshold    float64
	phoneticThreshold float64
}

func newNameMatcher(companionName string, fuzzy float64) *nameMatcher {
	lower := strings.ToLower(strings.TrimSpace(companionName))
	if fuzzy <= 0 {
		fuzzy = defaultFuzzyThreshold
	}
	return &nameMatcher{
		name:              lower,
		codes:             metaphoneCodes(lower),
		fuzzyThreshold:    fuzzy,
		phoneticThreshold: min(defaultPhoneticThreshold, fuzzy),
	}
}

// matches reports whether token is the companion's name.
func (m *nameMatcher) matches(token string) bool {
	if m == nil || m.name == "" {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return false
	}
	if t == m.name {
		return true
	}
	score := matchr.JaroWinkler(t, m.name, false)
	if score >= m.fuzzyThreshold {
		return true
	}
	return score >= m.phoneticThreshold && overlap(metaphoneCodes(t), m.codes)
}

func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	for _, w := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
