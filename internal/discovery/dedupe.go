package discovery

import (
	"slices"
	"strings"

	"github.com/sells-group/leadwatch/internal/model"
)

// Dedupe returns signals unique by URL, keeping the first occurrence and the
// input order. The input slice is not modified.
func Dedupe(signals []model.RawSignal) []model.RawSignal {
	seen := make(map[string]struct{}, len(signals))
	out := make([]model.RawSignal, 0, len(signals))
	for _, s := range signals {
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}

// FilterExcluded drops signals whose text contains a negative keyword or
// whose subreddit is blacklisted. Both comparisons ignore case.
func FilterExcluded(signals []model.RawSignal, negativeKeywords, blacklist []string) []model.RawSignal {
	if len(negativeKeywords) == 0 && len(blacklist) == 0 {
		return signals
	}
	out := make([]model.RawSignal, 0, len(signals))
	for _, s := range signals {
		if slices.ContainsFunc(blacklist, func(b string) bool { return strings.EqualFold(b, s.Subreddit) }) {
			continue
		}
		text := strings.ToLower(s.Title + " " + s.Body)
		if slices.ContainsFunc(negativeKeywords, func(k string) bool {
			return k != "" && strings.Contains(text, strings.ToLower(k))
		}) {
			continue
		}
		out = append(out, s)
	}
	return out
}
