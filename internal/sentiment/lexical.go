package sentiment

import (
	"strings"

	"github.com/sells-group/leadwatch/internal/model"
)

var (
	positiveWords = []string{"love", "great", "awesome", "excellent", "amazing", "perfect", "good", "best", "fantastic"}
	negativeWords = []string{"hate", "terrible", "awful", "bad", "worst", "sucks", "broken", "useless", "disappointed"}
)

// Lexical classifies sentiment by counting positive and negative cue words.
func Lexical(title, body string) Result {
	text := strings.ToLower(title + " " + body)

	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(text, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(text, w) {
			neg++
		}
	}

	res := Result{Label: model.SentimentNeutral}
	if pos+neg > 0 {
		res.Score = float64(pos-neg) / float64(pos+neg)
	}
	switch {
	case pos > neg:
		res.Label = model.SentimentPositive
	case neg > pos:
		res.Label = model.SentimentNegative
	}
	return res
}

// BasicIntent classifies intent from phrase cues. Solution seeking wins over
// comparison, which wins over pain points.
func BasicIntent(title, body string) string {
	text := strings.ToLower(title + " " + body)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	hasWord := func(w string) bool {
		for _, f := range words {
			if f == w {
				return true
			}
		}
		return false
	}
	containsAny := func(cues ...string) bool {
		for _, c := range cues {
			if strings.Contains(text, c) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("help", "recommend", "suggest", "looking for"):
		return IntentSolutionSeeking
	case hasWord("vs") || containsAny("better than", "alternative", "compare"):
		return IntentBrandComparison
	case containsAny("problem", "issue", "struggling", "broken"):
		return IntentPainPoint
	default:
		return model.IntentGeneralDiscussion
	}
}
