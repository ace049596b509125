// Package scoring computes the 0-100 opportunity score of a signal.
package scoring

import (
	"math"
	"time"

	"github.com/sells-group/leadwatch/internal/model"
)

// Weights of the score components. They sum to 1.
const (
	WeightRecency  = 0.40
	WeightComments = 0.35
	WeightUpvotes  = 0.25
)

const (
	// RecencyHalfLife is the age at which the recency component halves.
	RecencyHalfLife = 24 * time.Hour
	// CommentSaturation is the comment count that earns the full comment component.
	CommentSaturation = 100
	// NegativeCompetitorBonus is added for unhappy mentions of a competitor.
	NegativeCompetitorBonus = 10
)

// Input is the signal metadata the score depends on.
type Input struct {
	PostedAt    time.Time
	NumComments int
	UpvoteRatio float64
	Sentiment   string
	LeadType    model.LeadType
}

// InputFor builds scoring input from a raw signal and its classification.
func InputFor(sig model.RawSignal, sentiment string, leadType model.LeadType) Input {
	return Input{
		PostedAt:    sig.PostedAt(),
		NumComments: sig.NumComments,
		UpvoteRatio: sig.UpvoteRatio,
		Sentiment:   sentiment,
		LeadType:    leadType,
	}
}

// OpportunityScore returns a deterministic score in [0, 100] for in as of now.
func OpportunityScore(in Input, now time.Time) int {
	hours := now.Sub(in.PostedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-math.Ln2 * hours / RecencyHalfLife.Hours())

	comments := 0.0
	if in.NumComments > 0 {
		comments = math.Min(math.Log1p(float64(in.NumComments))/math.Log1p(CommentSaturation), 1)
	}

	upvotes := clamp(in.UpvoteRatio, 0, 1)

	total := recency*WeightRecency + comments*WeightComments + upvotes*WeightUpvotes
	score := int(math.Round(total * 100))

	if in.LeadType == model.LeadTypeCompetitorMention && in.Sentiment == model.SentimentNegative {
		score += NegativeCompetitorBonus
	}
	return min(max(score, 0), 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
