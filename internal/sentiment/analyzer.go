// Package sentiment classifies the sentiment and intent of content signals.
// Classification uses Claude while the owner's AI quota allows and falls back
// to keyword heuristics otherwise.
package sentiment

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/usage"
	"github.com/sells-group/leadwatch/pkg/anthropic"
)

// Intent labels beyond the ones defined in model.
const (
	IntentPainPoint       = "pain_point"
	IntentSolutionSeeking = "solution_seeking"
	IntentBrandComparison = "brand_comparison"
)

var intentLabels = []string{
	IntentPainPoint,
	IntentSolutionSeeking,
	IntentBrandComparison,
	model.IntentGeneralDiscussion,
}

const maxBodyChars = 2000

// Result is a sentiment classification.
type Result struct {
	Label string  // positive, negative or neutral
	Score float64 // -1 (negative) to 1 (positive)
	AI    bool    // classified by the model rather than the lexical fallback
}

// Gate is the quota check consulted before each AI call.
type Gate interface {
	CheckAndMaybeConsume(ctx context.Context, owner *model.Owner, kind usage.Kind) (bool, error)
}

// Analyzer classifies signals for one owner at a time.
type Analyzer struct {
	client    anthropic.Client
	gate      Gate
	model     string
	maxTokens int64
}

// NewAnalyzer creates an Analyzer. A nil client disables AI classification.
func NewAnalyzer(client anthropic.Client, gate Gate, model string, maxTokens int64) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 16
	}
	return &Analyzer{client: client, gate: gate, model: model, maxTokens: maxTokens}
}

// Sentiment classifies the sentiment of a post. AI use is charged to the
// owner's competitor-analysis quota.
func (a *Analyzer) Sentiment(ctx context.Context, title, body string, owner *model.Owner) (Result, error) {
	ok, err := a.allowAI(ctx, owner, usage.KindCompetitor)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Lexical(title, body), nil
	}

	prompt := fmt.Sprintf("Analyze the sentiment of the following Reddit post. Is the user expressing a 'positive', 'negative', or 'neutral' opinion? "+
		"Return only the single classification.\nPost Title: %q\nPost Body: %q", title, truncate(body))
	text, err := a.ask(ctx, prompt)
	if err != nil {
		zap.L().Warn("sentiment: ai classification failed, using lexical fallback",
			zap.String("owner_id", owner.ID), zap.Error(err))
		return Lexical(title, body), nil
	}

	switch label := matchLabel(text, []string{model.SentimentPositive, model.SentimentNegative, model.SentimentNeutral}); label {
	case model.SentimentPositive:
		return Result{Label: label, Score: 1, AI: true}, nil
	case model.SentimentNegative:
		return Result{Label: label, Score: -1, AI: true}, nil
	case model.SentimentNeutral:
		return Result{Label: label, AI: true}, nil
	default:
		return Lexical(title, body), nil
	}
}

// Intent classifies what the author is trying to do. AI use is charged to
// the owner's intent quota.
func (a *Analyzer) Intent(ctx context.Context, title, body string, owner *model.Owner) (string, error) {
	ok, err := a.allowAI(ctx, owner, usage.KindIntent)
	if err != nil {
		return "", err
	}
	if !ok {
		return BasicIntent(title, body), nil
	}

	prompt := fmt.Sprintf("Analyze the following Reddit post for user intent. Classify it as 'pain_point', 'solution_seeking', 'brand_comparison', or 'general_discussion'. "+
		"Return only the single classification.\nPost Title: %q\nPost Body: %q", title, truncate(body))
	text, err := a.ask(ctx, prompt)
	if err != nil {
		zap.L().Warn("sentiment: ai intent failed, using keyword fallback",
			zap.String("owner_id", owner.ID), zap.Error(err))
		return BasicIntent(title, body), nil
	}
	if label := matchLabel(text, intentLabels); label != "" {
		return label, nil
	}
	return BasicIntent(title, body), nil
}

func (a *Analyzer) allowAI(ctx context.Context, owner *model.Owner, kind usage.Kind) (bool, error) {
	if a.client == nil || a.gate == nil || owner == nil {
		return false, nil
	}
	ok, err := a.gate.CheckAndMaybeConsume(ctx, owner, kind)
	if err != nil {
		return false, eris.Wrapf(err, "sentiment: check %s quota", kind)
	}
	return ok, nil
}

func (a *Analyzer) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	zap.L().Debug("sentiment: classified",
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return resp.Text(), nil
}

// matchLabel returns the first label contained in the model's reply.
func matchLabel(reply string, labels []string) string {
	reply = strings.ToLower(strings.TrimSpace(reply))
	for _, l := range labels {
		if strings.Contains(reply, l) {
			return l
		}
	}
	return ""
}

// truncate caps s at maxBodyChars bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxBodyChars {
		return s
	}
	cut := maxBodyChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
