package email

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"html/template"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadwatch/internal/model"
)

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1a1a1a;">
<h1 class="heading">{{.Count}} new {{if eq .Count 1}}lead{{else}}leads{{end}} for {{.Subscription}}</h1>
<p class="greeting">Hi {{.Greeting}},</p>
<p>These conversations scored highest since the last digest.</p>
<table class="leads" cellpadding="8" style="border-collapse: collapse; width: 100%;">
<thead><tr><th align="left">Lead</th><th>Type</th><th>Priority</th><th>Score</th></tr></thead>
<tbody>
{{range .Leads}}<tr class="lead" data-priority="{{.PriorityKey}}">
<td><a class="lead-link" href="{{.URL}}">{{.Title}}</a><br><small class="subreddit">r/{{.Subreddit}} · u/{{.Author}}</small></td>
<td class="type">{{.Type}}</td>
<td class="priority">{{.Priority}}</td>
<td class="score" align="right">{{.Score}}</td>
</tr>
{{end}}</tbody>
</table>
{{if .DashboardURL}}<p><a class="dashboard" href="{{.DashboardURL}}">Open your dashboard</a></p>{{end}}
</body>
</html>
`))

type digestRow struct {
	Title       string
	URL         string
	Subreddit   string
	Author      string
	Type        string
	Priority    string
	PriorityKey string
	Score       int
}

type digestView struct {
	Subject      string
	Subscription string
	Greeting     string
	Count        int
	Leads        []digestRow
	DashboardURL string
}

// Sender renders and sends lead digests.
type Sender struct {
	provider Provider
	appURL   string
}

// NewSender creates a digest Sender. appURL, when set, is linked from the email.
func NewSender(p Provider, appURL string) *Sender {
	return &Sender{
		provider: p,
		appURL:   strings.TrimRight(appURL, "/"),
	}
}

// SendLeadDigest emails owner a summary of leads found for one subscription.
// Leads are listed by descending opportunity score.
func (s *Sender) SendLeadDigest(ctx context.Context, owner *model.Owner, leads []model.PersistedLead, subscriptionName string) error {
	if owner == nil || owner.Email == "" {
		return eris.New("email: owner has no address")
	}
	if len(leads) == 0 {
		return nil
	}

	subject, body, err := s.renderDigest(owner, leads, subscriptionName)
	if err != nil {
		return err
	}

	zap.L().Info("email: sending lead digest",
		zap.String("owner_id", owner.ID),
		zap.String("subscription", subscriptionName),
		zap.Int("leads", len(leads)),
	)
	if err := s.provider.Send(ctx, owner.Email, subject, body); err != nil {
		return eris.Wrapf(err, "email: send digest to owner %s", owner.ID)
	}
	return nil
}

func (s *Sender) renderDigest(owner *model.Owner, leads []model.PersistedLead, subscriptionName string) (string, string, error) {
	sorted := slices.Clone(leads)
	slices.SortStableFunc(sorted, func(a, b model.PersistedLead) int {
		return cmp.Compare(b.OpportunityScore, a.OpportunityScore)
	})

	// Casers keep state between calls.
	caser := cases.Title(language.English)
	label := func(v string) string {
		return caser.String(strings.ToLower(strings.ReplaceAll(v, "_", " ")))
	}

	rows := make([]digestRow, 0, len(sorted))
	for _, l := range sorted {
		p := model.PriorityFromScore(l.OpportunityScore)
		rows = append(rows, digestRow{
			Title:       l.Title,
			URL:         l.URL,
			Subreddit:   l.Subreddit,
			Author:      l.Author,
			Type:        label(string(l.Type)),
			Priority:    label(string(p)),
			PriorityKey: string(p),
			Score:       l.OpportunityScore,
		})
	}

	greeting := owner.Name
	if greeting == "" {
		greeting = "there"
	}
	noun := "leads"
	if len(rows) == 1 {
		noun = "lead"
	}
	view := digestView{
		Subject:      fmt.Sprintf("%d new %s for %s", len(rows), noun, subscriptionName),
		Subscription: subscriptionName,
		Greeting:     greeting,
		Count:        len(rows),
		Leads:        rows,
	}
	if s.appURL != "" {
		view.DashboardURL = s.appURL + "/dashboard"
	}

	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, view); err != nil {
		return "", "", eris.Wrap(err, "email: render digest")
	}
	return view.Subject, buf.String(), nil
}
