package reddit

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Post is a submission or comment returned by a search.
type Post struct {
	ID          string
	Kind        string // "t3" submission, "t1" comment
	Title       string
	Body        string
	Author      string
	Subreddit   string
	Permalink   string
	CreatedUTC  int64
	NumComments int
	UpvoteRatio float64
}

const siteURL = "https://reddit.com"

// URL is the canonical link to the post. Both forms use the same host.
func (p Post) URL() string {
	if p.Permalink != "" {
		return siteURL + p.Permalink
	}
	return siteURL + "/r/" + p.Subreddit + "/comments/" + p.ID + "/"
}

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Selftext    string   `json:"selftext"`
	Body        string   `json:"body"`
	LinkTitle   string   `json:"link_title"`
	Author      string   `json:"author"`
	Subreddit   string   `json:"subreddit"`
	Permalink   string   `json:"permalink"`
	CreatedUTC  float64  `json:"created_utc"`
	NumComments int      `json:"num_comments"`
	UpvoteRatio *float64 `json:"upvote_ratio"`
}

// neutralUpvoteRatio stands in for listings that carry no ratio, such as comments.
const neutralUpvoteRatio = 0.5

func (t thing) post() Post {
	d := t.Data
	p := Post{
		ID:          d.ID,
		Kind:        t.Kind,
		Title:       d.Title,
		Body:        d.Selftext,
		Author:      d.Author,
		Subreddit:   d.Subreddit,
		Permalink:   d.Permalink,
		CreatedUTC:  int64(d.CreatedUTC),
		NumComments: d.NumComments,
		UpvoteRatio: neutralUpvoteRatio,
	}
	if d.UpvoteRatio != nil {
		p.UpvoteRatio = *d.UpvoteRatio
	}
	if t.Kind == "t1" {
		p.Title = d.LinkTitle
		p.Body = d.Body
	}
	if p.Author == "" {
		p.Author = "[deleted]"
	}
	return p
}

// searchQuery ORs the terms, quoting multi-word ones.
func searchQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " \t") {
			t = `"` + t + `"`
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " OR ")
}

func (c *httpClient) searchParams(terms []string) url.Values {
	return url.Values{
		"q":     {searchQuery(terms)},
		"sort":  {"new"},
		"t":     {c.window},
		"limit": {"100"},
		"type":  {"link"},
	}
}

// SearchSubmissions searches each subreddit for recent submissions matching
// any term. Private, banned or missing subreddits are skipped.
func (c *httpClient) SearchSubmissions(ctx context.Context, terms, subreddits []string) ([]Post, error) {
	if len(terms) == 0 || len(subreddits) == 0 {
		return nil, nil
	}
	params := c.searchParams(terms)
	params.Set("restrict_sr", "1")

	var posts []Post
	for _, sub := range subreddits {
		l, err := c.getListing(ctx, "/r/"+url.PathEscape(sub)+"/search", params)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Inaccessible() {
				zap.L().Warn("reddit: skipping inaccessible subreddit",
					zap.String("subreddit", sub), zap.Int("status", se.StatusCode))
				continue
			}
			return nil, err
		}
		for _, t := range l.Data.Children {
			if t.Kind == "t3" {
				posts = append(posts, t.post())
			}
		}
	}
	return posts, nil
}

// SearchComments scans the newest comments across the subreddits and keeps
// those mentioning any term.
func (c *httpClient) SearchComments(ctx context.Context, terms, subreddits []string) ([]Post, error) {
	if len(terms) == 0 || len(subreddits) == 0 {
		return nil, nil
	}
	escaped := make([]string, len(subreddits))
	for i, s := range subreddits {
		escaped[i] = url.PathEscape(s)
	}

	l, err := c.getListing(ctx, "/r/"+strings.Join(escaped, "+")+"/comments", url.Values{
		"limit": {"100"},
		"sort":  {"new"},
	})
	if err != nil {
		return nil, err
	}

	var posts []Post
	for _, t := range l.Data.Children {
		if t.Kind != "t1" {
			continue
		}
		if mentionsAny(t.Data.Body, terms) {
			posts = append(posts, t.post())
		}
	}
	return posts, nil
}

// GlobalSearch searches all of Reddit for recent submissions matching any keyword.
func (c *httpClient) GlobalSearch(ctx context.Context, keywords []string) ([]Post, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	l, err := c.getListing(ctx, "/search", c.searchParams(keywords))
	if err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		if t.Kind == "t3" {
			posts = append(posts, t.post())
		}
	}
	return posts, nil
}

func mentionsAny(text string, terms []string) bool {
	text = strings.ToLower(text)
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}
