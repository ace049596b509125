package model

import (
	"time"
)

// Plan is the billing tier of an owner.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// SubscriptionStatus mirrors the billing provider's subscription state for an owner.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Eligible reports whether an owner in this status may have leads discovered.
func (s SubscriptionStatus) Eligible() bool {
	return s == StatusActive || s == StatusTrialing
}

// Owner is the user that owns one or more subscriptions.
type Owner struct {
	ID                 string             `json:"id" db:"id"`
	Email              string             `json:"email" db:"email"`
	Name               string             `json:"name,omitempty" db:"name"`
	Plan               Plan               `json:"plan" db:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
}

// Subscription is a monitoring configuration ("campaign") owned by a user.
// It is read-only to the discovery worker apart from LastGlobalSearchAt.
type Subscription struct {
	ID                 string     `json:"id" db:"id"`
	OwnerID            string     `json:"owner_id" db:"owner_id"`
	Name               string     `json:"name" db:"name"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	TargetSubreddits   []string   `json:"target_subreddits" db:"target_subreddits"`
	Competitors        []string   `json:"competitors" db:"competitors"`
	GeneratedKeywords  []string   `json:"generated_keywords" db:"generated_keywords"`
	NegativeKeywords   []string   `json:"negative_keywords" db:"negative_keywords"`
	SubredditBlacklist []string   `json:"subreddit_blacklist" db:"subreddit_blacklist"`
	LastGlobalSearchAt *time.Time `json:"last_global_search_at,omitempty" db:"last_global_search_at"`

	// Owner is the owner snapshot loaded alongside the subscription. Nil when
	// the owner row could not be resolved.
	Owner *Owner `json:"owner,omitempty"`
}

// Eligible reports whether the subscription should be processed.
func (s Subscription) Eligible() bool {
	return s.IsActive && s.Owner != nil && s.Owner.SubscriptionStatus.Eligible()
}
