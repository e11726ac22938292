package store

import "time"

// TargetType distinguishes what a limit applies to.
type TargetType string

const (
	TargetSite     TargetType = "site"
	TargetCategory TargetType = "category"
)

// Timeframe is the accumulation window of a limit.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
)

// ValidTimeframe reports whether tf is a known timeframe.
func ValidTimeframe(tf Timeframe) bool {
	switch tf {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Limit is a user-defined cap on accumulated seconds for a site or
// category over a timeframe.
type Limit struct {
	ID           int64      `json:"id"`
	TargetType   TargetType `json:"target_type"`
	TargetID     string     `json:"target_id"`
	Timeframe    Timeframe  `json:"timeframe"`
	LimitMinutes int        `json:"limit_minutes"`
}

// LimitSeconds returns the cap in seconds.
func (l Limit) LimitSeconds() int64 {
	return int64(l.LimitMinutes) * 60
}

// UsageRecord is an immutable append-only usage fact.
type UsageRecord struct {
	ID      int64  `json:"id"`
	Domain  string `json:"domain"`
	Seconds int64  `json:"seconds"`
	DateKey string `json:"date_key"`
}

// DomainUsage aggregates usage for one domain over a timeframe.
type DomainUsage struct {
	Domain  string `json:"domain"`
	Seconds int64  `json:"seconds"`
}

// BlockEvent records that a domain was blocked by a limit.
type BlockEvent struct {
	ID        int64     `json:"id"`
	Domain    string    `json:"domain"`
	LimitID   int64     `json:"limit_id"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Preference keys.
const (
	PrefImmediateBlocking = "immediate_blocking"
	PrefBlockSnoozeUntil  = "block_snooze_until"
	PrefLastBlockedDomain = "last_blocked_domain"
)

// DefaultCategory is assigned to domains with no classification.
const DefaultCategory = "Other"
