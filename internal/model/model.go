// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Quantities of takoyaki are plain unit counts and stay int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round statuses. A round moves scheduled → open → closed → settled.
// Rounds abandoned before settlement end up canceled.
const (
	RoundScheduled = "scheduled"
	RoundOpen      = "open"
	RoundClosed    = "closed"
	RoundSettled   = "settled"
	RoundCanceled  = "canceled"
)

// Owner is a market participant. Owners are created on first registration
// and their balance is mutated only by settlement or a season reset.
type Owner struct {
	ID        string          `json:"id" db:"id" gorm:"primaryKey"`
	Name      string          `json:"name" db:"name"`
	Balance   decimal.Decimal `json:"balance" db:"balance" gorm:"type:TEXT"`
	Badges    int             `json:"badges" db:"badges"` // past season wins
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"` // last balance change
}

// Order is one owner's production decision for one round. At most one order
// exists per (owner, round); resubmitting replaces it while the round is open.
type Order struct {
	OwnerID     string    `json:"owner_id" db:"owner_id" gorm:"primaryKey"`
	RoundID     string    `json:"round_id" db:"round_id" gorm:"primaryKey"`
	Quantity    int64     `json:"quantity" db:"quantity"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}

// Pop is one point of a precipitation-probability series.
type Pop struct {
	Time    string `json:"time"`    // "06", "12", "18"
	Percent int    `json:"percent"` // 0..100
}

// Forecast is the weather snapshot captured when a round is scheduled.
// It is immutable for the life of the round.
type Forecast struct {
	Category   string    `json:"category"` // sunny, cloudy, rainy, snowy
	Summary    string    `json:"summary"`
	Pops       []Pop     `json:"pops,omitempty" gorm:"serializer:json"`
	ReportedAt time.Time `json:"reported_at"`
}

// Round is one day's market instance for a specific place.
type Round struct {
	ID          string    `json:"id" db:"id" gorm:"primaryKey"`
	Date        string    `json:"date" db:"date" gorm:"uniqueIndex"` // YYYY-MM-DD market-local
	Place       string    `json:"place" db:"place"`
	OpensAt     time.Time `json:"opens_at" db:"opens_at"`
	ClosesAt    time.Time `json:"closes_at" db:"closes_at"`
	Forecast    Forecast  `json:"forecast" db:"forecast" gorm:"embedded;embeddedPrefix:forecast_"`
	ActualSales int64     `json:"actual_sales" db:"actual_sales"` // valid once settled
	Weather     string    `json:"weather" db:"weather"`           // category used at settlement
	Status      string    `json:"status" db:"status" gorm:"index"`
	SeasonID    string    `json:"season_id" db:"season_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable record of a settled round's effect on one
// owner. Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id" gorm:"primaryKey"`
	OwnerID   string          `json:"owner_id" db:"owner_id" gorm:"index"`
	RoundID   string          `json:"round_id" db:"round_id" gorm:"index"`
	Date      string          `json:"date" db:"date"`
	Ordered   int64           `json:"ordered" db:"ordered"`
	Sold      int64           `json:"sold" db:"sold"`
	Revenue   decimal.Decimal `json:"revenue" db:"revenue" gorm:"type:TEXT"` // sold × sell price
	Cost      decimal.Decimal `json:"cost" db:"cost" gorm:"type:TEXT"`       // ordered × cost price
	Net       decimal.Decimal `json:"net" db:"net" gorm:"type:TEXT"`
	Balance   decimal.Decimal `json:"balance" db:"balance" gorm:"type:TEXT"` // balance after settlement
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Season spans from one balance reset to the next. Exactly one season is
// active at a time; EndedAt and WinnerID stay zero while it runs.
type Season struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey"`
	Number    int       `json:"number" db:"number"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty" db:"ended_at"`
	WinnerID  string    `json:"winner_id,omitempty" db:"winner_id"`
}

// SeasonRecord snapshots one owner's final standing when a season ends.
type SeasonRecord struct {
	SeasonID  string          `json:"season_id" db:"season_id" gorm:"primaryKey"`
	OwnerID   string          `json:"owner_id" db:"owner_id" gorm:"primaryKey"`
	Name      string          `json:"name" db:"name"`
	Balance   decimal.Decimal `json:"balance" db:"balance" gorm:"type:TEXT"`
	Target    decimal.Decimal `json:"target" db:"target" gorm:"type:TEXT"`
	Rank      int             `json:"rank" db:"rank"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// LeaderboardEntry is one row of the balance ranking.
type LeaderboardEntry struct {
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	Badges  int             `json:"badges"`
}
