package store

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyExists is returned by Insert when the address is taken.
// Concurrent discovery paths race on the unique index and treat this
// as a duplicate, not a failure.
var ErrAlreadyExists = errors.New("token already exists")

// TokenStatus is the lifecycle stage of a discovered token.
// Transitions only move forward (NEW -> GRADUATING -> GRADUATED) or to
// DELISTED from any state, never backward.
type TokenStatus string

const (
	StatusNew        TokenStatus = "NEW"
	StatusGraduating TokenStatus = "GRADUATING"
	StatusGraduated  TokenStatus = "GRADUATED"
	StatusDelisted   TokenStatus = "DELISTED"
)

var statusRank = map[TokenStatus]int{
	StatusNew:        0,
	StatusGraduating: 1,
	StatusGraduated:  2,
}

// CanTransition reports whether a status change is allowed
func CanTransition(from, to TokenStatus) bool {
	if from == to {
		return true
	}
	if to == StatusDelisted {
		return true
	}
	if from == StatusDelisted {
		return false
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// DiscoveredToken is the persistent record of an accepted token.
// Address is the unique key; Decimals is immutable once set.
type DiscoveredToken struct {
	Address        string      `bson:"address" json:"address"`
	Name           string      `bson:"name" json:"name"`
	Symbol         string      `bson:"symbol" json:"symbol"`
	Decimals       uint8       `bson:"decimals" json:"decimals"`
	TotalSupply    string      `bson:"totalSupply" json:"totalSupply"`
	Category       string      `bson:"category" json:"category"`
	Status         TokenStatus `bson:"status" json:"status"`
	CreatorAddress string      `bson:"creatorAddress" json:"creatorAddress"`
	LiquidityUSD   float64     `bson:"liquidityUsd" json:"liquidityUsd"`
	PriceUSD       float64     `bson:"priceUsd" json:"priceUsd"`
	PriceSOL       float64     `bson:"priceSol" json:"priceSol"`
	LaunchDate     time.Time   `bson:"launchDate" json:"launchDate"`

	// Liquidity provenance
	HasLiquidity   bool   `bson:"hasLiquidity" json:"hasLiquidity"`
	SourcePlatform string `bson:"sourcePlatform,omitempty" json:"sourcePlatform,omitempty"`
	PoolAddress    string `bson:"poolAddress,omitempty" json:"poolAddress,omitempty"`

	// Enrichment fields, filled by deferred passes
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	MetadataURI string `bson:"metadataUri,omitempty" json:"metadataUri,omitempty"`
	Website     string `bson:"website,omitempty" json:"website,omitempty"`
	Twitter     string `bson:"twitter,omitempty" json:"twitter,omitempty"`
	Telegram    string `bson:"telegram,omitempty" json:"telegram,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// TokenStore persists discovered tokens in a document collection keyed
// by unique address. This subsystem creates and updates records but
// never deletes them.
type TokenStore interface {
	// FindByAddress returns the token or nil when absent.
	FindByAddress(ctx context.Context, address string) (*DiscoveredToken, error)

	// Exists is a cheap existence probe for the dedup path.
	Exists(ctx context.Context, address string) (bool, error)

	// FindByLaunchDateRange lists tokens launched inside [from, to),
	// newest first, capped at limit.
	FindByLaunchDateRange(ctx context.Context, from, to time.Time, limit int) ([]DiscoveredToken, error)

	// Insert creates a new record. Inserting an existing address fails.
	Insert(ctx context.Context, token *DiscoveredToken) error

	// UpdateFields applies a field-level update. The address key and
	// decimals are never touched by updates.
	UpdateFields(ctx context.Context, address string, fields map[string]interface{}) error

	// UpdateStatus moves the token's status, enforcing forward-only
	// transitions.
	UpdateStatus(ctx context.Context, address string, status TokenStatus) error

	// Ping verifies backend reachability for health probes.
	Ping(ctx context.Context) error

	Close(ctx context.Context) error
}
