package provider

import (
	"context"
	"time"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/identity"
)

// Capabilities advertises the optional behaviour an adapter supports.
// The engine consults it instead of probing for methods.
type Capabilities struct {
	SupportsDryRun  bool `json:"supports_dry_run"`
	SupportsCancel  bool `json:"supports_cancel"`
	SupportsTimeout bool `json:"supports_timeout"`
	Bidirectional   bool `json:"bidirectional"`
	StatusStream    bool `json:"status_stream"`
	BulkWrite       bool `json:"bulk_write"`
	Activities      bool `json:"activities"`
}

// ProgressFunc receives paging progress. total is 0 when unknown.
type ProgressFunc func(done, total int)

// Provider is one remote watchlist.
//
// Add and Remove report whether the item is now present (or absent); the
// provider's "already there" and "already gone" answers count as success.
type Provider interface {
	Name() models.Side
	Capabilities() Capabilities
	// Validate checks that the adapter has the credentials it needs.
	Validate() error
	List(ctx context.Context, progress ProgressFunc) ([]identity.RawItem, error)
	Add(ctx context.Context, item models.Item) (bool, error)
	Remove(ctx context.Context, item models.Item) (bool, error)
	AuthProbe(ctx context.Context) (bool, error)
}

// BulkResult reports the outcome of a bulk write per item.
type BulkResult struct {
	OK     []models.Key
	Failed map[models.Key]error
}

// BulkWriter is implemented by adapters with Capabilities.BulkWrite.
// Items in one call all share a kind.
type BulkWriter interface {
	AddBulk(ctx context.Context, kind models.Kind, items []models.Item) (BulkResult, error)
	RemoveBulk(ctx context.Context, kind models.Kind, items []models.Item) (BulkResult, error)
}

// ActivityReader is implemented by adapters with Capabilities.Activities.
// It returns per-type change timestamps used to skip unchanged reads.
type ActivityReader interface {
	Activities(ctx context.Context) (map[string]string, error)
	// ListKind reads only one media kind.
	ListKind(ctx context.Context, kind models.Kind, progress ProgressFunc) ([]identity.RawItem, error)
}

// Status is what an adapter last observed.
type Status struct {
	Side      models.Side `json:"side"`
	LastRead  *time.Time  `json:"last_read,omitempty"`
	Total     int         `json:"total"`
	LastError string      `json:"last_error,omitempty"`
}

// StatusReporter is implemented by adapters with Capabilities.StatusStream.
type StatusReporter interface {
	Status() Status
}

// TokenRefresher is implemented by adapters whose credentials expire.
type TokenRefresher interface {
	EnsureToken(ctx context.Context) error
}

// Factory builds the adapters for one run from that run's settings.
type Factory func(s config.Settings) (map[models.Side]Provider, error)
