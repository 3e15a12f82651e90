package storage

import (
	"context"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.Run) error
	UpdateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error

	// Per-intent outcomes, written after each operation finishes
	BulkInsertSubmissions(ctx context.Context, runID string, subs []types.Submission) error
	GetSubmissions(ctx context.Context, runID string, limit, offset int) (*PaginatedSubmissions, error)
	GetSubmissionByHash(ctx context.Context, txHash string) (*types.Submission, error)

	// Lifecycle
	Close() error
}

// KeyStorage persists ephemeral keys so tokens and gas left on them can be
// recovered after a crash or a failed return leg.
type KeyStorage interface {
	SaveEphemeralAccounts(ctx context.Context, runID, owner string, keys []account.KeyPair) error
	ListEphemeralAccounts(ctx context.Context, owner string) ([]EphemeralAccount, error)
}
