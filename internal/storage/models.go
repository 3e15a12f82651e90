// Package storage provides persistence for run history and ephemeral keys.
package storage

import (
	"time"

	"github.com/gateway-fm/txbot/pkg/types"
)

// PaginatedRuns is a page of runs, newest first.
type PaginatedRuns struct {
	Runs   []types.Run `json:"runs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// PaginatedSubmissions is a page of a run's submissions in insertion order.
type PaginatedSubmissions struct {
	Submissions []types.Submission `json:"submissions"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// EphemeralAccount is a generated key held for recovery.
type EphemeralAccount struct {
	Address       string    `json:"address"`
	PrivateKeyHex string    `json:"-"`
	Owner         string    `json:"owner"`
	RunID         string    `json:"runId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
