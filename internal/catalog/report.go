package catalog

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/pkg/types"
)

// Operation outcomes recorded in metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected" // refused before any submission
)

// Phase is one batch of an operation.
type Phase struct {
	Name    string
	Results []pipeline.Result
}

// Skip records an intent that was deliberately not attempted.
type Skip struct {
	Address common.Address
	Phase   string
	Reason  string
}

// Report is the outcome of one operation invocation.
type Report struct {
	Kind      types.OperationKind
	Wallet    common.Address
	Quote     gas.Quote
	Phases    []Phase
	Skipped   []Skip
	Ephemeral []account.KeyPair
}

func (r *Report) skip(addr common.Address, phase, reason string) {
	r.Skipped = append(r.Skipped, Skip{Address: addr, Phase: phase, Reason: reason})
}

// Phase returns the named phase, if it ran.
func (r *Report) Phase(name string) (Phase, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// Counts tallies confirmed and failed results and skips.
func (r *Report) Counts() (confirmed, failed, skipped int) {
	for _, p := range r.Phases {
		for _, res := range p.Results {
			if res.OK() {
				confirmed++
			} else {
				failed++
			}
		}
	}
	return confirmed, failed, len(r.Skipped)
}

// Outcome summarizes the report for metrics.
func (r *Report) Outcome() string {
	ok, failed, skipped := r.Counts()
	switch {
	case failed == 0 && skipped == 0 && ok > 0:
		return OutcomeSucceeded
	case ok == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}
