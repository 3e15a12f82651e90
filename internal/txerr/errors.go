// Package txerr defines the error taxonomy shared by the orchestration engine
// and the classification used to decide whether a failure is worth retrying.
package txerr

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the retry classification of an error.
type Kind int

const (
	// NonRetriable failures are returned to the caller unchanged.
	NonRetriable Kind = iota
	// Transient failures may succeed on a later attempt.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	default:
		return "non-retriable"
	}
}

// TransientNetworkError wraps a timeout or connectivity failure talking to the node.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transient network error: %v", e.Err)
	}
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// InsufficientBalanceError is raised by pre-flight checks before anything is submitted.
type InsufficientBalanceError struct {
	Address common.Address
	Have    *big.Int
	Need    *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %s, need %s", e.Address.Hex(), e.Have, e.Need)
}

// ChainRejectionError is a node rejection at submission time or a reverted receipt.
type ChainRejectionError struct {
	TxHash common.Hash
	Reason string
	Err    error
}

func (e *ChainRejectionError) Error() string {
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("rejected by chain: %s", e.Reason)
	}
	return fmt.Sprintf("tx %s rejected by chain: %s", e.TxHash.Hex(), e.Reason)
}

func (e *ChainRejectionError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// transient is implemented by errors that know their own retry class,
// for example rpc.HTTPStatusError.
type transient interface {
	Transient() bool
}

// Classify maps an error onto the closed {Transient, NonRetriable} set.
// Context cancellation is never transient.
func Classify(err error) Kind {
	if err == nil {
		return NonRetriable
	}
	if errors.Is(err, context.Canceled) {
		return NonRetriable
	}

	var tne *TransientNetworkError
	if errors.As(err, &tne) {
		return Transient
	}

	var rej *ChainRejectionError
	if errors.As(err, &rej) {
		return NonRetriable
	}

	var t transient
	if errors.As(err, &t) {
		if t.Transient() {
			return Transient
		}
		return NonRetriable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	return NonRetriable
}

// IsTransient is shorthand for Classify(err) == Transient.
func IsTransient(err error) bool {
	return Classify(err) == Transient
}
