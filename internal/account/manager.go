package account

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"runtime"
	"sync"
)

// BalanceReader reads native balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// Manager generates ephemeral accounts and checks balances.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a new account manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// GenerateEphemeral creates count random accounts.
// Uses parallel key generation for larger counts.
func (m *Manager) GenerateEphemeral(count int) ([]*Account, error) {
	if count <= 0 {
		return nil, nil
	}

	accounts := make([]*Account, count)
	numWorkers := min(runtime.GOMAXPROCS(0), 16, count)

	var wg sync.WaitGroup
	errChan := make(chan error, numWorkers)
	workSize := (count + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * workSize
		end := min(start+workSize, count)
		if start >= count {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				acc, err := Generate()
				if err != nil {
					select {
					case errChan <- fmt.Errorf("key %d: %w", i, err):
					default:
					}
					return
				}
				accounts[i] = acc
			}
		}(start, end)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	m.logger.Debug("generated ephemeral accounts", slog.Int("count", count))
	return accounts, nil
}

// BalanceCheck is the outcome of one balance lookup.
type BalanceCheck struct {
	Account *Account
	Balance *big.Int // nil if the lookup failed
	Err     error
}

// ValidateBalances checks balances of accounts in parallel and splits them into
// funded (>= minBalance) and unfunded groups, preserving input order.
// A failed lookup counts as unfunded.
func (m *Manager) ValidateBalances(ctx context.Context, client BalanceReader, accounts []*Account, minBalance *big.Int) (funded, unfunded []BalanceCheck) {
	if len(accounts) == 0 {
		return nil, nil
	}

	results := make([]BalanceCheck, len(accounts))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 32) // Limit concurrent RPC calls

	for i, acc := range accounts {
		wg.Add(1)
		go func(idx int, acc *Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			balance, err := client.GetBalance(ctx, acc.Address.Hex())
			if err != nil {
				m.logger.Debug("balance check failed",
					slog.String("address", acc.Address.Hex()),
					slog.String("err", err.Error()))
				results[idx] = BalanceCheck{Account: acc, Err: err}
				return
			}
			results[idx] = BalanceCheck{Account: acc, Balance: balance}
		}(i, acc)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err == nil && r.Balance.Cmp(minBalance) >= 0 {
			funded = append(funded, r)
		} else {
			unfunded = append(unfunded, r)
		}
	}
	return funded, unfunded
}
