// Package nonce hands out gap-free, repeat-free nonces per sender for one session.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Source reports an address's pending transaction count.
type Source interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
}

type cursor struct {
	mu     sync.Mutex
	loaded bool
	base   uint64
	next   uint64
}

// Sequencer owns one cursor per sender. The pending count is read once per
// sender, on first use; every later call returns the previous value plus one.
// Calls for the same sender are serialized; different senders never wait on
// each other.
type Sequencer struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[common.Address]*cursor
}

// NewSequencer creates a session-scoped Sequencer.
func NewSequencer(source Source, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		source:  source,
		logger:  logger,
		cursors: make(map[common.Address]*cursor),
	}
}

func (s *Sequencer) cursorFor(sender common.Address) *cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[sender]
	if !ok {
		c = &cursor{}
		s.cursors[sender] = c
	}
	return c
}

// Next returns the next nonce for sender. If the initial pending-count read
// fails nothing is assigned and the following call reads again.
func (s *Sequencer) Next(ctx context.Context, sender common.Address) (uint64, error) {
	c := s.cursorFor(sender)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		base, err := s.source.GetNonce(ctx, sender.Hex())
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce for %s: %w", sender.Hex(), err)
		}
		c.base, c.next, c.loaded = base, base, true
		s.logger.Debug("nonce cursor initialized",
			slog.String("sender", sender.Hex()),
			slog.Uint64("base", base),
		)
	}

	n := c.next
	c.next++
	return n, nil
}

// Assigned returns the half-open range [base, next) handed out for sender.
// ok is false if sender has no initialized cursor.
func (s *Sequencer) Assigned(sender common.Address) (base, next uint64, ok bool) {
	s.mu.Lock()
	c, exists := s.cursors[sender]
	s.mu.Unlock()
	if !exists {
		return 0, 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return 0, 0, false
	}
	return c.base, c.next, true
}
