package liquidation

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"versecore/internal/amm"
	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/internal/oracle"
	"versecore/internal/position"
	"versecore/pkg/fx"
)

const (
	// Shards is S=4 worker shards (spec.md §4.E).
	Shards = 4
	// LiquidationsPerSlot is the per-slot processing budget.
	LiquidationsPerSlot = 1_600
	// Batch is the per-shard draw size per slot.
	Batch = 400
	// MaxAttempts is the retry ceiling before dead-lettering a candidate.
	MaxAttempts = 3
)

// Resolver looks up the live objects a Candidate needs to be
// re-verified and closed: its Position, the owning Proposal, and the
// Kernel quoting that Proposal. The scheduler owns no storage of its
// own; callers wire a Resolver backed by whatever registry they keep.
type Resolver interface {
	Resolve(c *Candidate) (*market.Position, *market.Proposal, amm.Kernel, error)
}

// SlotResult summarizes one call to ProcessSlot, mirroring the
// reference engine's ProcessingResult.
type SlotResult struct {
	Processed         int
	Failed            int
	DeadLettered      int
	RemainingCapacity int
}

// Scheduler runs the S=4-shard liquidation worker protocol of
// spec.md §4.E against a Queue.
type Scheduler struct {
	queue    *Queue
	engine   *position.Engine
	cfg      *market.GlobalConfig
	resolver Resolver
	vault    oracle.CollateralVault
	log      *zap.Logger

	mu                  sync.Mutex
	liquidationsThisSlot int
	currentSlot          uint64
	deadLetter           []*Candidate

	// VelocityNotifier feeds the coverage & circuit-breaker component
	// (spec.md §4.F) liquidated notional for its cascade breaker.
	VelocityNotifier func(liquidatedNotional fx.Fx)
}

// NewScheduler constructs a Scheduler bound to a Queue, a position
// Engine, the GlobalConfig (for leverage-tier lookups), a Resolver, and
// the CollateralVault contract (spec.md §6) that receives the margin +
// realized PnL owed back to the position owner on a liquidation close.
func NewScheduler(queue *Queue, engine *position.Engine, cfg *market.GlobalConfig, resolver Resolver, vault oracle.CollateralVault, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{queue: queue, engine: engine, cfg: cfg, resolver: resolver, vault: vault, log: log}
}

// ProcessSlot implements the per-shard worker protocol of spec.md §4.E
// for a single slot: each of the Shards goroutines drains up to Batch
// candidates, re-verifies health against the current mark price, and
// executes the close. Shards do not share mutable state for their
// inflight batch; the queue's admission point is the only
// synchronization the protocol requires.
func (s *Scheduler) ProcessSlot(ctx context.Context, slot uint64) (SlotResult, error) {
	s.mu.Lock()
	if slot > s.currentSlot {
		s.currentSlot = slot
		s.liquidationsThisSlot = 0
	}
	remaining := LiquidationsPerSlot - s.liquidationsThisSlot
	s.mu.Unlock()

	if remaining <= 0 {
		return SlotResult{RemainingCapacity: 0}, nil
	}

	perShardBatch := Batch
	if perShardBatch*Shards > remaining {
		perShardBatch = remaining / Shards
		if perShardBatch == 0 {
			perShardBatch = 1
		}
	}

	var (
		mu                    sync.Mutex
		totalProcessed        int
		totalFailed           int
		totalDeadLettered     int
	)

	g, gCtx := errgroup.WithContext(ctx)
	for shard := 0; shard < Shards; shard++ {
		shard := shard
		g.Go(func() error {
			batch := s.queue.NextBatch(perShardBatch)
			processed, failed, deadLettered := s.processBatch(gCtx, batch, shard, slot)
			mu.Lock()
			totalProcessed += processed
			totalFailed += failed
			totalDeadLettered += deadLettered
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SlotResult{}, err
	}

	s.mu.Lock()
	s.liquidationsThisSlot += totalProcessed
	remainingCapacity := LiquidationsPerSlot - s.liquidationsThisSlot
	s.mu.Unlock()

	return SlotResult{
		Processed:         totalProcessed,
		Failed:            totalFailed,
		DeadLettered:      totalDeadLettered,
		RemainingCapacity: remainingCapacity,
	}, nil
}

func (s *Scheduler) processBatch(ctx context.Context, batch []*Candidate, shard int, slot uint64) (processed, failed, deadLettered int) {
	for _, c := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.Attempts > 0 && c.AddedSlot >= slot {
			// Requeued this slot after a transient failure: hold it
			// back until a later slot.
			if requeueErr := s.queue.Requeue(c); requeueErr != nil {
				s.log.Error("liquidation: requeue failed", zap.Error(requeueErr))
			}
			continue
		}

		pos, proposal, kernel, err := s.resolver.Resolve(c)
		if err != nil {
			s.log.Warn("liquidation: resolve failed, skipping candidate",
				zap.String("position_id", c.PositionID.String()), zap.Error(err))
			continue
		}

		snap := pos.Snapshot()
		if !snap.Open {
			continue // already closed elsewhere; silently skip, not a failure
		}

		quote, err := kernel.Quote(proposal, snap.Outcome)
		if err != nil {
			failed++
			continue
		}
		if !position.IsUnhealthy(quote.Price, snap) {
			// Health recovered since enqueue; spec.md §4.E step 2:
			// "stale entries are silently skipped, not failed".
			continue
		}

		lMax, err := s.cfg.MaxLeverageFor(proposal.Snapshot().Outcomes)
		if err != nil {
			failed++
			continue
		}

		var slotsElapsed uint64
		if slot > c.AddedSlot {
			slotsElapsed = slot - c.AddedSlot
		}
		payout, closeErr := s.engine.Close(pos, proposal, kernel, lMax, slotsElapsed, quote.Price, true)
		if closeErr != nil {
			kind := apperr.KindOf(closeErr)
			if kind == apperr.AMMInvariantViolation || kind == apperr.NonConvergence {
				c.Attempts++
				if c.Attempts >= MaxAttempts {
					s.mu.Lock()
					s.deadLetter = append(s.deadLetter, c)
					s.mu.Unlock()
					deadLettered++
					s.log.Error("liquidation: candidate moved to dead letter after max attempts",
						zap.String("position_id", c.PositionID.String()), zap.Error(closeErr))
					continue
				}
				c.AddedSlot = slot // cooldown of at least 1 slot before retry
				if requeueErr := s.queue.Requeue(c); requeueErr != nil {
					s.log.Error("liquidation: requeue failed", zap.Error(requeueErr))
				}
				failed++
				continue
			}
			if kind == apperr.PositionHealthy {
				continue
			}
			failed++
			s.log.Error("liquidation: close failed", zap.String("position_id", c.PositionID.String()), zap.Error(closeErr))
			continue
		}

		if s.vault != nil && payout.Sign() > 0 {
			if depErr := s.vault.Deposit(snap.Owner, payout); depErr != nil {
				s.log.Error("liquidation: vault deposit failed",
					zap.String("position_id", c.PositionID.String()), zap.Error(depErr))
			}
		}
		processed++
		if s.VelocityNotifier != nil {
			s.VelocityNotifier(snap.Size)
		}
	}
	return
}

// DeadLetter returns a snapshot of candidates that exhausted
// MaxAttempts, for operator inspection.
func (s *Scheduler) DeadLetter() []*Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Candidate, len(s.deadLetter))
	copy(out, s.deadLetter)
	return out
}
