// Command versecore-demo walks through one slot of trading on the
// core engine: market creation, a leveraged open, a coverage-breaker
// trip and recovery, a liquidation sweep, and a chain rollback — wired
// end to end across market/amm/position/liquidation/breaker/chain.
package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"versecore/internal/amm"
	"versecore/internal/breaker"
	"versecore/internal/chain"
	"versecore/internal/config"
	"versecore/internal/idgen"
	"versecore/internal/liquidation"
	"versecore/internal/market"
	"versecore/internal/oracle"
	"versecore/internal/position"
	"versecore/internal/telemetry"
	"versecore/pkg/fx"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)

	cfg, err := config.FromFile(config.File{
		LeverageTiers: []config.LeverageTierYAML{
			{OutcomeCount: 2, MaxLeverage: "20"},
		},
		HaltThresholds: market.HaltThresholds{
			MinCoverageRatioBps:   5_000,
			MaxPriceVolatilityBps: 2_000,
		},
		FlashLoanFeeBps: 30,
	})
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Activate(); err != nil {
		log.Fatal("activate config", zap.Error(err))
	}

	arena := market.NewVerseArena()
	rootVerse := idgen.NewID128()
	arena.NewRoot(rootVerse)

	proposalID := idgen.NewID128()
	proposal, err := market.NewProposal(proposalID, rootVerse, 2, 50)
	if err != nil {
		log.Fatal("new proposal", zap.Error(err))
	}
	if err := arena.RegisterProposal(rootVerse, proposal); err != nil {
		log.Fatal("register proposal with verse", zap.Error(err))
	}
	if err := proposal.WithLock(func(p *market.Proposal) error {
		p.BValue = fx.FromInt64(100_000)
		p.Balances[0] = 100_000
		p.Balances[1] = 100_000
		return nil
	}); err != nil {
		log.Fatal("seed proposal liquidity", zap.Error(err))
	}

	kernel, err := amm.ForKind(proposal.Snapshot().AMMKind, amm.DefaultKernelConfig())
	if err != nil {
		log.Fatal("new kernel", zap.Error(err))
	}

	trader := idgen.NewChainID()
	vault := oracle.NewInMemoryVault()
	if err := vault.Deposit(trader.String(), fx.FromInt64(10_000)); err != nil {
		log.Fatal("fund vault", zap.Error(err))
	}
	if err := cfg.DepositVault(fx.FromInt64(2_000_000)); err != nil {
		log.Fatal("fund global vault", zap.Error(err))
	}

	posEngine := position.NewEngine(cfg)
	breakers := breaker.NewMachine(cfg, arena, rootVerse, log)
	coordinator := chain.NewCoordinator(log)
	queue := liquidation.NewQueue(liquidation.MaxQueueSize)

	log.Info("--- scenario 1: leveraged open ---")
	ch := coordinator.Initiate(1)
	pos, err := posEngine.Open(position.OpenParams{
		Owner:             trader,
		Proposal:          proposal,
		Kernel:            kernel,
		Outcome:           0,
		IsLong:            true,
		Size:              fx.FromInt64(100),
		RequestedLeverage: fx.FromInt64(10),
		SlotsElapsed:      1,
	})
	if err != nil {
		log.Fatal("open position", zap.Error(err))
	}
	metrics.ObserveSwap(kernel.Kind().String())
	snap := pos.Snapshot()
	log.Info("position opened",
		zap.String("entry_price", snap.EntryPrice.String()),
		zap.String("liquidation_price", snap.LiquidationPrice.String()))
	if _, err := ch.RecordStep("open position", func() error {
		return cfg.AdjustTotalOI(snap.Size.Neg())
	}); err != nil {
		log.Fatal("record step", zap.Error(err))
	}
	if err := ch.Complete(); err != nil {
		log.Fatal("complete chain", zap.Error(err))
	}
	metrics.ObserveChainCompleted()

	log.Info("--- scenario 2: coverage breaker trip and recovery ---")
	// Leaves 40 in the vault against 100 of open interest: 4_000 bps,
	// under the 5_000 bps threshold.
	if err := cfg.WithdrawVault(fx.FromInt64(1_999_960)); err != nil {
		log.Fatal("drain vault", zap.Error(err))
	}
	if err := breakers.EvaluateCoverage(2); err != nil {
		log.Fatal("evaluate coverage", zap.Error(err))
	}
	if breakers.StateOf(breaker.Coverage) == breaker.StateTripped {
		metrics.ObserveBreakerTrip(string(breaker.Coverage))
		log.Info("coverage breaker tripped", zap.Bool("allows_open", breakers.AllowsOpen()))

		_, openErr := posEngine.Open(position.OpenParams{
			Owner:             idgen.NewChainID(),
			Proposal:          proposal,
			Kernel:            kernel,
			Outcome:           1,
			IsLong:            true,
			Size:              fx.FromInt64(10),
			RequestedLeverage: fx.FromInt64(2),
			SlotsElapsed:      1,
		})
		log.Info("trade attempt while tripped", zap.Error(openErr))
	}
	if err := cfg.DepositVault(fx.FromInt64(1_999_960)); err != nil {
		log.Fatal("refill vault", zap.Error(err))
	}
	if err := breakers.EvaluateCoverage(3); err != nil {
		log.Fatal("evaluate coverage", zap.Error(err))
	}
	if breakers.StateOf(breaker.Coverage) == breaker.StateActive {
		metrics.ObserveBreakerRecover(string(breaker.Coverage))
		log.Info("coverage breaker recovered")
	}

	log.Info("--- scenario 3: mark-price drop triggers liquidation ---")
	lMax, err := cfg.MaxLeverageFor(2)
	if err != nil {
		log.Fatal("max leverage", zap.Error(err))
	}
	crashPrice := fx.Must(fx.FromString("0.5"))
	if err := posEngine.MarkTick(pos, crashPrice, lMax, 10_000); err != nil {
		log.Fatal("mark tick", zap.Error(err))
	}
	snap = pos.Snapshot()
	candidate, added, err := liquidation.BuildCandidate(snap, proposal.ID, crashPrice, 4)
	if err != nil {
		log.Fatal("build candidate", zap.Error(err))
	}
	if added {
		if err := queue.Admit(candidate); err != nil {
			log.Fatal("admit candidate", zap.Error(err))
		}
		metrics.SetQueueDepth("0", 1)
		log.Info("candidate admitted", zap.Int64("priority_score", candidate.PriorityScore))
	}

	resolver := demoResolver{pos: pos, proposal: proposal, kernel: kernel}
	scheduler := liquidation.NewScheduler(queue, posEngine, cfg, resolver, vault, log)
	scheduler.VelocityNotifier = func(notional fx.Fx) {
		if err := breakers.RecordLiquidationVelocity(notional, 4); err != nil {
			log.Error("record liquidation velocity", zap.Error(err))
		}
	}
	result, err := scheduler.ProcessSlot(context.Background(), 4)
	if err != nil {
		log.Fatal("process slot", zap.Error(err))
	}
	if result.Processed > 0 {
		metrics.ObserveLiquidation("0")
	}
	log.Info("liquidation slot processed",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Bool("position_open", pos.Snapshot().Open),
		zap.String("trader_vault_balance", vault.BalanceOf(trader.String()).String()))

	log.Info("--- scenario 4: chain revert ---")
	revertDemo := coordinator.Initiate(5)
	before := cfg.Snapshot()
	if err := cfg.DepositVault(fx.FromInt64(500)); err != nil {
		log.Fatal("deposit", zap.Error(err))
	}
	if _, err := revertDemo.RecordStep("deposit 500", func() error {
		cfg.Restore(before)
		return nil
	}); err != nil {
		log.Fatal("record step", zap.Error(err))
	}
	if err := coordinator.RequestUndo(revertDemo.ID, 5); err != nil {
		log.Fatal("request undo", zap.Error(err))
	}
	metrics.ObserveChainRollback("undo")
	log.Info("chain reverted", zap.String("status", revertDemo.Status.String()),
		zap.String("vault", cfg.Snapshot().Vault.String()))

	fmt.Println("demo complete")
}

// demoResolver is the liquidation.Resolver for this single-position
// walkthrough; a real deployment backs this with its position/proposal
// registries instead of closing over fixed values.
type demoResolver struct {
	pos      *market.Position
	proposal *market.Proposal
	kernel   amm.Kernel
}

func (r demoResolver) Resolve(c *liquidation.Candidate) (*market.Position, *market.Proposal, amm.Kernel, error) {
	return r.pos, r.proposal, r.kernel, nil
}
