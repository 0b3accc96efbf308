// Package chain implements the chain & recovery coordinator of
// spec.md §4.G: an ordered sequence of steps that must appear to
// execute atomically, reverted by walking recorded pre-images in
// reverse. The coordinator owns no business rules of its own; it
// relies on the step-level Restore closures supplied by callers
// (backed by market.Proposal/Position/GlobalConfig's own Restore
// methods) to validate that a revert preserves invariants.
package chain

import (
	"sync"

	"go.uber.org/zap"

	"versecore/internal/apperr"
	"versecore/internal/idgen"
)

// MaxSteps bounds a chain to a fixed K (spec.md §4.G: "up to K steps").
const MaxSteps = 16

// MaxRecoveryAttempts is the ceiling on on-chain revert attempts
// before a recovery record is marked Failed (spec.md §4.G).
const MaxRecoveryAttempts = 3

// DefaultUndoWindowSlots is the client-facing cancellation window,
// expressed in slots. spec.md §4.G gives the window as "default 5
// seconds, expressed in slots"; lacking a named slot duration in the
// spec, this assumes a 500ms slot (2 slots/sec), matching the
// compute-budget cadence implied elsewhere in the core.
const DefaultUndoWindowSlots = 10

// DefaultRecoveryTimeoutSlots bounds how long after the undo window a
// recovery record may still be filed (spec.md §4.G: "within
// RECOVERY_TIMEOUT slots").
const DefaultRecoveryTimeoutSlots = 1_200

// Status is the chain state machine (spec.md §4.G): Initiated ->
// InProgress -> (Completed | Failed | TimedOut).
type Status int

const (
	Initiated Status = iota
	InProgress
	Completed
	Failed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Initiated:
		return "Initiated"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Step is one recorded pre-image. Restore must be idempotent: calling
// it again on an already-reverted step is a no-op (spec.md §4.G).
type Step struct {
	Description string
	Restore     func() error
	reverted    bool
}

// Chain is an in-progress or completed atomic sequence.
type Chain struct {
	mu sync.Mutex

	ID            idgen.ChainID
	InitiatedSlot uint64
	Status        Status
	Steps         []*Step

	FailDiagnostic string

	recoveryActive   bool
	recoveryAttempts int
}

// RecordStep appends a pre-image to the chain, enforcing MaxSteps and
// moving Initiated -> InProgress on the first step.
func (ch *Chain) RecordStep(description string, restore func() error) (*Step, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.Status != Initiated && ch.Status != InProgress {
		return nil, apperr.Newf(apperr.InvariantViolation, "cannot record a step on a %s chain", ch.Status)
	}
	if len(ch.Steps) >= MaxSteps {
		return nil, apperr.Newf(apperr.InvariantViolation, "chain exceeds max %d steps", MaxSteps)
	}

	step := &Step{Description: description, Restore: restore}
	ch.Steps = append(ch.Steps, step)
	ch.Status = InProgress
	return step, nil
}

// Complete marks the chain terminal-success.
func (ch *Chain) Complete() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.Status != InProgress && ch.Status != Initiated {
		return apperr.Newf(apperr.InvariantViolation, "cannot complete a %s chain", ch.Status)
	}
	ch.Status = Completed
	return nil
}

// revertLocked walks Steps in reverse, restoring each pre-image once.
// If a step's Restore itself fails (its invariant would be violated),
// the revert aborts, FailDiagnostic names the offending step, and the
// error is returned; setting Status is left to the caller (spec.md §4.G).
func (ch *Chain) revertLocked() error {
	for i := len(ch.Steps) - 1; i >= 0; i-- {
		step := ch.Steps[i]
		if step.reverted {
			continue
		}
		if err := step.Restore(); err != nil {
			ch.FailDiagnostic = "revert aborted at step \"" + step.Description + "\": " + err.Error()
			return err
		}
		step.reverted = true
	}
	return nil
}

// RevertInSlot performs the in-slot revert: a later step in the same
// slot failed, so every recorded step reverts immediately. Idempotent.
func (ch *Chain) RevertInSlot() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.revertLocked(); err != nil {
		return err
	}
	ch.Status = Failed
	return nil
}

// Coordinator runs the chain registry and recovery protocol of
// spec.md §4.G.
type Coordinator struct {
	mu                   sync.Mutex
	chains               map[[16]byte]*Chain
	log                  *zap.Logger
	undoWindowSlots      uint64
	recoveryTimeoutSlots uint64
}

// NewCoordinator constructs a Coordinator with the default undo window
// and recovery timeout.
func NewCoordinator(log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		chains:               make(map[[16]byte]*Chain),
		log:                  log,
		undoWindowSlots:      DefaultUndoWindowSlots,
		recoveryTimeoutSlots: DefaultRecoveryTimeoutSlots,
	}
}

// Initiate starts a new chain at the current slot.
func (c *Coordinator) Initiate(slot uint64) *Chain {
	ch := &Chain{ID: idgen.NewChainID(), InitiatedSlot: slot, Status: Initiated}
	c.mu.Lock()
	c.chains[chainKey(ch.ID)] = ch
	c.mu.Unlock()
	c.log.Info("chain initiated", zap.String("chain_id", ch.ID.String()), zap.Uint64("slot", slot))
	return ch
}

// Get looks up a chain by id.
func (c *Coordinator) Get(id idgen.ChainID) (*Chain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chains[chainKey(id)]
	return ch, ok
}

// RequestUndo implements the client-facing undo window: inside
// UndoWindowSlots of initiation, runs the reverse sequence. The
// recoveryActive flag is claimed and released as its own short
// critical section, separate from the one guarding the revert itself,
// so a concurrent call fails fast with RecoveryAlreadyActive instead
// of blocking for the duration of the revert.
func (c *Coordinator) RequestUndo(id idgen.ChainID, currentSlot uint64) error {
	ch, ok := c.Get(id)
	if !ok {
		return apperr.New(apperr.RecoveryNotFound, "chain not found")
	}

	ch.mu.Lock()
	if ch.recoveryActive {
		ch.mu.Unlock()
		return apperr.New(apperr.RecoveryAlreadyActive, "a recovery operation is already running for this chain")
	}
	if currentSlot > ch.InitiatedSlot+c.undoWindowSlots {
		ch.mu.Unlock()
		return apperr.New(apperr.InvariantViolation, "undo window elapsed; file an on-chain recovery instead")
	}
	ch.recoveryActive = true
	ch.mu.Unlock()

	defer func() {
		ch.mu.Lock()
		ch.recoveryActive = false
		ch.mu.Unlock()
	}()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.revertLocked(); err != nil {
		return err
	}
	ch.Status = Failed
	c.log.Info("chain undone within window", zap.String("chain_id", id.String()), zap.Uint64("slot", currentSlot))
	return nil
}

// FileRecovery attempts an on-chain revert for a chain past its undo
// window. Concurrent recovery attempts against the same chain fail
// with RecoveryAlreadyActive. After MaxRecoveryAttempts failed tries
// the chain is marked Failed permanently; past RecoveryTimeoutSlots it
// is marked TimedOut instead of being retried.
func (c *Coordinator) FileRecovery(id idgen.ChainID, currentSlot uint64) error {
	ch, ok := c.Get(id)
	if !ok {
		return apperr.New(apperr.RecoveryNotFound, "chain not found")
	}

	ch.mu.Lock()
	if ch.recoveryActive {
		ch.mu.Unlock()
		return apperr.New(apperr.RecoveryAlreadyActive, "a recovery operation is already running for this chain")
	}
	if currentSlot > ch.InitiatedSlot+c.recoveryTimeoutSlots {
		ch.Status = TimedOut
		ch.mu.Unlock()
		return apperr.New(apperr.Timeout, "recovery filed past RECOVERY_TIMEOUT slots")
	}
	if ch.recoveryAttempts >= MaxRecoveryAttempts {
		ch.mu.Unlock()
		return apperr.New(apperr.MaxRecoveryAttemptsExceeded, "recovery already exhausted its attempt budget")
	}
	ch.recoveryActive = true
	ch.recoveryAttempts++
	ch.mu.Unlock()

	defer func() {
		ch.mu.Lock()
		ch.recoveryActive = false
		ch.mu.Unlock()
	}()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.revertLocked(); err != nil {
		if ch.recoveryAttempts >= MaxRecoveryAttempts {
			ch.Status = Failed
		}
		return err
	}
	ch.Status = Failed // revert succeeded; the chain's net effect is still "did not complete"
	c.log.Info("chain recovered on-chain", zap.String("chain_id", id.String()), zap.Int("attempt", ch.recoveryAttempts))
	return nil
}

func chainKey(id idgen.ChainID) [16]byte {
	return [16]byte(id)
}
