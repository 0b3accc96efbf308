package market

import (
	"sync"

	"versecore/internal/apperr"
)

// Verse is a node in the market hierarchy (spec.md §3): proposals live
// under a Verse, and a Verse may itself nest under a parent Verse. Child
// links are held as ids into a VerseArena rather than owned pointers,
// so a halt can walk down without the arena needing a tree of locks.
type Verse struct {
	mu sync.RWMutex

	ID       VerseID
	ParentID VerseID // zero value (IsZero()) means root
	Status   VerseStatus

	childIDs []VerseID
}

// VerseArena owns every Verse in a process and answers hierarchy
// queries (children, ancestors) by id, following the arena + 128-bit
// index pattern used elsewhere in the core to avoid owned child
// pointers across goroutines. It also tracks which Proposals are
// governed by which Verse, so Halt/Recover propagation can flip a
// Proposal's own State alongside its Verse's Status (spec.md §4.F).
type VerseArena struct {
	mu        sync.RWMutex
	verses    map[[32]byte]*Verse
	proposals map[[32]byte][]*Proposal
}

// NewVerseArena constructs an empty arena.
func NewVerseArena() *VerseArena {
	return &VerseArena{
		verses:    make(map[[32]byte]*Verse),
		proposals: make(map[[32]byte][]*Proposal),
	}
}

// RegisterProposal associates a Proposal with the Verse that governs
// it, so a later Halt/Recover on that Verse also flips the Proposal's
// State (spec.md §4.F).
func (a *VerseArena) RegisterProposal(verseID VerseID, p *Proposal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.verses[verseID.Key()]; !ok {
		return apperr.New(apperr.InvariantViolation, "verse not found in arena")
	}
	a.proposals[verseID.Key()] = append(a.proposals[verseID.Key()], p)
	return nil
}

// NewRoot creates and registers a root Verse (no parent).
func (a *VerseArena) NewRoot(id VerseID) *Verse {
	v := &Verse{ID: id, Status: VerseActive}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verses[id.Key()] = v
	return v
}

// NewChild creates and registers a Verse under parentID, failing if the
// parent is not known to this arena.
func (a *VerseArena) NewChild(id, parentID VerseID) (*Verse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, ok := a.verses[parentID.Key()]
	if !ok {
		return nil, apperr.New(apperr.InvariantViolation, "parent verse not found in arena")
	}
	v := &Verse{ID: id, ParentID: parentID, Status: VerseActive}
	a.verses[id.Key()] = v

	parent.mu.Lock()
	parent.childIDs = append(parent.childIDs, id)
	parent.mu.Unlock()
	return v, nil
}

// Get looks up a Verse by id.
func (a *VerseArena) Get(id VerseID) (*Verse, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.verses[id.Key()]
	return v, ok
}

// Children returns the direct child ids of a Verse.
func (v *Verse) Children() []VerseID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]VerseID, len(v.childIDs))
	copy(out, v.childIDs)
	return out
}

// StatusValue returns the current status under a read lock.
func (v *Verse) StatusValue() VerseStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Status
}

// Halt transitions v (and, recursively, every descendant reachable
// through the arena) to Halted, and halts every Proposal registered
// against a visited Verse along with it (spec.md §4.F: "halt
// propagation through a Verse hierarchy"). A Proposal already terminal
// (Resolved) simply ignores the halt.
func (a *VerseArena) Halt(rootID VerseID) error {
	root, ok := a.Get(rootID)
	if !ok {
		return apperr.New(apperr.InvariantViolation, "verse not found in arena")
	}
	return a.walk(root, func(v *Verse) {
		v.mu.Lock()
		v.Status = VerseHalted
		v.mu.Unlock()
	}, func(p *Proposal) {
		_ = p.Halt()
	})
}

// Recover transitions v and its descendants back to Active, and
// recovers every Proposal registered against a visited Verse. Like
// Halt, it applies to every descendant, including one that another
// caller halted independently; callers that need finer control should
// walk Children() themselves instead of using this bulk helper.
func (a *VerseArena) Recover(rootID VerseID) error {
	root, ok := a.Get(rootID)
	if !ok {
		return apperr.New(apperr.InvariantViolation, "verse not found in arena")
	}
	return a.walk(root, func(v *Verse) {
		v.mu.Lock()
		v.Status = VerseActive
		v.mu.Unlock()
	}, func(p *Proposal) {
		_ = p.Recover()
	})
}

// Drain transitions v and its descendants to Draining: no new opens
// anywhere under this subtree, but existing positions may still close
// and be unwound (spec.md §3 VerseStatus semantics). Proposal.State has
// no Draining equivalent, so registered proposals are left untouched.
func (a *VerseArena) Drain(rootID VerseID) error {
	root, ok := a.Get(rootID)
	if !ok {
		return apperr.New(apperr.InvariantViolation, "verse not found in arena")
	}
	return a.walk(root, func(v *Verse) {
		v.mu.Lock()
		v.Status = VerseDraining
		v.mu.Unlock()
	}, nil)
}

// SetParent reassigns id's parent to newParentID, detaching it from its
// current parent's child list first (spec.md §9: Verse reparenting).
// Rejects a reassignment that would create a cycle: id may not become
// its own parent, nor the child of any of its own descendants.
func (a *VerseArena) SetParent(id, newParentID VerseID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.verses[id.Key()]
	if !ok {
		return apperr.New(apperr.InvariantViolation, "verse not found in arena")
	}
	newParent, ok := a.verses[newParentID.Key()]
	if !ok {
		return apperr.New(apperr.InvariantViolation, "new parent verse not found in arena")
	}
	if id.Equal(newParentID) {
		return apperr.New(apperr.InvariantViolation, "verse cannot be its own parent")
	}
	if a.isDescendantLocked(id, newParentID) {
		return apperr.New(apperr.InvariantViolation, "reparenting would create a cycle")
	}

	v.mu.Lock()
	oldParentID := v.ParentID
	v.ParentID = newParentID
	v.mu.Unlock()

	if !oldParentID.IsZero() {
		if oldParent, ok := a.verses[oldParentID.Key()]; ok {
			oldParent.mu.Lock()
			oldParent.childIDs = removeVerseID(oldParent.childIDs, id)
			oldParent.mu.Unlock()
		}
	}

	newParent.mu.Lock()
	newParent.childIDs = append(newParent.childIDs, id)
	newParent.mu.Unlock()
	return nil
}

// isDescendantLocked reports whether candidateID is rootID itself or
// reachable from rootID via child links. Callers must already hold a.mu.
func (a *VerseArena) isDescendantLocked(rootID, candidateID VerseID) bool {
	if rootID.Equal(candidateID) {
		return true
	}
	queue := []VerseID{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		v, ok := a.verses[cur.Key()]
		if !ok {
			continue
		}
		v.mu.RLock()
		children := append([]VerseID(nil), v.childIDs...)
		v.mu.RUnlock()
		for _, c := range children {
			if c.Equal(candidateID) {
				return true
			}
			queue = append(queue, c)
		}
	}
	return false
}

func removeVerseID(ids []VerseID, target VerseID) []VerseID {
	out := ids[:0]
	for _, id := range ids {
		if !id.Equal(target) {
			out = append(out, id)
		}
	}
	return out
}

func (a *VerseArena) walk(root *Verse, applyVerse func(*Verse), applyProposal func(*Proposal)) error {
	queue := []*Verse{root}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		applyVerse(v)
		if applyProposal != nil {
			a.mu.RLock()
			proposals := append([]*Proposal(nil), a.proposals[v.ID.Key()]...)
			a.mu.RUnlock()
			for _, p := range proposals {
				applyProposal(p)
			}
		}
		for _, childID := range v.Children() {
			child, ok := a.Get(childID)
			if !ok {
				return apperr.New(apperr.InvariantViolation, "dangling child id in verse arena")
			}
			queue = append(queue, child)
		}
	}
	return nil
}
