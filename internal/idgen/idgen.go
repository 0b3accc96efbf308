// Package idgen generates the entity identifiers used across the
// trading core: 128-bit ids for proposals and verses, 256-bit ids for
// positions (spec.md §3), and UUIDs for process-local chain/recovery
// records (spec.md §4.G) where a conventional identifier fits better
// than a wire-sized integer that is never compared on-chain.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ID128 is a 128-bit entity identifier (Proposal, Verse), carried in a
// uint256.Int constrained to its low 128 bits — arena-index friendly
// (spec.md §9: "prefer an arena + 128-bit index") and directly
// comparable/hashable via its Bytes32 form.
type ID128 struct {
	v uint256.Int
}

// ID256 is a 256-bit entity identifier (Position).
type ID256 struct {
	v uint256.Int
}

// NewID128 generates a random 128-bit id.
func NewID128() ID128 {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	var full [32]byte
	copy(full[16:], buf[:])
	var v uint256.Int
	v.SetBytes(full[:])
	return ID128{v: v}
}

// NewID256 generates a random 256-bit id.
func NewID256() ID256 {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	var v uint256.Int
	v.SetBytes(buf[:])
	return ID256{v: v}
}

// Key returns a map-key-safe, comparable representation.
func (id ID128) Key() [32]byte { return id.v.Bytes32() }
func (id ID256) Key() [32]byte { return id.v.Bytes32() }

func (id ID128) String() string { return id.v.Hex() }
func (id ID256) String() string { return id.v.Hex() }

// Equal reports structural equality.
func (id ID128) Equal(other ID128) bool { return id.v.Eq(&other.v) }
func (id ID256) Equal(other ID256) bool { return id.v.Eq(&other.v) }

// IsZero reports whether the id is the zero value (used as a sentinel
// for "no parent"/"unset").
func (id ID128) IsZero() bool { return id.v.IsZero() }

// ChainID is a process-local identifier for a compound chain or
// recovery record (spec.md §4.G).
type ChainID uuid.UUID

// NewChainID generates a fresh chain id.
func NewChainID() ChainID { return ChainID(uuid.New()) }

func (c ChainID) String() string { return uuid.UUID(c).String() }
