package transaction

import (
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"mit.edu/dsg/txncore/common"
)

// State is a transaction's position in the two-phase locking protocol.
// GROWING and SHRINKING are driven by the LockManager; COMMITTED and
// ABORTED are set by whatever engine owns the transaction's lifecycle.
type State int32

const (
	// StateGrowing is the initial state: the transaction may still acquire
	// new locks.
	StateGrowing State = iota
	// StateShrinking means the transaction has released at least one lock
	// (under non-strict 2PL) and may not acquire any more.
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Txn is the transaction handle the LockManager reads and mutates: an id,
// a state, and the two RID sets spec.md §3 specifies. It carries no
// knowledge of locks, pages, or the log beyond that — cyclic references
// are avoided by keying everything off RecordID and TransactionID rather
// than back-pointers (spec.md §9).
type Txn struct {
	id    common.TransactionID
	state atomic.Int32

	shared    mapset.Set[common.RecordID]
	exclusive mapset.Set[common.RecordID]
}

// NewTxn creates a fresh transaction handle in the GROWING state.
func NewTxn(id common.TransactionID) *Txn {
	t := &Txn{
		shared:    mapset.NewThreadUnsafeSet[common.RecordID](),
		exclusive: mapset.NewThreadUnsafeSet[common.RecordID](),
	}
	t.Reset(id)
	return t
}

// Reset reinitializes the handle for reuse with a new id, clearing both
// lock sets without reallocating them. Used when pooling Txn values.
func (t *Txn) Reset(id common.TransactionID) {
	t.id = id
	t.state.Store(int32(StateGrowing))
	t.shared.Clear()
	t.exclusive.Clear()
}

func (t *Txn) ID() common.TransactionID { return t.id }

func (t *Txn) State() State { return State(t.state.Load()) }

func (t *Txn) SetState(s State) { t.state.Store(int32(s)) }

// SharedLocks is the live set of RIDs this transaction holds SHARED. The
// LockManager mutates it directly; callers should treat it as read-only.
func (t *Txn) SharedLocks() mapset.Set[common.RecordID] { return t.shared }

// ExclusiveLocks is the live set of RIDs this transaction holds EXCLUSIVE.
func (t *Txn) ExclusiveLocks() mapset.Set[common.RecordID] { return t.exclusive }
