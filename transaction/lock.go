// Package transaction implements record-granularity two-phase locking with
// wait-die deadlock prevention.
package transaction

import (
	"fmt"
	"sync"

	lock "github.com/viney-shih/go-lock"
	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/txncore/common"
)

// LockMode is the access mode a transaction is requesting or holding on a
// RecordID. Unlike multi-granularity locking, this module only locks at
// tuple granularity, so there are no intent modes.
type LockMode int

const (
	// LockModeShared allows reading a record. Multiple transactions can
	// hold SHARED locks on the same record at once.
	LockModeShared LockMode = iota
	// LockModeExclusive allows modifying a record. Incompatible with every
	// other mode, including another EXCLUSIVE.
	LockModeExclusive
	// LockModeUpgrading is the transient mode a SHARED holder occupies
	// while waiting to become EXCLUSIVE. It is never requested directly.
	LockModeUpgrading
)

func (m LockMode) String() string {
	switch m {
	case LockModeShared:
		return "SHARED"
	case LockModeExclusive:
		return "EXCLUSIVE"
	case LockModeUpgrading:
		return "UPGRADING"
	}
	return "UNKNOWN"
}

// lockRequest is one entry in a RID's wait queue: (txn_id, mode, granted).
// Each request owns a private wake-up primitive so Grant can wake exactly
// the intended waiter instead of broadcasting to everyone on the queue.
type lockRequest struct {
	txnID   common.TransactionID
	mode    LockMode
	granted bool
	cond    *sync.Cond
}

// lockQueue is the per-RID lock queue: an ordered sequence of requests plus
// the flags spec.md §3 calls out. The granted prefix of requests is always
// mode-compatible (I1): either every granted entry is SHARED, or there is
// exactly one granted entry and it is EXCLUSIVE.
type lockQueue struct {
	rid          common.RecordID
	mutex        lock.Mutex
	requests     []*lockRequest
	hasUpgrading bool
}

func newLockQueue() *lockQueue {
	return &lockQueue{
		mutex:    lock.NewCASMutex(),
		requests: make([]*lockRequest, 0, 4),
	}
}

// initialize and invalidate implement the pool-recycling dance in
// LockManager.queueFor: a queue pulled from the pool is re-tagged with the
// RID it now serves, and before being returned to the pool it is retagged
// with InvalidRecordID so any goroutine still holding a stale reference
// notices on its next stale check and retries.
func (q *lockQueue) initialize(rid common.RecordID) {
	q.rid = rid
	q.requests = q.requests[:0]
	q.hasUpgrading = false
}

func (q *lockQueue) invalidate() {
	q.rid = common.InvalidRecordID
}

// canGrant reports whether a new request in the given mode can join the
// granted prefix immediately: the queue is empty, or every existing
// request is granted, the new request is SHARED, and the tail is SHARED.
func (q *lockQueue) canGrant(mode LockMode) bool {
	if len(q.requests) == 0 {
		return true
	}
	if mode != LockModeShared {
		return false
	}
	for _, r := range q.requests {
		if !r.granted {
			return false
		}
	}
	return q.requests[len(q.requests)-1].mode == LockModeShared
}

func (q *lockQueue) hasGrantedHolder() bool {
	for _, r := range q.requests {
		if r.granted {
			return true
		}
	}
	return false
}

func (q *lockQueue) indexOf(tid common.TransactionID) int {
	for i, r := range q.requests {
		if r.txnID == tid {
			return i
		}
	}
	return -1
}

// grant flips a request to granted, reclassifying UPGRADING to EXCLUSIVE
// and clearing hasUpgrading, then wakes its private waiter.
func (q *lockQueue) grant(r *lockRequest) {
	if r.mode == LockModeUpgrading {
		r.mode = LockModeExclusive
		q.hasUpgrading = false
	}
	r.granted = true
	if r.cond != nil {
		r.cond.Signal()
	}
}

// lock runs the grant-or-wait-or-die decision for a plain SHARED/EXCLUSIVE
// request. Caller holds q.mutex; lock releases it across the wait (via
// cond.Wait) and always returns with it held again.
func (q *lockQueue) lock(tid common.TransactionID, mode LockMode) error {
	if q.canGrant(mode) {
		q.requests = append(q.requests, &lockRequest{txnID: tid, mode: mode, granted: true})
		return nil
	}

	tail := q.requests[len(q.requests)-1]
	if tid > tail.txnID {
		return waitDieError(tid, tail.txnID)
	}

	req := &lockRequest{txnID: tid, mode: mode, cond: sync.NewCond(q.mutex)}
	q.requests = append(q.requests, req)
	for !req.granted {
		req.cond.Wait()
	}
	return nil
}

// removeRequest deletes the granted request belonging to tid and returns
// its mode. It panics if tid holds nothing on this queue or holds an
// ungranted request — both are caller contract violations, not conditions
// Unlock is meant to handle gracefully.
func (q *lockQueue) removeRequest(tid common.TransactionID) LockMode {
	idx := q.indexOf(tid)
	common.Assert(idx != -1, "unlock called for txn %d with no lock on %v", tid, q.rid)
	r := q.requests[idx]
	common.Assert(r.granted, "unlock called for txn %d's ungranted request on %v", tid, q.rid)
	q.requests = append(q.requests[:idx], q.requests[idx+1:]...)
	return r.mode
}

// grantWaitingPrefix runs the Unlock wake-up scan from spec.md §4.1: walk
// from the head, stop at the first still-granted entry (other concurrent
// holders mean nothing new can be granted yet); otherwise grant SHARED
// entries in order until a non-SHARED entry is granted, then stop.
func (q *lockQueue) grantWaitingPrefix() {
	for _, r := range q.requests {
		if r.granted {
			return
		}
		q.grant(r)
		if r.mode != LockModeShared {
			return
		}
	}
}

// LockManager grants and releases record locks, enforcing 2PL and
// preventing deadlock via wait-die. The lock table maps RID to lockQueue;
// entries are created on first request and removed once their queue is
// empty, following the node-pinned-map pattern spec.md §9 calls for so
// that a waiter's reference to its queue never dangles.
type LockManager struct {
	strict2PL bool
	lockTable *xsync.MapOf[common.RecordID, *lockQueue]
	queuePool sync.Pool
}

// NewLockManager constructs a LockManager. strict2PL selects between
// strict 2PL (locks release only at commit/abort) and plain 2PL (the first
// Unlock moves the transaction from GROWING to SHRINKING).
func NewLockManager(strict2PL bool) *LockManager {
	return &LockManager{
		strict2PL: strict2PL,
		lockTable: xsync.NewMapOf[common.RecordID, *lockQueue](),
		queuePool: sync.Pool{
			New: func() any { return newLockQueue() },
		},
	}
}

// queueFor returns the queue for rid, creating it if absent, with its
// mutex already held by the caller. Mirrors the get-or-create loop this
// module's lineage uses for its own pooled, concurrent-map-backed lock
// table: load, and on a stale race (the entry was deleted and possibly
// replaced between Load and Lock), retry.
func (lm *LockManager) queueFor(rid common.RecordID) *lockQueue {
	for {
		q, ok := lm.lockTable.Load(rid)
		if !ok {
			candidate := lm.queuePool.Get().(*lockQueue)
			candidate.mutex.Lock()
			candidate.initialize(rid)
			actual, loaded := lm.lockTable.LoadOrStore(rid, candidate)
			if loaded {
				candidate.invalidate()
				candidate.mutex.Unlock()
				lm.queuePool.Put(candidate)
				q = actual
				q.mutex.Lock()
			} else {
				q = candidate
			}
		} else {
			q.mutex.Lock()
		}

		if q.rid != rid {
			q.mutex.Unlock()
			continue
		}
		return q
	}
}

// releaseQueueIfEmpty removes rid's queue from the lock table and returns
// it to the pool once its request list is empty, invalidating it first so
// any goroutine that already loaded it notices the race on its next stale
// check. Caller holds q.mutex and releases ownership of q by calling this.
func (lm *LockManager) releaseQueueIfEmpty(rid common.RecordID, q *lockQueue) {
	if len(q.requests) != 0 {
		q.mutex.Unlock()
		return
	}
	lm.lockTable.Delete(rid)
	q.invalidate()
	q.mutex.Unlock()
	lm.queuePool.Put(q)
}

// LockShared acquires a SHARED lock on rid for txn, blocking until granted
// or until wait-die forces an abort.
func (lm *LockManager) LockShared(txn *Txn, rid common.RecordID) bool {
	return lm.acquire(txn, rid, LockModeShared)
}

// LockExclusive acquires an EXCLUSIVE lock on rid for txn, blocking until
// granted or until wait-die forces an abort.
func (lm *LockManager) LockExclusive(txn *Txn, rid common.RecordID) bool {
	return lm.acquire(txn, rid, LockModeExclusive)
}

func (lm *LockManager) acquire(txn *Txn, rid common.RecordID, mode LockMode) bool {
	if txn.State() != StateGrowing {
		txn.SetState(StateAborted)
		return false
	}

	q := lm.queueFor(rid)
	err := q.lock(txn.ID(), mode)
	q.mutex.Unlock()
	if err != nil {
		txn.SetState(StateAborted)
		return false
	}

	if mode == LockModeShared {
		txn.SharedLocks().Add(rid)
	} else {
		txn.ExclusiveLocks().Add(rid)
	}
	return true
}

// LockUpgrade promotes txn's granted SHARED hold on rid to EXCLUSIVE. It
// requires a prior granted SHARED entry and that no other upgrade is
// already pending on rid; both are checked atomically under the queue
// mutex, per spec.md §4.1.
func (lm *LockManager) LockUpgrade(txn *Txn, rid common.RecordID) bool {
	if txn.State() != StateGrowing {
		txn.SetState(StateAborted)
		return false
	}

	q := lm.queueFor(rid)

	if q.hasUpgrading {
		q.mutex.Unlock()
		txn.SetState(StateAborted)
		return false
	}
	idx := q.indexOf(txn.ID())
	if idx == -1 || !q.requests[idx].granted || q.requests[idx].mode != LockModeShared {
		q.mutex.Unlock()
		txn.SetState(StateAborted)
		return false
	}

	q.requests = append(q.requests[:idx], q.requests[idx+1:]...)
	txn.SharedLocks().Remove(rid)

	if !q.hasGrantedHolder() {
		req := &lockRequest{txnID: txn.ID(), mode: LockModeUpgrading}
		q.requests = append(q.requests, req)
		q.grant(req)
		q.mutex.Unlock()
		txn.ExclusiveLocks().Add(rid)
		return true
	}

	if len(q.requests) > 0 && txn.ID() > q.requests[len(q.requests)-1].txnID {
		q.mutex.Unlock()
		txn.SetState(StateAborted)
		return false
	}

	q.hasUpgrading = true
	req := &lockRequest{txnID: txn.ID(), mode: LockModeUpgrading, cond: sync.NewCond(q.mutex)}
	q.requests = append(q.requests, req)
	for !req.granted {
		req.cond.Wait()
	}
	q.mutex.Unlock()
	txn.ExclusiveLocks().Add(rid)
	return true
}

// Unlock releases whatever lock txn holds on rid and wakes any successors
// the release makes grantable. Under strict 2PL, unlocking before the
// transaction is COMMITTED or ABORTED is itself a contract violation: it
// aborts the transaction and returns false instead of releasing anything.
func (lm *LockManager) Unlock(txn *Txn, rid common.RecordID) bool {
	if lm.strict2PL {
		if txn.State() != StateCommitted && txn.State() != StateAborted {
			txn.SetState(StateAborted)
			return false
		}
	} else if txn.State() == StateGrowing {
		txn.SetState(StateShrinking)
	}

	q, ok := lm.lockTable.Load(rid)
	common.Assert(ok, "unlock called for %v with no lock queue", rid)
	q.mutex.Lock()
	common.Assert(q.rid == rid, "lock manager unlock called on stale queue for %v", rid)

	mode := q.removeRequest(txn.ID())
	if mode == LockModeShared {
		txn.SharedLocks().Remove(rid)
	} else {
		txn.ExclusiveLocks().Remove(rid)
	}

	q.grantWaitingPrefix()
	lm.releaseQueueIfEmpty(rid, q)
	return true
}

func waitDieError(tid, tail common.TransactionID) error {
	return common.GoDBError{
		Code:      common.WaitDieAbortError,
		ErrString: fmt.Sprintf("wait-die: txn %d is younger than queue tail txn %d", tid, tail),
	}
}
