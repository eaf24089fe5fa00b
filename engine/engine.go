// Package engine is the thin composition layer spec.md §2 gestures at but
// places out of scope: it owns transaction lifecycle and drives the lock
// manager and log manager together, without being a SQL engine, a buffer
// pool, or a catalog.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
	"mit.edu/dsg/txncore/common"
	"mit.edu/dsg/txncore/logging"
	"mit.edu/dsg/txncore/transaction"
)

// ATTEntry is a diagnostic snapshot of one active transaction.
type ATTEntry struct {
	ID    common.TransactionID
	State transaction.State
}

type attItem struct {
	id  common.TransactionID
	txn *transaction.Txn
}

func attLess(a, b attItem) bool { return a.id < b.id }

// Engine composes the lock manager and log manager the way spec.md §2
// describes ("composed by the surrounding engine") without reaching into
// either one's internals: Begin/Commit/Abort only ever call the public
// contracts of transaction.LockManager and logging.LogManager.
type Engine struct {
	lockManager *transaction.LockManager
	logManager  logging.LogManager

	nextTxnID atomic.Uint64

	attMu sync.Mutex
	att   *btree.BTreeG[attItem]
}

// NewEngine constructs an Engine. strict2PL is forwarded to the lock
// manager; lm is the log manager to append BEGIN/COMMIT/ABORT records to
// and to block on for commit durability.
func NewEngine(strict2PL bool, lm logging.LogManager) *Engine {
	return &Engine{
		lockManager: transaction.NewLockManager(strict2PL),
		logManager:  lm,
		att:         btree.NewBTreeG(attLess),
	}
}

func (e *Engine) LockManager() *transaction.LockManager { return e.lockManager }
func (e *Engine) LogManager() logging.LogManager         { return e.logManager }

// Begin allocates the next transaction id, appends a BEGIN record, and
// registers the transaction in the Active Transaction Table.
func (e *Engine) Begin() (*transaction.Txn, error) {
	id := common.TransactionID(e.nextTxnID.Add(1))
	txn := transaction.NewTxn(id)

	buf := make([]byte, logging.BeginRecordSize())
	if _, err := e.logManager.Append(logging.NewBeginRecord(buf, id)); err != nil {
		return nil, err
	}

	e.attMu.Lock()
	e.att.Set(attItem{id: id, txn: txn})
	e.attMu.Unlock()
	return txn, nil
}

// Commit appends a COMMIT record, waits for it to be durable before
// releasing anything (so a crash right after Commit returns never loses a
// commit that released its locks), then releases every lock the
// transaction holds and removes it from the ATT.
func (e *Engine) Commit(txn *transaction.Txn) error {
	buf := make([]byte, logging.CommitRecordSize())
	lsn, err := e.logManager.Append(logging.NewCommitRecord(buf, txn.ID()))
	if err != nil {
		return err
	}
	if err := e.logManager.WaitUntilFlushed(lsn); err != nil {
		return err
	}

	txn.SetState(transaction.StateCommitted)
	e.releaseAll(txn)
	e.remove(txn.ID())
	return nil
}

// Abort appends an ABORT record, releases every lock, and removes the
// transaction from the ATT. It does not undo any data the transaction
// wrote — crash/abort recovery is out of scope here; this only guarantees
// the lock and log bookkeeping side of aborting.
func (e *Engine) Abort(txn *transaction.Txn) error {
	buf := make([]byte, logging.AbortRecordSize())
	_, appendErr := e.logManager.Append(logging.NewAbortRecord(buf, txn.ID()))

	txn.SetState(transaction.StateAborted)
	e.releaseAll(txn)
	e.remove(txn.ID())
	return appendErr
}

func (e *Engine) releaseAll(txn *transaction.Txn) {
	for _, rid := range txn.SharedLocks().ToSlice() {
		e.lockManager.Unlock(txn, rid)
	}
	for _, rid := range txn.ExclusiveLocks().ToSlice() {
		e.lockManager.Unlock(txn, rid)
	}
}

func (e *Engine) remove(id common.TransactionID) {
	e.attMu.Lock()
	e.att.Delete(attItem{id: id})
	e.attMu.Unlock()
}

// ActiveTransactions returns a snapshot of currently active transactions
// ordered by id, oldest first — the ordering wait-die reasoning and
// diagnostics both want cheaply.
func (e *Engine) ActiveTransactions() []ATTEntry {
	e.attMu.Lock()
	defer e.attMu.Unlock()

	entries := make([]ATTEntry, 0, e.att.Len())
	e.att.Ascend(attItem{}, func(item attItem) bool {
		entries = append(entries, ATTEntry{ID: item.id, State: item.txn.State()})
		return true
	})
	return entries
}
